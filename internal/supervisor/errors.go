package supervisor

import "fmt"

// SpawnError reports a failure to create the runtime process or its pipes.
// The session never reached the running state.
type SpawnError struct {
	Op     string
	Script string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %s: %v", e.Script, e.Op, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
