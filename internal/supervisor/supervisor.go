// Package supervisor owns the scripted runtime's OS process for one session:
// it creates the output pipes, spawns the runtime, waits for the stop signal
// and force-kills the process tree.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	logpkg "github.com/agent-racer/scripthost/internal/log"
)

const (
	defaultPollInterval = 100 * time.Millisecond

	// drainGrace bounds how long output is drained after the kill before the
	// read ends are closed underneath any straggling writer.
	drainGrace = 500 * time.Millisecond

	scannerInitialBufferSize = 64 * 1024
	scannerMaxBufferSize     = 1024 * 1024
)

// Stream names one of the runtime's output streams.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Sample is a resource reading of the runtime process.
type Sample struct {
	PID        int
	RSS        uint64
	CPUPercent float64
	At         time.Time
}

// Supervisor spawns and supervises the scripted runtime. A Supervisor holds
// only configuration; all per-session state lives on the goroutine running
// Run, so one Supervisor can serve consecutive sessions.
type Supervisor struct {
	dir          string
	executable   string
	pollInterval time.Duration
	capture      bool
	output       func(Stream, string)
	sampler      func(Sample)
	logger       *slog.Logger
}

type Option func(*Supervisor)

// WithDir sets the runtime directory. The executable is resolved inside it
// and the child runs with it as working directory.
func WithDir(dir string) Option {
	return func(s *Supervisor) { s.dir = dir }
}

func WithExecutable(name string) Option {
	return func(s *Supervisor) { s.executable = name }
}

// WithPollInterval sets how often the running process is sampled.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithCaptureOutput toggles forwarding of the runtime's output lines. When
// off, output is still drained so the child never blocks on a full pipe.
func WithCaptureOutput(on bool) Option {
	return func(s *Supervisor) { s.capture = on }
}

// WithOutput sets the sink for captured output lines.
func WithOutput(fn func(Stream, string)) Option {
	return func(s *Supervisor) { s.output = fn }
}

// WithSampler receives a resource sample every poll interval.
func WithSampler(fn func(Sample)) Option {
	return func(s *Supervisor) { s.sampler = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		executable:   "node",
		pollInterval: defaultPollInterval,
		capture:      true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logpkg.WithComponent(logpkg.OrDefault(s.logger), "supervisor")
	if s.output == nil {
		s.output = s.logOutput
	}
	return s
}

// CommandLine is the runtime invocation for a script: the executable name
// and the script path separated by a single space.
func (s *Supervisor) CommandLine(scriptPath string) string {
	return s.executable + " " + scriptPath
}

// Run supervises one session. It returns once the runtime has been
// terminated, either because stop was closed or because the process exited
// by itself. onStarted is called with the PID right after a successful spawn.
// If stop is already closed nothing is spawned. Spawn failures are returned
// as *SpawnError.
func (s *Supervisor) Run(scriptPath string, stop <-chan struct{}, onStarted func(pid int)) error {
	select {
	case <-stop:
		return nil
	default:
	}

	errR, errW, err := os.Pipe()
	if err != nil {
		return &SpawnError{Op: "create stderr pipe", Script: scriptPath, Err: err}
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(errR, errW)
		return &SpawnError{Op: "create stdout pipe", Script: scriptPath, Err: err}
	}

	cmd, err := s.command(scriptPath)
	if err != nil {
		closeAll(errR, errW, outR, outW)
		return &SpawnError{Op: "resolve executable", Script: scriptPath, Err: err}
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		closeAll(errR, errW, outR, outW)
		return &SpawnError{Op: "start process", Script: scriptPath, Err: err}
	}
	// The write ends now belong to the child.
	closeAll(outW, errW)

	pid := cmd.Process.Pid
	logger := s.logger.With(logpkg.ScriptKey, scriptPath, logpkg.PIDKey, pid)
	logger.Info("runtime started", "command", s.CommandLine(scriptPath), "dir", cmd.Dir)
	if onStarted != nil {
		onStarted(pid)
	}

	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		s.drain(Stdout, outR)
	}()
	go func() {
		defer drains.Done()
		s.drain(Stderr, errR)
	}()

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		logger.Debug("process inspection unavailable", "error", err)
		proc = nil
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	reaped := false
	var waitErr error
wait:
	for {
		select {
		case <-stop:
			break wait
		case waitErr = <-exited:
			reaped = true
			logger.Warn("runtime exited on its own", "error", waitErr)
			break wait
		case <-ticker.C:
			s.sample(proc, pid)
		}
	}

	if !reaped {
		s.terminate(cmd.Process, proc, logger)
		waitErr = <-exited
	}

	drained := make(chan struct{})
	go func() {
		drains.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		// A surviving descendant still holds a write end.
		closeAll(outR, errR)
		<-drained
	}
	closeAll(outR, errR)

	logger.Info("runtime terminated", "exit", exitDescription(waitErr))
	return nil
}

func (s *Supervisor) command(scriptPath string) (*exec.Cmd, error) {
	path, err := s.executablePath()
	if err != nil {
		return nil, err
	}
	cmd := &exec.Cmd{
		Path: path,
		Args: []string{s.executable, scriptPath},
		Dir:  s.dir,
	}
	configureCommand(cmd, s.CommandLine(scriptPath))
	return cmd, nil
}

func (s *Supervisor) executablePath() (string, error) {
	if s.executable == "" {
		return "", errors.New("no executable configured")
	}
	if s.dir == "" {
		return exec.LookPath(s.executable)
	}
	path := filepath.Join(s.dir, s.executable)
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}

// terminate force-kills the runtime and everything it spawned. Descendants
// are collected before the parent dies so they are not lost to reparenting.
func (s *Supervisor) terminate(p *os.Process, proc *process.Process, logger *slog.Logger) {
	var descendants []*process.Process
	if proc != nil {
		descendants = collectDescendants(proc)
	}

	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Warn("kill runtime failed", "error", err)
	}
	for _, d := range descendants {
		if err := d.Kill(); err != nil {
			logger.Debug("kill descendant failed", logpkg.PIDKey, d.Pid, "error", err)
		}
	}
}

func collectDescendants(proc *process.Process) []*process.Process {
	var out []*process.Process
	queue := []*process.Process{proc}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		children, err := p.Children()
		if err != nil {
			continue
		}
		out = append(out, children...)
		queue = append(queue, children...)
	}
	return out
}

func (s *Supervisor) sample(proc *process.Process, pid int) {
	if s.sampler == nil || proc == nil {
		return
	}
	smp := Sample{PID: pid, At: time.Now()}
	if mem, err := proc.MemoryInfo(); err == nil {
		smp.RSS = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		smp.CPUPercent = cpu
	}
	s.sampler(smp)
}

// drain reads r until EOF or until it is closed.
func (s *Supervisor) drain(stream Stream, r io.Reader) {
	if !s.capture {
		io.Copy(io.Discard, r)
		return
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, scannerInitialBufferSize), scannerMaxBufferSize)
	for scanner.Scan() {
		s.output(stream, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("output stream ended", logpkg.StreamKey, stream, "error", err)
	}
}

func (s *Supervisor) logOutput(stream Stream, line string) {
	if stream == Stderr {
		s.logger.Warn(line, logpkg.StreamKey, stream)
		return
	}
	s.logger.Info(line, logpkg.StreamKey, stream)
}

func exitDescription(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}
