package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/agent-racer/scripthost/internal/bridge"
	"github.com/agent-racer/scripthost/internal/config"
	"github.com/agent-racer/scripthost/internal/controller"
	logpkg "github.com/agent-racer/scripthost/internal/log"
	"github.com/agent-racer/scripthost/internal/metrics"
	"github.com/agent-racer/scripthost/internal/session"
	"github.com/agent-racer/scripthost/internal/status"
	"github.com/agent-racer/scripthost/internal/supervisor"
)

type runOptions struct {
	port       int
	runtimeDir string
	executable string
	status     bool
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Start a main script and drive it from the terminal",
		Long: `Start the runtime with the given main script (default: runtime.default_script)
and connect to its event channel.

Lines read from stdin are commands:
  :child <path>   run a child script inside the runtime
  :stop-child     stop the running child script
  :stop           stop the main script
  anything else   sent to the runtime as stdin data

The command exits when the main script ends or on interrupt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, opts)
			if err != nil {
				return err
			}
			script := cfg.Runtime.DefaultScript
			if len(args) == 1 {
				script = args[0]
			}
			return run(cmd, cfg, script)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", 0, "Event channel port (overrides bridge.port)")
	cmd.Flags().StringVar(&opts.runtimeDir, "runtime-dir", "", "Runtime directory (overrides runtime.dir)")
	cmd.Flags().StringVar(&opts.executable, "exe", "", "Runtime executable (overrides runtime.executable)")
	cmd.Flags().BoolVar(&opts.status, "status", false, "Serve the status API")
	return cmd
}

// loadConfig applies command line overrides on top of the config file.
func loadConfig(root *rootOptions, opts *runOptions) (*config.Config, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return nil, err
	}
	if opts.port > 0 {
		cfg.Bridge.Port = opts.port
	}
	if opts.runtimeDir != "" {
		cfg.Runtime.Dir = opts.runtimeDir
	}
	if opts.executable != "" {
		cfg.Runtime.Executable = opts.executable
	}
	if opts.status {
		cfg.Status.Enabled = true
	}
	if root.logLevel != "" {
		cfg.Log.Level = root.logLevel
	}
	if root.logFormat != "" {
		cfg.Log.Format = root.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// lockedWriter serializes writes from callbacks running on different
// goroutines.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func run(cmd *cobra.Command, cfg *config.Config, script string) error {
	var mu sync.Mutex
	out := lockedWriter{mu: &mu, w: cmd.OutOrStdout()}
	errOut := lockedWriter{mu: &mu, w: cmd.ErrOrStderr()}

	logger := logpkg.New(&logpkg.Config{
		Level:  cfg.Log.Level,
		Format: logpkg.Format(cfg.Log.Format),
		Output: errOut,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	store := session.NewStore()
	var broadcaster *status.Broadcaster
	if cfg.Status.Enabled {
		broadcaster = status.NewBroadcaster(store, cfg.Status.MaxClients, logger)
	}

	sup := supervisor.New(
		supervisor.WithDir(cfg.Runtime.Dir),
		supervisor.WithExecutable(cfg.Runtime.Executable),
		supervisor.WithPollInterval(cfg.Runtime.PollInterval),
		supervisor.WithCaptureOutput(cfg.Runtime.CaptureOutput),
		supervisor.WithSampler(func(s supervisor.Sample) {
			m.ObserveProcess(s.RSS, s.CPUPercent)
		}),
		supervisor.WithLogger(logger),
	)
	client := bridge.NewClient(
		bridge.WithPath(cfg.Bridge.Path),
		bridge.WithLogger(logger),
	)
	client.OnConnected(func() {
		fmt.Fprintln(out, "main script connected")
	})

	ended := make(chan struct{})
	var endOnce sync.Once
	var spawnErr error
	end := func() { endOnce.Do(func() { close(ended) }) }

	ctrl := controller.New(client, sup,
		controller.WithDefaults(cfg.Runtime.DefaultScript, cfg.Bridge.Port),
		controller.WithEndpointHost(cfg.Bridge.Host),
		controller.WithDisconnectTimeout(cfg.Bridge.DisconnectTimeout),
		controller.WithStore(store),
		controller.WithMetrics(m),
		controller.WithLogger(logger),
		controller.WithObserver(func(e session.Event) {
			if broadcaster != nil {
				broadcaster.Publish(e)
			}
		}),
		controller.WithCallbacks(controller.Callbacks{
			OnConsoleLog: func(msg string) {
				fmt.Fprintln(out, msg)
			},
			OnChildScriptEnd: func(info string) {
				fmt.Fprintf(out, "child script ended: %s\n", info)
			},
			OnScriptError: func(path, msg string) {
				fmt.Fprintf(errOut, "script error in %s: %s\n", path, msg)
			},
			OnMainScriptEnd: func(path string) {
				fmt.Fprintf(out, "main script ended: %s\n", path)
				end()
			},
			OnSpawnError: func(_ string, err error) {
				spawnErr = err
				end()
			},
		}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if broadcaster != nil {
		srv := status.NewServer(store, broadcaster, status.Options{
			Gatherer:       reg,
			AllowedOrigins: cfg.Status.AllowedOrigins,
			AuthToken:      cfg.Status.Token,
			Logger:         logger,
		})
		statusCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.ListenAndServe(statusCtx, cfg.Status.Host, cfg.Status.Port); err != nil {
				logger.Error("status server stopped", "error", err)
			}
		}()
	}

	logger.Info("starting main script",
		logpkg.ScriptKey, script,
		"endpoint", cfg.Endpoint(cfg.Bridge.Port),
		"command", sup.CommandLine(script),
	)
	if err := ctrl.Start(script, cfg.Bridge.Port); err != nil {
		ctrl.Close()
		return err
	}

	go readCommands(cmd.InOrStdin(), ctrl, errOut, logger)

	select {
	case <-ended:
	case <-ctx.Done():
		logger.Info("interrupted, stopping main script")
	}

	if err := ctrl.Close(); err != nil {
		logger.Warn("event channel close", "error", err)
	}
	return spawnErr
}
