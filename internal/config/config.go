package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Status  StatusConfig  `yaml:"status"`
	Log     LogConfig     `yaml:"log"`
}

// RuntimeConfig describes where the scripting runtime lives and how its
// process is supervised.
type RuntimeConfig struct {
	// Dir is the runtime directory. The executable is resolved inside it and
	// the child runs with it as working directory. Empty means PATH lookup.
	Dir           string        `yaml:"dir"`
	Executable    string        `yaml:"executable"`
	DefaultScript string        `yaml:"default_script"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	CaptureOutput bool          `yaml:"capture_output"`
}

type BridgeConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Path              string        `yaml:"path"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

type StatusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Token          string   `yaml:"token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxClients     int      `yaml:"max_clients"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Executable:    "node",
			DefaultScript: "nodeWrapper.js",
			PollInterval:  100 * time.Millisecond,
			CaptureOutput: true,
		},
		Bridge: BridgeConfig{
			Host:              "localhost",
			Port:              4269,
			Path:              "/ws",
			DisconnectTimeout: time.Second,
		},
		Status: StatusConfig{
			Host:       "127.0.0.1",
			Port:       4270,
			MaxClients: 16,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

// Load reads a YAML config file on top of the defaults. An empty path yields
// the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("SCRIPTHOST_RUNTIME_DIR"); v != "" {
		c.Runtime.Dir = v
	}
	if v := os.Getenv("SCRIPTHOST_EXECUTABLE"); v != "" {
		c.Runtime.Executable = v
	}
	if v := os.Getenv("SCRIPTHOST_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCRIPTHOST_PORT: %w", err)
		}
		c.Bridge.Port = port
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Runtime.Executable == "" {
		return errors.New("runtime.executable must be set")
	}
	if c.Runtime.PollInterval <= 0 {
		return errors.New("runtime.poll_interval must be positive")
	}
	if err := validPort("bridge.port", c.Bridge.Port); err != nil {
		return err
	}
	if c.Bridge.DisconnectTimeout <= 0 {
		return errors.New("bridge.disconnect_timeout must be positive")
	}
	if c.Status.Enabled {
		if err := validPort("status.port", c.Status.Port); err != nil {
			return err
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q: want text or json", c.Log.Format)
	}
	return nil
}

// Endpoint returns the event channel URL for the given port.
func (c *Config) Endpoint(port int) string {
	return fmt.Sprintf("http://%s:%d", c.Bridge.Host, port)
}

func validPort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}
