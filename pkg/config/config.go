package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
)

// Default model settings used when nothing overrides them.
const (
	DefaultModelID      = "meta/llama-4-maverick-17b-128e-instruct"
	DefaultModelBaseURL = "https://integrate.api.nvidia.com/v1"
)

// Config represents the complete bridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Browser   BrowserConfig   `yaml:"browser"`
	Agent     AgentConfig     `yaml:"agent"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	RunLog    RunLogConfig    `yaml:"runlog"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Bind              string        `yaml:"bind"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

// ModelConfig identifies the language model every run is bound to.
// The credential is never part of configuration; it arrives per request.
type ModelConfig struct {
	ID                string        `yaml:"id"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// BrowserConfig configures browser acquisition.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	Window            WindowConfig  `yaml:"window"`
	ExecPath          string        `yaml:"exec_path"`
	LaunchTimeout     time.Duration `yaml:"launch_timeout"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// WindowConfig is the browser window size in pixels.
type WindowConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// AgentConfig tunes the automation agent loop.
type AgentConfig struct {
	MaxSteps    int           `yaml:"max_steps"`
	UseVision   bool          `yaml:"use_vision"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
	MaxPageText int           `yaml:"max_page_text"`
}

// StreamConfig tunes progress streaming.
type StreamConfig struct {
	Buffer    int           `yaml:"buffer"`
	Pace      time.Duration `yaml:"pace"`
	LiveSteps bool          `yaml:"live_steps"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelemetryConfig toggles metrics and tracing.
type TelemetryConfig struct {
	Metrics     bool   `yaml:"metrics"`
	Tracing     string `yaml:"tracing"`
	ServiceName string `yaml:"service_name"`
}

// RunLogConfig selects where finished runs are journaled. An empty Path
// keeps the journal in memory.
type RunLogConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Capacity int    `yaml:"capacity"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Bind:              "0.0.0.0:8000",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			MaxBodyBytes:      1 << 20,
			AllowedOrigins:    []string{"*"},
		},
		Model: ModelConfig{
			ID:                DefaultModelID,
			BaseURL:           DefaultModelBaseURL,
			Timeout:           2 * time.Minute,
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Browser: BrowserConfig{
			Headless: true,
			Window: WindowConfig{
				Width:  1000,
				Height: 700,
			},
			LaunchTimeout:     30 * time.Second,
			NavigationTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			MaxSteps:    25,
			UseVision:   true,
			RunTimeout:  10 * time.Minute,
			MaxPageText: 8000,
		},
		Stream: StreamConfig{
			Buffer:    16,
			Pace:      50 * time.Millisecond,
			LiveSteps: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Metrics:     true,
			Tracing:     "off",
			ServiceName: "browserbridge",
		},
		RunLog: RunLogConfig{
			Enabled:  true,
			Capacity: 500,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, then ~/.browserbridge/config.yaml, then ./.browserbridge.yaml,
// then environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".browserbridge", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, bberrors.Wrap(err, bberrors.ErrCodeConfigLoad, "loading user config")
		}
	}

	projectConfigPath := filepath.Join(".", ".browserbridge.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeConfigLoad, "loading project config")
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, bberrors.Wrap(err, bberrors.ErrCodeConfigLoad, fmt.Sprintf("loading config from %s", path))
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return bberrors.New(bberrors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...))
	}

	if _, _, err := net.SplitHostPort(strings.TrimSpace(c.Server.Bind)); err != nil {
		return invalid("invalid server.bind %q: %v", c.Server.Bind, err)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return invalid("server.max_body_bytes must be positive")
	}
	if strings.TrimSpace(c.Model.ID) == "" {
		return invalid("model.id is required")
	}
	if !strings.HasPrefix(c.Model.BaseURL, "http://") && !strings.HasPrefix(c.Model.BaseURL, "https://") {
		return invalid("model.base_url must be an http(s) URL: %q", c.Model.BaseURL)
	}
	if c.Model.RequestsPerSecond < 0 || c.Model.Burst < 0 {
		return invalid("model rate limits must not be negative")
	}
	if c.Browser.Window.Width <= 0 || c.Browser.Window.Height <= 0 {
		return invalid("browser.window must have positive width and height (got %dx%d)", c.Browser.Window.Width, c.Browser.Window.Height)
	}
	if c.Browser.LaunchTimeout <= 0 {
		return invalid("browser.launch_timeout must be positive")
	}
	if c.Agent.MaxSteps <= 0 {
		return invalid("agent.max_steps must be positive")
	}
	if c.Agent.RunTimeout < 0 {
		return invalid("agent.run_timeout must not be negative")
	}
	if c.Stream.Buffer <= 0 {
		return invalid("stream.buffer must be positive")
	}
	if c.Stream.Pace < 0 {
		return invalid("stream.pace must not be negative")
	}

	if c.RunLog.Capacity < 0 {
		return invalid("runlog.capacity must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return invalid("invalid logging.format: %s (valid: json, text)", c.Logging.Format)
	}

	switch strings.ToLower(c.Telemetry.Tracing) {
	case "", "off", "stdout":
	default:
		return invalid("invalid telemetry.tracing: %s (valid: off, stdout)", c.Telemetry.Tracing)
	}

	return nil
}
