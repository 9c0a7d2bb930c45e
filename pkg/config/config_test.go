package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/browserbridge/pkg/config"
	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if cfg.Model.ID != config.DefaultModelID {
		t.Fatalf("default model = %q, want %q", cfg.Model.ID, config.DefaultModelID)
	}
	if cfg.Model.BaseURL != config.DefaultModelBaseURL {
		t.Fatalf("default base url = %q", cfg.Model.BaseURL)
	}
	if !cfg.Browser.Headless {
		t.Fatal("browser should default to headless")
	}
	if cfg.Browser.Window.Width != 1000 || cfg.Browser.Window.Height != 700 {
		t.Fatalf("unexpected window: %+v", cfg.Browser.Window)
	}
	if cfg.Stream.Pace != 50*time.Millisecond {
		t.Fatalf("unexpected pace: %v", cfg.Stream.Pace)
	}
	if cfg.Browser.LaunchTimeout != 30*time.Second {
		t.Fatalf("unexpected launch timeout: %v", cfg.Browser.LaunchTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()

	t.Setenv("HOME", home)

	userCfgDir := filepath.Join(home, ".browserbridge")
	if err := os.MkdirAll(userCfgDir, 0o755); err != nil {
		t.Fatalf("mkdir user config: %v", err)
	}
	userCfg := `
model:
  id: user/model
browser:
  window:
    width: 1280
stream:
  pace: 10ms
`
	if err := os.WriteFile(filepath.Join(userCfgDir, "config.yaml"), []byte(userCfg), 0o644); err != nil {
		t.Fatalf("write user config: %v", err)
	}

	projectCfg := `
model:
  id: project/model
browser:
  headless: false
`
	if err := os.WriteFile(filepath.Join(project, ".browserbridge.yaml"), []byte(projectCfg), 0o644); err != nil {
		t.Fatalf("write project config: %v", err)
	}
	chdir(t, project)

	t.Setenv("BROWSERBRIDGE_BIND", "127.0.0.1:9999")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Model.ID != "project/model" {
		t.Fatalf("expected project model override, got %s", cfg.Model.ID)
	}
	if cfg.Browser.Window.Width != 1280 {
		t.Fatalf("expected user window width, got %d", cfg.Browser.Window.Width)
	}
	if cfg.Browser.Window.Height != 700 {
		t.Fatalf("window height should keep its default, got %d", cfg.Browser.Window.Height)
	}
	if cfg.Browser.Headless {
		t.Fatal("expected project config to disable headless")
	}
	if cfg.Stream.Pace != 10*time.Millisecond {
		t.Fatalf("expected user pace, got %v", cfg.Stream.Pace)
	}
	if cfg.Server.Bind != "127.0.0.1:9999" {
		t.Fatalf("expected env bind override, got %s", cfg.Server.Bind)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	content := `
agent:
  max_steps: 7
  use_vision: false
logging:
  format: text
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Agent.MaxSteps != 7 || cfg.Agent.UseVision {
		t.Fatalf("unexpected agent config: %+v", cfg.Agent)
	}
	if cfg.Logging.Format != "text" {
		t.Fatalf("unexpected log format: %s", cfg.Logging.Format)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := config.LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !bberrors.IsCode(err, bberrors.ErrCodeConfigLoad) {
		t.Fatalf("expected CONFIG_LOAD, got %v", err)
	}
}

func TestInvalidLogFormatFailsValidation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	t.Setenv("BROWSERBRIDGE_LOG_FORMAT", "xml")

	_, err := config.Load()
	if err == nil {
		t.Fatal("expected config.Load to fail for invalid log format")
	}
	if !bberrors.IsCode(err, bberrors.ErrCodeConfigInvalid) {
		t.Fatalf("expected CONFIG_INVALID, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad bind", func(c *config.Config) { c.Server.Bind = "nonsense" }},
		{"zero shutdown timeout", func(c *config.Config) { c.Server.ShutdownTimeout = 0 }},
		{"empty model", func(c *config.Config) { c.Model.ID = " " }},
		{"bad base url", func(c *config.Config) { c.Model.BaseURL = "ftp://x" }},
		{"zero window", func(c *config.Config) { c.Browser.Window.Width = 0 }},
		{"zero launch timeout", func(c *config.Config) { c.Browser.LaunchTimeout = 0 }},
		{"zero steps", func(c *config.Config) { c.Agent.MaxSteps = 0 }},
		{"zero buffer", func(c *config.Config) { c.Stream.Buffer = 0 }},
		{"negative pace", func(c *config.Config) { c.Stream.Pace = -time.Millisecond }},
		{"bad tracing", func(c *config.Config) { c.Telemetry.Tracing = "jaeger" }},
		{"negative runlog capacity", func(c *config.Config) { c.RunLog.Capacity = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := config.DefaultConfig()

	t.Setenv("BROWSERBRIDGE_HEADLESS", "0")
	t.Setenv("BROWSERBRIDGE_PACE", "0s")
	t.Setenv("BROWSERBRIDGE_MAX_STEPS", "3")
	t.Setenv("BROWSERBRIDGE_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("BROWSERBRIDGE_LIVE_STEPS", "off")
	t.Setenv("BROWSERBRIDGE_RUNLOG_PATH", "/var/lib/browserbridge/runs.db")
	t.Setenv("BROWSERBRIDGE_LAUNCH_TIMEOUT", "45s")
	config.ApplyEnvOverridesForTest(cfg)

	if cfg.Browser.LaunchTimeout != 45*time.Second {
		t.Fatalf("unexpected launch timeout: %v", cfg.Browser.LaunchTimeout)
	}

	if cfg.RunLog.Path != "/var/lib/browserbridge/runs.db" {
		t.Fatalf("unexpected runlog path: %q", cfg.RunLog.Path)
	}

	if cfg.Browser.Headless {
		t.Fatal("expected BROWSERBRIDGE_HEADLESS=0 to disable headless")
	}
	if cfg.Stream.Pace != 0 {
		t.Fatalf("expected zero pace, got %v", cfg.Stream.Pace)
	}
	if cfg.Agent.MaxSteps != 3 {
		t.Fatalf("expected 3 max steps, got %d", cfg.Agent.MaxSteps)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Stream.LiveSteps {
		t.Fatal("expected live steps disabled")
	}

	t.Setenv("BROWSERBRIDGE_HEADLESS", "maybe")
	cfg.Browser.Headless = true
	config.ApplyEnvOverridesForTest(cfg)
	if !cfg.Browser.Headless {
		t.Fatal("unparseable bool should leave value unchanged")
	}
}
