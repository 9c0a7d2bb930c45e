package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge decodes a YAML file on top of cfg. Keys absent from the
// file keep their current values.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	return nil
}

// ApplyEnvOverridesForTest exposes env override logic for tests without file I/O.
func ApplyEnvOverridesForTest(cfg *Config) {
	applyEnvOverrides(cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BROWSERBRIDGE_BIND"); v != "" {
		cfg.Server.Bind = v
	}
	if v := os.Getenv("BROWSERBRIDGE_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitCommaList(v)
	}

	if v := os.Getenv("BROWSERBRIDGE_MODEL"); v != "" {
		cfg.Model.ID = v
	}
	if v := os.Getenv("BROWSERBRIDGE_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}

	if val, ok := envBool("BROWSERBRIDGE_HEADLESS"); ok {
		cfg.Browser.Headless = val
	}
	if v := os.Getenv("BROWSERBRIDGE_CHROME_PATH"); v != "" {
		cfg.Browser.ExecPath = v
	}
	if v := os.Getenv("BROWSERBRIDGE_LAUNCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Browser.LaunchTimeout = d
		}
	}

	if v := os.Getenv("BROWSERBRIDGE_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxSteps = n
		}
	}
	if val, ok := envBool("BROWSERBRIDGE_USE_VISION"); ok {
		cfg.Agent.UseVision = val
	}

	if v := os.Getenv("BROWSERBRIDGE_PACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.Pace = d
		}
	}
	if val, ok := envBool("BROWSERBRIDGE_LIVE_STEPS"); ok {
		cfg.Stream.LiveSteps = val
	}

	if v := os.Getenv("BROWSERBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BROWSERBRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if val, ok := envBool("BROWSERBRIDGE_METRICS"); ok {
		cfg.Telemetry.Metrics = val
	}
	if v := os.Getenv("BROWSERBRIDGE_TRACING"); v != "" {
		cfg.Telemetry.Tracing = v
	}

	if val, ok := envBool("BROWSERBRIDGE_RUNLOG"); ok {
		cfg.RunLog.Enabled = val
	}
	if v := os.Getenv("BROWSERBRIDGE_RUNLOG_PATH"); v != "" {
		cfg.RunLog.Path = v
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}
