package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryHTTP    Category = "http"
	CategoryBridge  Category = "bridge"
	CategoryBrowser Category = "browser"
	CategoryModel   Category = "model"
	CategoryAgent   Category = "agent"
)

// FieldCategory is the logrus field that carries a Category.
const FieldCategory = "category"

const redacted = "[REDACTED]"

// Options configures New.
type Options struct {
	Level  string
	Format string
	Output io.Writer
}

// New builds a logrus logger with the requested level and format and the
// credential redaction hook installed.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)

	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(opts.Format) {
	case "", "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}

	log.AddHook(NewRedactHook())
	return log, nil
}

// NullLogger returns a logger that discards everything.
func NullLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// For returns an entry tagged with the given subsystem.
func For(log logrus.FieldLogger, category Category) *logrus.Entry {
	if log == nil {
		log = NullLogger()
	}
	return log.WithField(FieldCategory, string(category))
}

// RedactHook scrubs credential-bearing fields from every entry before it is
// formatted.
type RedactHook struct {
	keys map[string]struct{}
}

// NewRedactHook returns a hook that redacts the default credential keys plus
// any extra keys given.
func NewRedactHook(extra ...string) *RedactHook {
	keys := map[string]struct{}{
		"api_key":       {},
		"apikey":        {},
		"credential":    {},
		"authorization": {},
		"token":         {},
		"password":      {},
	}
	for _, k := range extra {
		keys[strings.ToLower(k)] = struct{}{}
	}
	return &RedactHook{keys: keys}
}

// Levels implements logrus.Hook.
func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *RedactHook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		if _, ok := h.keys[strings.ToLower(k)]; !ok {
			continue
		}
		if s, isString := v.(string); isString && s == "" {
			continue
		}
		entry.Data[k] = redacted
	}
	return nil
}
