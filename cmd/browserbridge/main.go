package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/browserbridge/pkg/agent"
	"github.com/odvcencio/browserbridge/pkg/bridge"
	"github.com/odvcencio/browserbridge/pkg/browser"
	"github.com/odvcencio/browserbridge/pkg/browser/adapters/chrome"
	"github.com/odvcencio/browserbridge/pkg/config"
	"github.com/odvcencio/browserbridge/pkg/logging"
	"github.com/odvcencio/browserbridge/pkg/model"
	"github.com/odvcencio/browserbridge/pkg/runlog"
	"github.com/odvcencio/browserbridge/pkg/server"
	"github.com/odvcencio/browserbridge/pkg/stream"
	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

type cliOptions struct {
	configPath  string
	bind        string
	logLevel    string
	headless    *bool
	showVersion bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stdout, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitConfig
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "browserbridge %s (commit %s, built %s)\n", version, commit, buildDate)
		return exitOK
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitConfig
	}

	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitConfig
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, cfg, log, nil); err != nil {
		log.WithError(err).Error("browserbridge stopped")
		return exitError
	}
	return exitOK
}

func parseFlags(args []string, stdout, stderr io.Writer) (cliOptions, error) {
	var opts cliOptions
	var headless bool

	flagSet := pflag.NewFlagSet("browserbridge", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file (default: ~/.browserbridge/config.yaml then ./.browserbridge.yaml)")
	flagSet.StringVar(&opts.bind, "bind", "", "address to listen on (overrides config)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flagSet.BoolVar(&headless, "headless", true, "run the browser without a visible window")
	flagSet.BoolVarP(&opts.showVersion, "version", "v", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(stdout, "Usage: browserbridge [flags]\n\n")
		fmt.Fprintf(stdout, "Serves POST /browser/start and streams browser automation progress as NDJSON.\n\n")
		fmt.Fprintf(stdout, "Flags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if flagSet.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	if flagSet.Changed("headless") {
		opts.headless = &headless
	}
	return opts, nil
}

// loadConfig resolves configuration then applies command-line overrides,
// which win over files and environment.
func loadConfig(opts cliOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := strings.TrimSpace(opts.configPath); path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if bind := strings.TrimSpace(opts.bind); bind != "" {
		cfg.Server.Bind = bind
	}
	if level := strings.TrimSpace(opts.logLevel); level != "" {
		cfg.Logging.Level = level
	}
	if opts.headless != nil {
		cfg.Browser.Headless = *opts.headless
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openJournal picks the run journal backend. It returns nil when journaling
// is disabled.
func openJournal(cfg config.RunLogConfig) (runlog.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if path := strings.TrimSpace(cfg.Path); path != "" {
		store, err := runlog.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return runlog.NewMemoryStore(cfg.Capacity), nil
}

// serve wires every component from cfg and serves until ctx ends. When ln is
// nil the server listens on cfg.Server.Bind.
func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger, ln net.Listener) error {
	tracer, err := telemetry.NewTracerProvider(cfg.Telemetry.ServiceName, cfg.Telemetry.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
	}

	journal, err := openJournal(cfg.RunLog)
	if err != nil {
		return fmt.Errorf("open run journal: %w", err)
	}
	if journal != nil {
		defer func() {
			if err := journal.Close(); err != nil {
				log.WithError(err).Warn("closing run journal failed")
			}
		}()
	}

	browsers := browser.NewManager(
		chrome.NewRuntime(
			chrome.WithLogger(log),
			chrome.WithLaunchTimeout(cfg.Browser.LaunchTimeout),
			chrome.WithExecPath(cfg.Browser.ExecPath),
		),
		browser.NewMetrics(metrics),
	)
	defer func() {
		if err := browsers.Close(); err != nil {
			log.WithError(err).Warn("closing browsers failed")
		}
	}()

	models := model.NewFactory(cfg.Model.BaseURL, model.ClientOptions{
		ModelID:           cfg.Model.ID,
		Timeout:           cfg.Model.Timeout,
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
		Burst:             cfg.Model.Burst,
		Metrics:           metrics,
		Logger:            log,
	})

	orch, err := bridge.New(bridge.Options{
		Browsers: browsers,
		BrowserConfig: browser.Config{
			Headless: cfg.Browser.Headless,
			WindowSize: browser.Viewport{
				Width:  cfg.Browser.Window.Width,
				Height: cfg.Browser.Window.Height,
			},
			ExecPath:          cfg.Browser.ExecPath,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		},
		Models:      bridge.ClientFactory(models),
		Runner:      agent.New(agent.WithLogger(log)),
		Projector:   stream.NewProjector(cfg.Stream.Pace, log),
		Buffer:      cfg.Stream.Buffer,
		LiveSteps:   cfg.Stream.LiveSteps,
		UseVision:   cfg.Agent.UseVision,
		MaxSteps:    cfg.Agent.MaxSteps,
		MaxPageText: cfg.Agent.MaxPageText,
		RunTimeout:  cfg.Agent.RunTimeout,
		Metrics:     metrics,
		Journal:     journal,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	srv := server.NewServer(server.Config{
		Address:           cfg.Server.Bind,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Runner:            orch,
		Ready:             browsers.Ready,
		Journal:           journal,
		Metrics:           metrics,
		Logger:            log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{
			"address": srv.Addr(),
			"model":   cfg.Model.ID,
			"version": version,
		}).Info("browserbridge listening")
		var err error
		if ln != nil {
			err = srv.Serve(ln)
		} else {
			err = srv.Start()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
