package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/django-entrypoint/internal/application"
	"github.com/eugenenazirov/django-entrypoint/internal/config"
	"github.com/eugenenazirov/django-entrypoint/internal/logging"
)

const (
	commandRun     = "run"
	commandPatch   = "patch"
	commandWait    = "wait"
	commandOrigins = "origins"
)

var signalNotify = signal.Notify

type cli struct {
	app       *kingpin.Application
	overrides config.CLIOverrides
}

func newCLI() *cli {
	c := &cli{
		app: kingpin.New("entrypoint", "Container entrypoint that bootstraps and starts a Django project"),
	}
	c.app.Flag("config", "Path to YAML configuration file").StringVar(&c.overrides.ConfigFile)
	c.overrides.ProjectDir = c.app.Flag("project-dir", "Directory holding manage.py").String()
	c.overrides.ProjectName = c.app.Flag("project-name", "Django project package name").String()
	c.overrides.Port = c.app.Flag("port", "Port the server listens on").Int()
	c.overrides.AllowedHosts = c.app.Flag("allowed-hosts", "Comma-separated allowed hosts").String()
	c.overrides.WaitAttempts = c.app.Flag("wait-attempts", "Readiness attempts before giving up").Int()
	c.overrides.WaitDelay = c.app.Flag("wait-delay", "Delay between readiness attempts").Duration()
	c.overrides.StatusAddr = c.app.Flag("status-addr", "Address for the status endpoint (empty disables it)").String()
	c.overrides.SkipInstall = c.app.Flag("skip-install", "Do not install Python dependencies").Bool()
	c.overrides.LogLevel = c.app.Flag("log-level", "Log level (debug, info, warn, error)").String()
	c.overrides.LogFormat = c.app.Flag("log-format", "Log format (console, json)").String()

	c.app.Command(commandRun, "Bootstrap the project and start the server").Default()
	c.app.Command(commandPatch, "Scaffold the project if missing and patch its settings")
	c.app.Command(commandWait, "Wait until the database and cache accept connections")
	c.app.Command(commandOrigins, "Print the trusted origins derived from the allowed hosts")

	return c
}

func main() {
	c := newCLI()
	command := kingpin.MustParse(c.app.Parse(os.Args[1:]))

	cfg, err := config.Load(&c.overrides)
	c.app.FatalIfError(err, "failed to load configuration")

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	c.app.FatalIfError(err, "failed to initialize logger")
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchSignals(ctx, cancel, logger)

	if err := execute(ctx, command, cfg, logger, os.Stdout); err != nil {
		logger.Fatal("entrypoint failed", zap.String("command", command), zap.Error(err))
	}
}

func execute(ctx context.Context, command string, cfg config.Config, logger *zap.Logger, out io.Writer, opts ...application.Option) error {
	if command == commandOrigins {
		for _, origin := range cfg.SettingsValues().TrustedOrigins() {
			if _, err := fmt.Fprintln(out, origin); err != nil {
				return err
			}
		}
		return nil
	}

	app, err := application.New(cfg, logger, opts...)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}

	switch command {
	case commandPatch:
		return app.Patch(ctx)
	case commandWait:
		return app.WaitForDependencies(ctx)
	case commandRun:
		if err := app.Start(); err != nil {
			return fmt.Errorf("start status server: %w", err)
		}
		defer shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
		return app.Run(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// watchSignals cancels the run on SIGINT or SIGTERM.
func watchSignals(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-quit:
			logger.Info("received signal, aborting bootstrap", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	if server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
