package application

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eugenenazirov/django-entrypoint/internal/api"
	"github.com/eugenenazirov/django-entrypoint/internal/config"
	"github.com/eugenenazirov/django-entrypoint/internal/metrics"
	"github.com/eugenenazirov/django-entrypoint/internal/process"
	"github.com/eugenenazirov/django-entrypoint/internal/progress"
	"github.com/eugenenazirov/django-entrypoint/internal/readiness"
	"github.com/eugenenazirov/django-entrypoint/internal/scaffold"
	"github.com/eugenenazirov/django-entrypoint/internal/settings"
)

// Bootstrap steps in execution order.
const (
	StepInstall       = "install"
	StepScaffold      = "scaffold"
	StepSettings      = "settings"
	StepWait          = "wait"
	StepMigrate       = "migrate"
	StepCollectStatic = "collectstatic"
	StepLaunch        = "launch"
)

// Steps lists every bootstrap step in execution order.
var Steps = []string{
	StepInstall,
	StepScaffold,
	StepSettings,
	StepWait,
	StepMigrate,
	StepCollectStatic,
	StepLaunch,
}

// HandoffFunc replaces the entrypoint with the server process.
type HandoffFunc func(cmd process.Command) error

// App wires the bootstrap pipeline and the optional status server.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	runner    process.Runner
	handoff   HandoffFunc
	validator settings.Validator
	probes    []readiness.Probe
	environ   func() []string

	tracker    progress.Tracker
	metrics    *metrics.Registry
	scaffolder *scaffold.Scaffolder
	patcher    *settings.Patcher
	waiter     *readiness.Waiter

	server   *http.Server
	listener net.Listener
}

// Option configures App behaviour.
type Option func(*App)

// WithRunner replaces the child process runner.
func WithRunner(runner process.Runner) Option {
	return func(a *App) {
		a.runner = runner
	}
}

// WithHandoff replaces the final exec.
func WithHandoff(handoff HandoffFunc) Option {
	return func(a *App) {
		a.handoff = handoff
	}
}

// WithValidator replaces the Python syntax validator.
func WithValidator(validator settings.Validator) Option {
	return func(a *App) {
		a.validator = validator
	}
}

// WithProbes replaces the probes derived from configuration.
func WithProbes(probes ...readiness.Probe) Option {
	return func(a *App) {
		a.probes = probes
	}
}

// WithEnviron replaces the inherited environment source.
func WithEnviron(environ func() []string) Option {
	return func(a *App) {
		a.environ = environ
	}
}

// WithTracker replaces the in-memory step tracker.
func WithTracker(tracker progress.Tracker) Option {
	return func(a *App) {
		a.tracker = tracker
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	projectDir, err := filepath.Abs(cfg.ProjectDir)
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	cfg.ProjectDir = projectDir

	runID := uuid.NewString()
	a := &App{
		cfg:     cfg,
		logger:  logger.With(zap.String("run_id", runID)),
		runID:   runID,
		handoff: process.Exec,
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runner == nil {
		a.runner = process.NewShell(a.logger, os.Stdout, os.Stderr)
	}
	if a.validator == nil {
		a.validator = settings.NewPythonValidator(cfg.Python)
	}

	if a.tracker == nil {
		a.tracker = progress.NewMemoryTracker(runID, Steps, nil)
	}
	a.metrics = metrics.New()
	a.scaffolder = scaffold.New(a.runner, cfg.Python, cfg.ProjectDir, cfg.Django.ProjectName, a.logger,
		scaffold.WithEnv(a.ChildEnv()),
	)
	a.patcher = settings.NewPatcher(a.validator, a.scaffolder, a.logger)
	a.waiter = readiness.NewWaiter(cfg.WaitPolicy(), a.logger, readiness.WithObserver(a.metrics.ObserveProbe))

	if cfg.StatusAddr != "" {
		a.server = NewServer(cfg, a.statusHandler())
	}

	return a, nil
}

// NewServer creates the status server for the given handler.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.StatusAddr
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
}

func (a *App) statusHandler() http.Handler {
	handler := api.NewHandler(a.tracker)
	return api.NewRouter(handler, a.logger,
		api.WithLogging(a.logger.Core().Enabled(zap.DebugLevel)),
		api.WithRateLimit(a.cfg.StatusRateLimit, a.cfg.StatusBurst),
		api.WithMetrics(a.metrics.Handler(), a.metrics),
	)
}

// RunID identifies this bootstrap run.
func (a *App) RunID() string {
	return a.runID
}

// Progress exposes the step tracker.
func (a *App) Progress() progress.Reader {
	return a.tracker
}

// Start binds the status server, if configured, and serves it in a goroutine.
func (a *App) Start() error {
	if a.server == nil {
		return nil
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	a.listener = listener

	go func() {
		a.logger.Info("status server listening", zap.String("addr", listener.Addr().String()))
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the status server, or nil when it is disabled.
func (a *App) Server() *http.Server {
	return a.server
}

// StatusAddr returns the bound status address, or "" before Start.
func (a *App) StatusAddr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Shutdown stops the status server.
func (a *App) Shutdown(ctx context.Context) error {
	if a.server == nil || a.listener == nil {
		return nil
	}
	if err := a.server.Shutdown(ctx); err != nil {
		_ = a.server.Close()
		return fmt.Errorf("shutdown status server: %w", err)
	}
	return nil
}

// Run executes the full bootstrap and hands off to the server. It only
// returns on failure.
func (a *App) Run(ctx context.Context) error {
	if err := a.InstallDependencies(ctx); err != nil {
		return err
	}
	if err := a.Patch(ctx); err != nil {
		return err
	}
	if err := a.WaitForDependencies(ctx); err != nil {
		return err
	}
	if err := a.Migrate(ctx); err != nil {
		return err
	}
	if err := a.CollectStatic(ctx); err != nil {
		return err
	}
	return a.Launch(ctx)
}

// Patch scaffolds the project when it is missing and brings its settings
// module into the configured state.
func (a *App) Patch(ctx context.Context) error {
	if err := a.EnsureProject(ctx); err != nil {
		return err
	}
	return a.EnsureSettings(ctx)
}

// InstallDependencies installs the project's Python requirements.
func (a *App) InstallDependencies(ctx context.Context) error {
	if a.cfg.SkipInstall {
		a.skip(StepInstall, "disabled by configuration")
		return nil
	}
	return a.step(StepInstall, func() error {
		cmd, err := a.InstallCommand()
		if err != nil {
			return err
		}
		return a.runner.Run(ctx, cmd)
	})
}

// InstallCommand returns the pip invocation: the requirements file when it
// exists, otherwise the default package set.
func (a *App) InstallCommand() (process.Command, error) {
	args := []string{"-m", "pip", "install", "--no-cache-dir"}

	requirements := a.cfg.Requirements
	if requirements != "" && !filepath.IsAbs(requirements) {
		requirements = filepath.Join(a.cfg.ProjectDir, requirements)
	}

	switch _, err := os.Stat(requirements); {
	case requirements != "" && err == nil:
		args = append(args, "-r", requirements)
	case requirements == "" || errors.Is(err, fs.ErrNotExist):
		args = append(args, a.cfg.InstallPackages...)
	default:
		return process.Command{}, fmt.Errorf("stat requirements: %w", err)
	}

	return process.Command{
		Name: a.cfg.Python,
		Args: args,
		Dir:  a.cfg.ProjectDir,
		Env:  a.ChildEnv(),
	}, nil
}

// EnsureProject scaffolds the project when manage.py is absent.
func (a *App) EnsureProject(ctx context.Context) error {
	exists, err := a.scaffolder.Exists()
	if err != nil {
		return fmt.Errorf("%s: %w", StepScaffold, err)
	}
	if exists {
		a.skip(StepScaffold, "project already exists")
		return nil
	}
	return a.step(StepScaffold, func() error {
		return a.scaffolder.Create(ctx)
	})
}

// EnsureSettings validates, repairs if needed, and patches settings.py.
func (a *App) EnsureSettings(ctx context.Context) error {
	return a.step(StepSettings, func() error {
		return a.patcher.Ensure(ctx, a.scaffolder.SettingsPath(), a.cfg.SettingsValues())
	})
}

// WaitForDependencies blocks until every dependency accepts connections.
func (a *App) WaitForDependencies(ctx context.Context) error {
	return a.step(StepWait, func() error {
		return a.waiter.WaitAll(ctx, a.Probes()...)
	})
}

// Migrate applies database migrations.
func (a *App) Migrate(ctx context.Context) error {
	return a.step(StepMigrate, func() error {
		return a.runner.Run(ctx, a.manageCommand("migrate", "--noinput"))
	})
}

// CollectStatic gathers static files when enabled.
func (a *App) CollectStatic(ctx context.Context) error {
	if !a.cfg.CollectStatic {
		a.skip(StepCollectStatic, "disabled by configuration")
		return nil
	}
	return a.step(StepCollectStatic, func() error {
		return a.runner.Run(ctx, a.manageCommand("collectstatic", "--noinput"))
	})
}

// Launch stops the status server and replaces the process with the
// application server.
func (a *App) Launch(ctx context.Context) error {
	return a.step(StepLaunch, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownGracePeriod)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server did not stop cleanly", zap.Error(err))
		}

		cmd := a.ServerCommand()
		a.logger.Info("starting server", zap.String("command", cmd.String()))
		return a.handoff(cmd)
	})
}

// Probes returns the readiness probes for the configured dependencies.
func (a *App) Probes() []readiness.Probe {
	if a.probes != nil {
		return a.probes
	}

	db := a.cfg.Django.DB
	var probes []readiness.Probe
	switch db.Engine {
	case settings.EngineSQLite:
		path := db.Name
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.cfg.ProjectDir, path)
		}
		probes = append(probes, readiness.SQLiteProbe{Path: path})
	default:
		probes = append(probes, readiness.PostgresProbe{
			Host:     db.Host,
			Port:     db.Port,
			User:     db.User,
			Password: db.Password,
			Database: db.Name,
			Timeout:  a.cfg.Wait.Timeout,
		})
	}

	if a.cfg.Django.RedisURL != "" {
		probes = append(probes, readiness.RedisProbe{URL: a.cfg.Django.RedisURL, Timeout: a.cfg.Wait.Timeout})
	}
	return probes
}

// ServerCommand returns the command the entrypoint hands off to. A
// configured command has "{port}" replaced with the server port.
func (a *App) ServerCommand() process.Command {
	port := strconv.Itoa(a.cfg.Django.Port)
	if len(a.cfg.ServerCommand) == 0 {
		return a.manageCommand("runserver", "0.0.0.0:"+port)
	}

	argv := make([]string, len(a.cfg.ServerCommand))
	for i, arg := range a.cfg.ServerCommand {
		argv[i] = strings.ReplaceAll(arg, "{port}", port)
	}
	return process.Command{
		Name: argv[0],
		Args: argv[1:],
		Dir:  a.cfg.ProjectDir,
		Env:  a.ChildEnv(),
	}
}

// ChildEnv returns the inherited environment overlaid with the resolved
// settings so every child sees the same values.
func (a *App) ChildEnv() []string {
	env := make(map[string]string)
	for _, kv := range a.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}

	if err := mergo.Merge(&env, a.resolvedEnv(), mergo.WithOverride); err != nil {
		a.logger.Warn("failed to merge child environment", zap.Error(err))
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+env[key])
	}
	return out
}

func (a *App) resolvedEnv() map[string]string {
	d := a.cfg.Django
	debug := "0"
	if d.Debug {
		debug = "1"
	}

	env := map[string]string{
		"DJANGO_SETTINGS_MODULE": d.ProjectName + ".settings",
		"PYTHONUNBUFFERED":       "1",
		"DJANGO_PROJECT_NAME":    d.ProjectName,
		"DJANGO_SECRET_KEY":      d.SecretKey,
		"DJANGO_DEBUG":           debug,
		"DJANGO_ALLOWED_HOSTS":   strings.Join(d.AllowedHosts, ","),
		"DJANGO_PORT":            strconv.Itoa(d.Port),
		"DJANGO_ORIGIN_PORT":     strconv.Itoa(d.OriginPort),
		"DJANGO_DB_ENGINE":       d.DB.Engine,
		"DJANGO_DB_NAME":         d.DB.Name,
		"DJANGO_DB_USER":         d.DB.User,
		"DJANGO_DB_PASSWORD":     d.DB.Password,
		"DJANGO_DB_HOST":         d.DB.Host,
		"DJANGO_DB_PORT":         strconv.Itoa(d.DB.Port),
	}
	if d.RedisURL != "" {
		env["DJANGO_REDIS_URL"] = d.RedisURL
	}
	return env
}

func (a *App) manageCommand(args ...string) process.Command {
	return process.Command{
		Name: a.cfg.Python,
		Args: append([]string{"manage.py"}, args...),
		Dir:  a.cfg.ProjectDir,
		Env:  a.ChildEnv(),
	}
}

func (a *App) step(name string, fn func() error) error {
	logger := a.logger.With(zap.String("step", name))
	if err := a.tracker.Start(name); err != nil {
		logger.Warn("untracked step", zap.Error(err))
	}
	logger.Info("step started")

	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	a.metrics.ObserveStep(name, elapsed, err)
	if trackErr := a.tracker.Finish(name, err); trackErr != nil {
		logger.Warn("untracked step", zap.Error(trackErr))
	}
	if err != nil {
		logger.Error("step failed", zap.Duration("duration", elapsed), zap.Error(err))
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Info("step finished", zap.Duration("duration", elapsed))
	return nil
}

func (a *App) skip(name, reason string) {
	if err := a.tracker.Skip(name, reason); err != nil {
		a.logger.Warn("untracked step", zap.String("step", name), zap.Error(err))
	}
	a.logger.Info("step skipped", zap.String("step", name), zap.String("reason", reason))
}
