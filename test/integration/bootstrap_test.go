package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/django-entrypoint/internal/application"
	"github.com/eugenenazirov/django-entrypoint/internal/config"
	"github.com/eugenenazirov/django-entrypoint/internal/process"
	"github.com/eugenenazirov/django-entrypoint/internal/readiness"
	"github.com/eugenenazirov/django-entrypoint/internal/settings"
)

const brokenSettings = "DEBUG = (\n"

func fixtureSettings(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "internal", "settings", "testdata", "settings.py"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

// validator uses the real Python parser when available.
func validator(t *testing.T) settings.Validator {
	t.Helper()
	if python, err := exec.LookPath("python3"); err == nil {
		return settings.NewPythonValidator(python)
	}
	return settings.ValidatorFunc(func(_ context.Context, path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte(brokenSettings)) {
			return fmt.Errorf("%w: line 1", settings.ErrInvalidSyntax)
		}
		return nil
	})
}

// djangoRunner emulates the Python side of the bootstrap.
type djangoRunner struct {
	t        *testing.T
	settings []byte

	mu       sync.Mutex
	commands []string
	envs     [][]string
}

func (r *djangoRunner) Run(_ context.Context, cmd process.Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, strings.Join(cmd.Args, " "))
	r.envs = append(r.envs, cmd.Env)
	r.mu.Unlock()

	if len(cmd.Args) == 5 && cmd.Args[2] == "startproject" {
		name, dir := cmd.Args[3], cmd.Args[4]
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "manage.py"), []byte("#!/usr/bin/env python\n"), 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, name, "settings.py"), r.settings, 0o644)
	}
	return nil
}

func (r *djangoRunner) ran(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.commands {
		if strings.HasPrefix(cmd, prefix) {
			return true
		}
	}
	return false
}

func liveDatabase(t *testing.T) readiness.Probe {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = listener.Close() })
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return readiness.TCPProbe{Address: listener.Addr().String()}
}

func loadConfig(t *testing.T, dir string) config.Config {
	t.Helper()
	t.Setenv("ENTRYPOINT_PROJECT_DIR", dir)
	t.Setenv("ENTRYPOINT_SKIP_INSTALL", "false")
	t.Setenv("ENTRYPOINT_WAIT_DELAY", "1ms")
	t.Setenv("DJANGO_PROJECT_NAME", "app")
	t.Setenv("DJANGO_ALLOWED_HOSTS", "localhost, shop.example.com")
	t.Setenv("DJANGO_DB_HOST", "")
	t.Setenv("DJANGO_SECRET_KEY", `k"ey\with-escapes`)

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type capturedHandoff struct {
	cmds []process.Command
}

func (c *capturedHandoff) handoff(cmd process.Command) error {
	c.cmds = append(c.cmds, cmd)
	return nil
}

func TestBootstrapPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir)
	cfg.StatusAddr = "127.0.0.1:0"

	runner := &djangoRunner{t: t, settings: fixtureSettings(t)}
	handoff := &capturedHandoff{}
	db := liveDatabase(t)

	newApp := func() *application.App {
		app, err := application.New(cfg, zaptest.NewLogger(t),
			application.WithRunner(runner),
			application.WithHandoff(handoff.handoff),
			application.WithValidator(validator(t)),
			application.WithProbes(db),
		)
		if err != nil {
			t.Fatalf("new app: %v", err)
		}
		return app
	}

	app := newApp()
	if err := app.Start(); err != nil {
		t.Fatalf("start status server: %v", err)
	}
	if err := app.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for _, prefix := range []string{"-m pip install", "-m django startproject app", "manage.py migrate --noinput"} {
		if !runner.ran(prefix) {
			t.Fatalf("expected %q to run, got %v", prefix, runner.commands)
		}
	}

	settingsPath := filepath.Join(dir, "app", "settings.py")
	first, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	for _, want := range []string{
		`"https://shop.example.com:20059"`,
		`"ENGINE": "django.db.backends.postgresql"`,
		`os.environ.get("DJANGO_DB_HOST") or "db"`,
		`k\"ey\\with-escapes`,
	} {
		if !strings.Contains(string(first), want) {
			t.Fatalf("expected settings to contain %s:\n%s", want, first)
		}
	}

	if len(handoff.cmds) != 1 {
		t.Fatalf("expected one handoff, got %d", len(handoff.cmds))
	}
	server := handoff.cmds[0]
	if got := strings.Join(server.Argv(), " "); got != "python3 manage.py runserver 0.0.0.0:20059" {
		t.Fatalf("unexpected server command %q", got)
	}
	env := strings.Join(server.Env, "\n")
	for _, want := range []string{"DJANGO_SETTINGS_MODULE=app.settings", "DJANGO_DB_HOST=db", "DJANGO_ALLOWED_HOSTS=localhost,shop.example.com"} {
		if !strings.Contains(env, want) {
			t.Fatalf("expected child env to contain %s", want)
		}
	}

	if _, err := http.Get("http://" + app.StatusAddr() + "/api/health"); err == nil {
		t.Fatalf("expected status server to be stopped after handoff")
	}

	second := newApp()
	if err := second.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	again, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if !bytes.Equal(first, again) {
		t.Fatalf("second run changed settings:\n%s\n---\n%s", first, again)
	}
}

func TestBootstrapRepairsBrokenSettings(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir)

	runner := &djangoRunner{t: t, settings: fixtureSettings(t)}
	if err := runner.Run(context.Background(), process.Command{Args: []string{"-m", "django", "startproject", "app", dir}}); err != nil {
		t.Fatalf("seed project: %v", err)
	}
	settingsPath := filepath.Join(dir, "app", "settings.py")
	if err := os.WriteFile(settingsPath, []byte(brokenSettings), 0o644); err != nil {
		t.Fatalf("break settings: %v", err)
	}

	app, err := application.New(cfg, zaptest.NewLogger(t),
		application.WithRunner(runner),
		application.WithValidator(validator(t)),
	)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := app.Patch(context.Background()); err != nil {
		t.Fatalf("patch: %v", err)
	}

	repaired, err := os.ReadFile(settingsPath)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if bytes.Contains(repaired, []byte(brokenSettings)) || !bytes.Contains(repaired, []byte("CSRF_TRUSTED_ORIGINS")) {
		t.Fatalf("expected repaired and patched settings:\n%s", repaired)
	}

	backups, err := filepath.Glob(settingsPath + ".broken-*")
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected one backup, got %v (%v)", backups, err)
	}
	backup, err := os.ReadFile(backups[0])
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != brokenSettings {
		t.Fatalf("expected backup to hold the broken module, got %q", backup)
	}
}

func TestStatusEndpointDuringBootstrap(t *testing.T) {
	dir := t.TempDir()
	cfg := loadConfig(t, dir)
	cfg.StatusAddr = "127.0.0.1:0"

	app, err := application.New(cfg, zaptest.NewLogger(t),
		application.WithRunner(&djangoRunner{t: t, settings: fixtureSettings(t)}),
		application.WithValidator(validator(t)),
	)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	if err := app.Patch(context.Background()); err != nil {
		t.Fatalf("patch: %v", err)
	}

	resp, err := http.Get("http://" + app.StatusAddr() + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		State string `json:"state"`
		Steps []struct {
			Name  string `json:"name"`
			State string `json:"state"`
		} `json:"steps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.State != "running" {
		t.Fatalf("expected run to still be in progress, got %s", body.State)
	}
	states := make(map[string]string)
	for _, step := range body.Steps {
		states[step.Name] = step.State
	}
	if states[application.StepScaffold] != "succeeded" || states[application.StepSettings] != "succeeded" || states[application.StepMigrate] != "pending" {
		t.Fatalf("unexpected step states: %v", states)
	}
}
