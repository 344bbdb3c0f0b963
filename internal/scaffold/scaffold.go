package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/eugenenazirov/django-entrypoint/internal/process"
)

// ErrNoSettings is returned when startproject did not produce a settings module.
var ErrNoSettings = errors.New("scaffold produced no settings module")

// Scaffolder creates Django project skeletons with "python -m django startproject".
type Scaffolder struct {
	runner      process.Runner
	python      string
	projectDir  string
	projectName string
	env         []string
	logger      *zap.Logger
}

// Option configures Scaffolder behaviour.
type Option func(*Scaffolder)

// WithEnv sets the environment passed to startproject.
func WithEnv(env []string) Option {
	return func(s *Scaffolder) {
		s.env = env
	}
}

// New creates a Scaffolder for the project rooted at projectDir.
func New(runner process.Runner, python, projectDir, projectName string, logger *zap.Logger, opts ...Option) *Scaffolder {
	s := &Scaffolder{
		runner:      runner,
		python:      python,
		projectDir:  projectDir,
		projectName: projectName,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ManagePath returns the path of the project's manage.py.
func (s *Scaffolder) ManagePath() string {
	return filepath.Join(s.projectDir, "manage.py")
}

// SettingsPath returns the path of the project's settings module.
func (s *Scaffolder) SettingsPath() string {
	return settingsPath(s.projectDir, s.projectName)
}

// Exists reports whether the project directory already holds a Django project.
func (s *Scaffolder) Exists() (bool, error) {
	_, err := os.Stat(s.ManagePath())
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat manage.py: %w", err)
	}
}

// Create scaffolds the project into the project directory.
func (s *Scaffolder) Create(ctx context.Context) error {
	if err := os.MkdirAll(s.projectDir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}

	s.logger.Info("scaffolding project", zap.String("project", s.projectName), zap.String("dir", s.projectDir))
	if err := s.startProject(ctx, s.projectDir); err != nil {
		return err
	}

	if _, err := os.Stat(s.SettingsPath()); err != nil {
		return fmt.Errorf("%w: %v", ErrNoSettings, err)
	}
	return nil
}

// Fresh scaffolds a throwaway project and returns its settings module. The
// cleanup function removes the temporary project.
func (s *Scaffolder) Fresh(ctx context.Context) (string, func(), error) {
	dir, err := os.MkdirTemp("", "entrypoint-scaffold-")
	if err != nil {
		return "", nil, fmt.Errorf("create scaffold dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove scaffold dir", zap.String("dir", dir), zap.Error(err))
		}
	}

	if err := s.startProject(ctx, dir); err != nil {
		cleanup()
		return "", nil, err
	}

	path := settingsPath(dir, s.projectName)
	if _, err := os.Stat(path); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("%w: %v", ErrNoSettings, err)
	}
	return path, cleanup, nil
}

func (s *Scaffolder) startProject(ctx context.Context, dir string) error {
	cmd := process.Command{
		Name: s.python,
		Args: []string{"-m", "django", "startproject", s.projectName, dir},
		Env:  s.env,
	}
	if err := s.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("startproject: %w", err)
	}
	return nil
}

func settingsPath(dir, project string) string {
	return filepath.Join(dir, project, "settings.py")
}
