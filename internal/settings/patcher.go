package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const backupTimeLayout = "20060102T150405Z"

// TemplateSource produces a known-good settings module from a fresh scaffold.
// The returned cleanup removes everything Fresh created.
type TemplateSource interface {
	Fresh(ctx context.Context) (path string, cleanup func(), err error)
}

// Patcher validates, repairs and patches a settings module on disk.
type Patcher struct {
	validator Validator
	template  TemplateSource
	logger    *zap.Logger
	clock     func() time.Time
}

// PatcherOption configures Patcher behaviour.
type PatcherOption func(*Patcher)

// WithClock overrides the time source used for backup names.
func WithClock(clock func() time.Time) PatcherOption {
	return func(p *Patcher) {
		p.clock = clock
	}
}

// NewPatcher constructs a Patcher.
func NewPatcher(validator Validator, template TemplateSource, logger *zap.Logger, opts ...PatcherOption) *Patcher {
	p := &Patcher{
		validator: validator,
		template:  template,
		logger:    logger,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ensure makes the module at path parse and carry every value in v. A module
// that is missing or does not parse is regenerated once from the template;
// if it still does not parse Ensure fails with ErrUnrecoverable.
func (p *Patcher) Ensure(ctx context.Context, path string, v Values) error {
	needsRepair := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("settings module missing, regenerating", zap.String("path", path))
		needsRepair = true
	} else if err != nil {
		return fmt.Errorf("stat settings: %w", err)
	} else if err := p.validator.Validate(ctx, path); err != nil {
		if !errors.Is(err, ErrInvalidSyntax) {
			return fmt.Errorf("validate settings: %w", err)
		}
		p.logger.Warn("settings module does not parse, regenerating",
			zap.String("path", path), zap.Error(err))
		needsRepair = true
	}

	if needsRepair {
		backup, err := p.Repair(ctx, path)
		if err != nil {
			return err
		}
		p.logger.Info("settings module regenerated",
			zap.String("path", path), zap.String("backup", backup))
	}

	changed, err := p.Apply(ctx, path, v)
	if err != nil {
		return err
	}
	p.logger.Info("settings module patched", zap.String("path", path), zap.Bool("changed", changed))
	return nil
}

// Repair copies a freshly scaffolded module over path. An existing file is
// first preserved next to it; the backup path is returned ("" if there was
// nothing to back up).
func (p *Patcher) Repair(ctx context.Context, path string) (string, error) {
	fresh, cleanup, err := p.template.Fresh(ctx)
	if err != nil {
		return "", fmt.Errorf("scaffold fresh settings: %w", err)
	}
	defer cleanup()

	backup := ""
	if _, err := os.Stat(path); err == nil {
		backup = path + ".broken-" + p.clock().UTC().Format(backupTimeLayout)
		if err := copyFile(path, backup); err != nil {
			return "", fmt.Errorf("back up settings: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create settings dir: %w", err)
	}
	if err := copyFile(fresh, path); err != nil {
		return "", fmt.Errorf("copy fresh settings: %w", err)
	}

	if err := p.validator.Validate(ctx, path); err != nil {
		if errors.Is(err, ErrInvalidSyntax) {
			return backup, fmt.Errorf("%w: %v", ErrUnrecoverable, err)
		}
		return backup, fmt.Errorf("validate regenerated settings: %w", err)
	}
	return backup, nil
}

// Apply patches the module at path. The source must parse; the patched
// result is written to a temporary file and validated before it replaces the
// original. It reports whether the file content changed.
func (p *Patcher) Apply(ctx context.Context, path string, v Values) (bool, error) {
	if err := p.validator.Validate(ctx, path); err != nil {
		return false, fmt.Errorf("validate settings before patching: %w", err)
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}

	patched, err := Patch(src, v)
	if err != nil {
		return false, err
	}
	if bytes.Equal(src, patched) {
		return false, nil
	}

	if err := p.replace(ctx, path, patched); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Patcher) replace(ctx context.Context, path string, content []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.py")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp settings: %w", err)
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod temp settings: %w", err)
	}

	if err := p.validator.Validate(ctx, tmpPath); err != nil {
		if errors.Is(err, ErrInvalidSyntax) {
			return fmt.Errorf("%w: %v", ErrPatchInvalid, err)
		}
		return fmt.Errorf("validate patched settings: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	committed = true
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
