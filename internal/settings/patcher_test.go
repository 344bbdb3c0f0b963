package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const brokenMarker = "!!broken!!"

// markerValidator treats any file containing brokenMarker as unparsable.
func markerValidator(calls *[]string) Validator {
	return ValidatorFunc(func(_ context.Context, path string) error {
		if calls != nil {
			*calls = append(*calls, filepath.Base(path))
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte(brokenMarker)) {
			return fmt.Errorf("%w: line 1", ErrInvalidSyntax)
		}
		return nil
	})
}

type fixtureTemplate struct {
	content []byte
	calls   int
}

func (f *fixtureTemplate) Fresh(_ context.Context) (string, func(), error) {
	f.calls++
	dir, err := os.MkdirTemp("", "fresh-settings-")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "settings.py")
	if err := os.WriteFile(path, f.content, 0o644); err != nil {
		return "", nil, err
	}
	return path, func() { _ = os.RemoveAll(dir) }, nil
}

func writeSettings(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app", "settings.py")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func fixedClock() time.Time {
	return time.Date(2024, 11, 1, 12, 30, 0, 0, time.UTC)
}

func TestEnsurePatchesValidModule(t *testing.T) {
	path := writeSettings(t, readFixture(t))
	tmpl := &fixtureTemplate{content: readFixture(t)}
	patcher := NewPatcher(markerValidator(nil), tmpl, zaptest.NewLogger(t))

	require.NoError(t, patcher.Ensure(context.Background(), path, testValues()))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, patcher.Ensure(context.Background(), path, testValues()))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), "CSRF_TRUSTED_ORIGINS = [")
	assert.Zero(t, tmpl.calls, "valid module must not be regenerated")
}

func TestApplyReportsChange(t *testing.T) {
	path := writeSettings(t, readFixture(t))
	patcher := NewPatcher(markerValidator(nil), &fixtureTemplate{}, zaptest.NewLogger(t))

	changed, err := patcher.Apply(context.Background(), path, testValues())
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = patcher.Apply(context.Background(), path, testValues())
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestEnsureRepairsBrokenModule(t *testing.T) {
	broken := append(readFixture(t), []byte("\n"+brokenMarker+"\n")...)
	path := writeSettings(t, broken)
	tmpl := &fixtureTemplate{content: readFixture(t)}
	patcher := NewPatcher(markerValidator(nil), tmpl, zaptest.NewLogger(t), WithClock(fixedClock))

	require.NoError(t, patcher.Ensure(context.Background(), path, testValues()))

	repaired, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(repaired), brokenMarker)
	assert.Contains(t, string(repaired), `ASGI_APPLICATION = "app.asgi.application"`)
	assert.Equal(t, 1, tmpl.calls)

	backup, err := os.ReadFile(path + ".broken-20241101T123000Z")
	require.NoError(t, err)
	assert.Equal(t, string(broken), string(backup))
}

func TestEnsureRegeneratesMissingModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app", "settings.py")
	tmpl := &fixtureTemplate{content: readFixture(t)}
	patcher := NewPatcher(markerValidator(nil), tmpl, zaptest.NewLogger(t))

	require.NoError(t, patcher.Ensure(context.Background(), path, testValues()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DATABASES = {")

	matches, err := filepath.Glob(path + ".broken-*")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestEnsureFailsWhenRegenerationIsStillBroken(t *testing.T) {
	path := writeSettings(t, []byte(brokenMarker))
	tmpl := &fixtureTemplate{content: []byte(brokenMarker)}
	patcher := NewPatcher(markerValidator(nil), tmpl, zaptest.NewLogger(t))

	err := patcher.Ensure(context.Background(), path, testValues())
	require.ErrorIs(t, err, ErrUnrecoverable)
	assert.Equal(t, 1, tmpl.calls, "repair is attempted exactly once")
}

func TestApplyKeepsOriginalWhenPatchedModuleIsInvalid(t *testing.T) {
	original := readFixture(t)
	path := writeSettings(t, original)

	var calls []string
	inner := markerValidator(&calls)
	validator := ValidatorFunc(func(ctx context.Context, p string) error {
		if strings.HasPrefix(filepath.Base(p), ".settings-") {
			_ = inner.Validate(ctx, p)
			return fmt.Errorf("%w: unexpected indent", ErrInvalidSyntax)
		}
		return inner.Validate(ctx, p)
	})
	patcher := NewPatcher(validator, &fixtureTemplate{content: original}, zaptest.NewLogger(t))

	err := patcher.Ensure(context.Background(), path, testValues())
	require.ErrorIs(t, err, ErrPatchInvalid)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, string(original), string(data))

	leftovers, globErr := filepath.Glob(filepath.Join(filepath.Dir(path), ".settings-*"))
	require.NoError(t, globErr)
	assert.Empty(t, leftovers)
	assert.Equal(t, "settings.py", calls[0], "source is validated before patching")
}

func TestEnsurePropagatesValidatorFailure(t *testing.T) {
	path := writeSettings(t, readFixture(t))
	boom := errors.New("python3: not found")
	validator := ValidatorFunc(func(context.Context, string) error { return boom })
	tmpl := &fixtureTemplate{content: readFixture(t)}
	patcher := NewPatcher(validator, tmpl, zaptest.NewLogger(t))

	err := patcher.Ensure(context.Background(), path, testValues())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, tmpl.calls)
}

func TestPythonValidator(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	validator := NewPythonValidator(python)
	ctx := context.Background()

	patched, err := Patch(readFixture(t), testValues())
	require.NoError(t, err)

	good := writeSettings(t, patched)
	assert.NoError(t, validator.Validate(ctx, good))

	bad := writeSettings(t, []byte("DEBUG = (\n"))
	assert.ErrorIs(t, validator.Validate(ctx, bad), ErrInvalidSyntax)
}
