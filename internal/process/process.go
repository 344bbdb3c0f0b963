package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyCommand is returned when a command has no program name.
var ErrEmptyCommand = errors.New("command has no program")

// Command is a child process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Runner runs a command to completion.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// Shell runs commands as child processes with their output streamed through.
type Shell struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

// NewShell creates a Shell writing child output to stdout and stderr.
func NewShell(logger *zap.Logger, stdout, stderr io.Writer) *Shell {
	return &Shell{stdout: stdout, stderr: stderr, logger: logger}
}

// Run starts the command and waits for it. A non-zero exit is returned as
// an error carrying the command line and exit code.
func (s *Shell) Run(ctx context.Context, cmd Command) error {
	if cmd.Name == "" {
		return ErrEmptyCommand
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdout = s.stdout
	c.Stderr = s.stderr

	s.logger.Info("running command", zap.String("command", cmd.String()), zap.String("dir", cmd.Dir))
	start := time.Now()
	err := c.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Command: cmd.String(), Code: exitErr.ExitCode(), Err: err}
		}
		return fmt.Errorf("%s: %w", cmd, err)
	}
	s.logger.Debug("command finished", zap.String("command", cmd.String()), zap.Duration("duration", time.Since(start)))
	return nil
}

// ExitError reports a command that exited unsuccessfully.
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// lookPath resolves the program relative to the command directory when it
// contains a path separator, and through PATH otherwise.
func lookPath(cmd Command) (string, error) {
	name := cmd.Name
	if strings.ContainsRune(name, filepath.Separator) && !filepath.IsAbs(name) && cmd.Dir != "" {
		name = filepath.Join(cmd.Dir, name)
	}
	return exec.LookPath(name)
}
