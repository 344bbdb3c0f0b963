//go:build !unix

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Exec runs cmd as a child with inherited stdio and exits with its status,
// since the platform cannot replace the process image.
func Exec(cmd Command) error {
	if cmd.Name == "" {
		return ErrEmptyCommand
	}

	path, err := lookPath(cmd)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cmd.Name, err)
	}

	c := exec.Command(path, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = cmd.Env
	c.Stdin, c.Stdout, c.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("run %s: %w", path, err)
	}
	os.Exit(0)
	return nil
}
