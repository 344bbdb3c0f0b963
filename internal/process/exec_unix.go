//go:build unix

package process

import (
	"fmt"
	"os"
	"syscall"
)

// Exec replaces the current process with cmd. On success it does not return.
func Exec(cmd Command) error {
	if cmd.Name == "" {
		return ErrEmptyCommand
	}

	path, err := lookPath(cmd)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", cmd.Name, err)
	}
	if cmd.Dir != "" {
		if err := os.Chdir(cmd.Dir); err != nil {
			return fmt.Errorf("chdir %s: %w", cmd.Dir, err)
		}
	}

	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	if err := syscall.Exec(path, cmd.Argv(), env); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}
