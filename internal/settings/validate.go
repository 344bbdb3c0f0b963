package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// parseProgram parses the file named by argv[1] without importing or compiling it to disk.
const parseProgram = `import ast, sys; ast.parse(open(sys.argv[1], encoding="utf-8").read(), sys.argv[1])`

// Validator reports whether the settings module at path parses.
// Implementations return an error wrapping ErrInvalidSyntax for parse failures.
type Validator interface {
	Validate(ctx context.Context, path string) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, path string) error

// Validate calls f(ctx, path).
func (f ValidatorFunc) Validate(ctx context.Context, path string) error {
	return f(ctx, path)
}

// PythonValidator parses the module with the project's interpreter.
type PythonValidator struct {
	python string
}

// NewPythonValidator creates a validator that runs the given interpreter.
func NewPythonValidator(python string) *PythonValidator {
	return &PythonValidator{python: python}
}

// Validate runs ast.parse over the file. A non-zero exit is a syntax error;
// failing to start the interpreter is reported as is.
func (v *PythonValidator) Validate(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, v.python, "-c", parseProgram, path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %s", ErrInvalidSyntax, lastLine(out.String()))
	}
	return fmt.Errorf("run %s: %w", v.python, err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
