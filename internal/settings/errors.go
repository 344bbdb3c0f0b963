package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSyntax is returned when a settings module does not parse.
	ErrInvalidSyntax = errors.New("settings module does not parse")
	// ErrPatchInvalid is returned when patching produced a module that does not parse.
	// The original file is left untouched.
	ErrPatchInvalid = errors.New("patched settings module does not parse")
	// ErrUnrecoverable is returned when the module is still invalid after regeneration.
	ErrUnrecoverable = errors.New("settings module is still invalid after regeneration")
)

// UnsupportedEngineError reports a database engine with no DATABASES template.
type UnsupportedEngineError struct {
	Engine string
}

func (e *UnsupportedEngineError) Error() string {
	return fmt.Sprintf("no DATABASES template for engine %q", e.Engine)
}
