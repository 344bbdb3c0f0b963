package config

import "errors"

var (
	// ErrInvalidProjectName is returned when the project name is not a valid Python identifier.
	ErrInvalidProjectName = errors.New("project name must be a valid Python identifier")
	// ErrInvalidPort is returned when a configured port is outside 1-65535.
	ErrInvalidPort = errors.New("port must be between 1 and 65535")
	// ErrUnsupportedEngine is returned for database engines the entrypoint cannot wait for.
	ErrUnsupportedEngine = errors.New("unsupported database engine")
	// ErrInvalidHost is returned for allowed hosts that carry a scheme or path.
	ErrInvalidHost = errors.New("allowed host must be a bare host name")
	// ErrMissingPython is returned when no Python interpreter is configured.
	ErrMissingPython = errors.New("python interpreter must be set")
	// ErrInvalidWaitPolicy is returned when the readiness policy cannot be used.
	ErrInvalidWaitPolicy = errors.New("invalid wait policy")
)
