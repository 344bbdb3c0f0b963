// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables, CLI flags) with precedence: CLI flags > Environment
// variables > YAML config > Defaults. It resolves every value the settings
// patcher and the readiness waiter need, so neither reads the environment.
package config
