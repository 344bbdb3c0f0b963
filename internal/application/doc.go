// Package application wires configuration into the bootstrap pipeline:
// dependency install, project scaffold, settings repair and patching,
// readiness waiting, migrations, static files and the final server handoff.
// It also owns the optional status server that reports progress while the
// pipeline runs.
package application
