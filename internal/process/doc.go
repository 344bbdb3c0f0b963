// Package process runs the external programs a bootstrap needs: child
// commands whose output is streamed to the container log, and the final
// Exec that hands the process over to the application server.
package process
