// Package progress records the state of each bootstrap step so the status
// endpoint can report where the entrypoint is.
package progress
