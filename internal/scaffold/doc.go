// Package scaffold generates Django project skeletons. It is used both to
// create a missing project and to produce a known-good settings module that
// replaces one which no longer parses.
package scaffold
