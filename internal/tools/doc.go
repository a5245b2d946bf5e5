// Package tools provides local process execution helpers used by the
// registrar.
//
// Ownership boundary:
// - command execution helpers
package tools
