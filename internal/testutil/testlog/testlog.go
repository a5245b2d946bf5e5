// Package testlog routes zerolog output through the test log.
package testlog

import (
	"testing"

	"github.com/rs/zerolog"
)

type writer struct {
	t *testing.T
}

func (w writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// New returns a debug-level logger that writes into t's log.
func New(t *testing.T) zerolog.Logger {
	t.Helper()
	return zerolog.New(writer{t: t}).Level(zerolog.DebugLevel)
}
