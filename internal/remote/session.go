// Package remote is the SSH transport boundary. The lifecycle manager only
// depends on the Session interface; the ssh-backed Client behind it handles
// authentication, host-key checks, command execution, and file upload.
package remote

import (
	"context"
	"errors"
)

var ErrTransport = errors.New("remote: transport failure")

// Result is the structured outcome of one remote command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// OK reports whether the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Session executes commands and copies files on one remote host. A non-nil
// error means the transport itself failed; a command that ran and exited
// non-zero is reported through Result, not error, so callers decide per
// command whether a failure aborts the sequence.
type Session interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	Upload(ctx context.Context, localPath, remotePath string) error
	Close() error
}

// Dialer opens a session for a host. The launcher takes one of these so
// tests can inject a fake session.
type Dialer func(cfg Config) (Session, error)
