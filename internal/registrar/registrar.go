// Package registrar invokes the external rk tool that finalizes or removes
// a kernel's registration in the local notebook front end.
package registrar

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rkops/rkctl/internal/tools"
)

var ErrRegistrar = errors.New("registrar: command failed")

// Config selects the external command and how it is run.
type Config struct {
	// Command is the registrar binary, "rk" when empty.
	Command string
	// Sudo runs the registrar elevated, which the rk tool requires for
	// kernelspec installation.
	Sudo bool
	// Runner defaults to local process execution.
	Runner tools.CommandRunner
}

// Registrar shells out to the local kernel registrar and checks its exit
// status.
type Registrar struct {
	command string
	sudo    bool
	runner  tools.CommandRunner
}

// New builds a registrar from cfg, applying defaults.
func New(cfg Config) *Registrar {
	command := strings.TrimSpace(cfg.Command)
	if command == "" {
		command = "rk"
	}
	runner := cfg.Runner
	if runner == nil {
		runner = tools.ExecRunner{}
	}
	return &Registrar{command: command, sudo: cfg.Sudo, runner: runner}
}

// Install registers kernel id with the local front end.
func (r *Registrar) Install(id string) error {
	return r.run("install", id)
}

// Uninstall removes kernel id from the local front end.
func (r *Registrar) Uninstall(id string) error {
	return r.run("uninstall", id)
}

func (r *Registrar) run(action, id string) error {
	name := r.command
	args := []string{action, id}
	if r.sudo {
		name = "sudo"
		args = []string{r.command, action, id}
	}

	_, stderr, exitCode, err := r.runner.Run(name, args...)
	if err == nil {
		return nil
	}
	return fmt.Errorf(
		"%w: %s %s %s exit=%d stderr=%q: %v",
		ErrRegistrar, r.command, action, id, exitCode, strings.TrimSpace(string(stderr)), err,
	)
}
