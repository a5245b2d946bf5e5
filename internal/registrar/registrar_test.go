package registrar

import (
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	commands [][]string
	err      error
}

func (r *fakeRunner) Run(name string, args ...string) ([]byte, []byte, int, error) {
	r.commands = append(r.commands, append([]string{name}, args...))
	if r.err != nil {
		return nil, []byte("permission denied"), 1, r.err
	}
	return nil, nil, 0, nil
}

func TestInstallRunsElevated(t *testing.T) {
	runner := &fakeRunner{}
	r := New(Config{Sudo: true, Runner: runner})

	if err := r.Install("k1"); err != nil {
		t.Fatalf("install: %v", err)
	}
	if len(runner.commands) != 1 || strings.Join(runner.commands[0], " ") != "sudo rk install k1" {
		t.Fatalf("unexpected invocation %v", runner.commands)
	}
}

func TestUninstallWithoutSudo(t *testing.T) {
	runner := &fakeRunner{}
	r := New(Config{Runner: runner})

	if err := r.Uninstall("k1"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if strings.Join(runner.commands[0], " ") != "rk uninstall k1" {
		t.Fatalf("unexpected invocation %v", runner.commands)
	}
}

func TestCustomCommand(t *testing.T) {
	runner := &fakeRunner{}
	r := New(Config{Command: "/opt/rk/bin/rk", Runner: runner})

	if err := r.Install("k1"); err != nil {
		t.Fatalf("install: %v", err)
	}
	if runner.commands[0][0] != "/opt/rk/bin/rk" {
		t.Fatalf("unexpected command %v", runner.commands)
	}
}

func TestFailureWrapsErrRegistrar(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	r := New(Config{Runner: runner})

	err := r.Install("k1")
	if !errors.Is(err, ErrRegistrar) {
		t.Fatalf("expected ErrRegistrar, got %v", err)
	}
	if !strings.Contains(err.Error(), "k1") || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("error should carry id and stderr: %v", err)
	}
}
