package remote

import "strings"

// Command is one structured remote invocation: a program name, an argument
// list, and an optional privilege-escalation prefix. Arguments are kept as a
// list until the transport boundary so provisioning sequences can be
// asserted against without a live connection.
type Command struct {
	Name string
	Args []string
	Sudo bool
}

// Cmd builds a command.
func Cmd(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// WithSudo returns a copy of the command with the escalation prefix set.
func (c Command) WithSudo(sudo bool) Command {
	c.Sudo = sudo
	return c
}

// String renders the command as a shell line. Arguments that need it are
// single-quoted; plain arguments stay bare so the remote shell still expands
// a leading ~/ in venv paths.
func (c Command) String() string {
	var b strings.Builder
	if c.Sudo {
		b.WriteString("sudo ")
	}
	b.WriteString(shellQuote(c.Name))
	for _, arg := range c.Args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	return b.String()
}

func shellQuote(value string) string {
	if value == "" {
		return "''"
	}
	if isShellSafe(value) {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func isShellSafe(value string) bool {
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case strings.IndexByte("_-./~:=@%+,", c) >= 0:
		default:
			return false
		}
	}
	return true
}
