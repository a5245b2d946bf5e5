package kernel

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalid = errors.New("kernel: invalid descriptor")

// Spec carries the caller-supplied fields for one remote kernel.
type Spec struct {
	Host        string
	ID          string
	VenvName    string
	PythonCmd   string
	DisplayName string
}

// Kernel identifies one remote kernel: the host it runs on, its unique id
// within the local manifest, the optional venv it lives in, and the
// interpreter used to create it. Values are built through New and never
// mutated afterwards.
type Kernel struct {
	Host        string
	ID          string
	VenvName    string
	PythonCmd   string
	DisplayName string
}

// New validates a spec and returns the descriptor. Host, ID, and PythonCmd
// are required; DisplayName defaults to "<host> :: <id>".
func New(spec Spec) (Kernel, error) {
	host := strings.TrimSpace(spec.Host)
	id := strings.TrimSpace(spec.ID)
	python := strings.TrimSpace(spec.PythonCmd)
	if host == "" || id == "" || python == "" {
		return Kernel{}, fmt.Errorf("%w: host=%q id=%q python=%q (all required)", ErrInvalid, spec.Host, spec.ID, spec.PythonCmd)
	}

	display := strings.TrimSpace(spec.DisplayName)
	if display == "" {
		display = fmt.Sprintf("%s :: %s", host, id)
	}

	return Kernel{
		Host:        host,
		ID:          id,
		VenvName:    strings.TrimSpace(spec.VenvName),
		PythonCmd:   python,
		DisplayName: display,
	}, nil
}

// Equal reports whether two descriptors refer to the same remote
// configuration. ID and DisplayName are deliberately excluded so that the
// same (host, venv, interpreter) registered under a different id is
// detectable as a duplicate.
func (k Kernel) Equal(other Kernel) bool {
	return k.Host == other.Host &&
		k.VenvName == other.VenvName &&
		k.PythonCmd == other.PythonCmd
}

// String renders the non-empty fields for logs and error messages.
func (k Kernel) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kernel %s :: host=%s", k.ID, k.Host)
	if k.VenvName != "" {
		fmt.Fprintf(&b, " venv=%s", k.VenvName)
	}
	fmt.Fprintf(&b, " python=%s", k.PythonCmd)
	return b.String()
}
