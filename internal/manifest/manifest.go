// Package manifest owns the local durable registry of remote kernels.
//
// Ownership boundary:
// - manifest record shape and JSON encoding
// - whole-document load/save with atomic replace
// - exclusive-lock serialization of load→mutate→save
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/rkops/rkctl/internal/kernel"
)

// Language is the constant runtime tag stored on every record.
const Language = "python"

var (
	ErrUnreadable = errors.New("manifest: unreadable")
	ErrLock       = errors.New("manifest: lock failed")
)

// Record is one persisted manifest entry, keyed by kernel id in the
// enclosing document.
type Record struct {
	DisplayName string  `json:"display_name"`
	Interpreter string  `json:"interpreter"`
	Language    string  `json:"language"`
	RemoteHost  string  `json:"remote_host"`
	Venv        *string `json:"venv"`
}

// NewRecord derives the persisted record for a descriptor. RemoteHost is
// composed as "user@host".
func NewRecord(k kernel.Kernel, user string) Record {
	var venv *string
	if k.VenvName != "" {
		v := k.VenvName
		venv = &v
	}
	return Record{
		DisplayName: k.DisplayName,
		Interpreter: k.PythonCmd,
		Language:    Language,
		RemoteHost:  fmt.Sprintf("%s@%s", user, k.Host),
		Venv:        venv,
	}
}

// Host returns the host portion of RemoteHost, without the user prefix.
func (r Record) Host() string {
	if i := strings.LastIndex(r.RemoteHost, "@"); i >= 0 {
		return r.RemoteHost[i+1:]
	}
	return r.RemoteHost
}

// User returns the user portion of RemoteHost, or "" when none is stored.
func (r Record) User() string {
	if i := strings.LastIndex(r.RemoteHost, "@"); i >= 0 {
		return r.RemoteHost[:i]
	}
	return ""
}

// Kernel reconstructs the descriptor for a record under the given id.
func (r Record) Kernel(id string) (kernel.Kernel, error) {
	var venv string
	if r.Venv != nil {
		venv = *r.Venv
	}
	k, err := kernel.New(kernel.Spec{
		Host:        r.Host(),
		ID:          id,
		VenvName:    venv,
		PythonCmd:   r.Interpreter,
		DisplayName: r.DisplayName,
	})
	if err != nil {
		return kernel.Kernel{}, fmt.Errorf("%w: record %q: %v", ErrUnreadable, id, err)
	}
	return k, nil
}

// Store reads and writes the manifest file. The manifest is the single
// source of truth for which remote kernels this machine manages, so every
// mutation goes through Update, which holds an exclusive file lock for the
// whole load→mutate→save sequence.
type Store struct {
	path string
	lock *flock.Flock
}

// NewStore returns a store for the manifest at path. The lock file lives
// next to the manifest.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the manifest file location.
func (s *Store) Path() string {
	return s.path
}

// Init writes an empty manifest if none exists yet. An existing file is
// left untouched.
func (s *Store) Init() error {
	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", ErrUnreadable, s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return s.Save(map[string]Record{})
}

// Load reads the whole manifest. A missing, unreadable, or malformed file
// is fatal; there is no silent fallback to an empty manifest.
func (s *Store) Load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, s.path, err)
	}
	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, s.path, err)
	}
	if records == nil {
		return nil, fmt.Errorf("%w: %s: document is null", ErrUnreadable, s.path)
	}
	return records, nil
}

// Save replaces the whole manifest. The document is written to a temp file
// in the same directory and renamed into place so a crash never leaves a
// half-written manifest behind.
func (s *Store) Save(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".kernels-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Update runs fn on the current mapping and persists the result, holding
// the exclusive lock across the whole sequence. When fn returns an error
// nothing is written and the error is returned unchanged.
func (s *Store) Update(fn func(map[string]Record) error) error {
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLock, s.path, err)
	}
	defer s.lock.Unlock()

	records, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(records); err != nil {
		return err
	}
	return s.Save(records)
}

// List reconstructs every record as a descriptor, ordered by kernel id.
// When excludeHost is non-empty, entries on that host are dropped.
func (s *Store) List(excludeHost string) ([]kernel.Kernel, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	kernels := make([]kernel.Kernel, 0, len(ids))
	for _, id := range ids {
		rec := records[id]
		if excludeHost != "" && rec.Host() == excludeHost {
			continue
		}
		k, err := rec.Kernel(id)
		if err != nil {
			return nil, err
		}
		kernels = append(kernels, k)
	}
	return kernels, nil
}
