package manifest

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rkops/rkctl/internal/kernel"
)

func testStore(t *testing.T, document string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kernels.json")
	if document != "" {
		if err := os.WriteFile(path, []byte(document), 0o644); err != nil {
			t.Fatalf("write manifest: %v", err)
		}
	}
	return NewStore(path)
}

func TestLoadMissingFileIsFatal(t *testing.T) {
	s := testStore(t, "")
	if _, err := s.Load(); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable for missing file, got %v", err)
	}
}

func TestLoadMalformedDocumentIsFatal(t *testing.T) {
	s := testStore(t, "{not json")
	if _, err := s.Load(); !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable for malformed document, got %v", err)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	s := testStore(t, "{}")
	k, _ := kernel.New(kernel.Spec{Host: "10.0.0.5", ID: "k1", VenvName: "envA", PythonCmd: "python3.8"})

	if err := s.Save(map[string]Record{"k1": NewRecord(k, "ubuntu")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	records, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	rec, ok := records["k1"]
	if !ok {
		t.Fatal("record k1 missing after save")
	}
	if rec.RemoteHost != "ubuntu@10.0.0.5" {
		t.Fatalf("unexpected remote_host %q", rec.RemoteHost)
	}
	if rec.Language != Language {
		t.Fatalf("unexpected language %q", rec.Language)
	}
	if rec.Venv == nil || *rec.Venv != "envA" {
		t.Fatalf("unexpected venv %v", rec.Venv)
	}
}

func TestSavedDocumentShape(t *testing.T) {
	s := testStore(t, "{}")
	k, _ := kernel.New(kernel.Spec{Host: "10.0.0.5", ID: "k1", PythonCmd: "python3.8"})
	if err := s.Save(map[string]Record{"k1": NewRecord(k, "ubuntu")}); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("saved manifest is not valid json: %v", err)
	}
	entry := doc["k1"]
	for _, key := range []string{"display_name", "interpreter", "language", "remote_host", "venv"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("saved record missing key %q: %v", key, entry)
		}
	}
	if entry["venv"] != nil {
		t.Fatalf("venv should serialize as null when unset, got %v", entry["venv"])
	}
}

func TestUpdateErrorLeavesFileAlone(t *testing.T) {
	s := testStore(t, `{"k1":{"display_name":"d","interpreter":"python3","language":"python","remote_host":"ubuntu@h","venv":null}}`)
	before, _ := os.ReadFile(s.Path())

	boom := errors.New("boom")
	if err := s.Update(func(records map[string]Record) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	after, _ := os.ReadFile(s.Path())
	if string(before) != string(after) {
		t.Fatal("manifest changed despite update error")
	}
}

func TestRecordHostAndUser(t *testing.T) {
	rec := Record{RemoteHost: "ubuntu@10.0.0.5"}
	if rec.Host() != "10.0.0.5" || rec.User() != "ubuntu" {
		t.Fatalf("unexpected split: host=%q user=%q", rec.Host(), rec.User())
	}
	bare := Record{RemoteHost: "10.0.0.5"}
	if bare.Host() != "10.0.0.5" || bare.User() != "" {
		t.Fatalf("unexpected split without user: host=%q user=%q", bare.Host(), bare.User())
	}
}

func TestListReconstructsAndFilters(t *testing.T) {
	s := testStore(t, `{
		"k1": {"display_name": "one", "interpreter": "python3.8", "language": "python", "remote_host": "ubuntu@10.0.0.5", "venv": "envA"},
		"k2": {"display_name": "two", "interpreter": "python3", "language": "python", "remote_host": "ubuntu@10.0.0.9", "venv": null}
	}`)

	all, err := s.List("")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 kernels, got %d", len(all))
	}
	if all[0].ID != "k1" || all[1].ID != "k2" {
		t.Fatalf("listing not ordered by id: %v", all)
	}
	if all[0].Host != "10.0.0.5" || all[0].VenvName != "envA" || all[0].PythonCmd != "python3.8" {
		t.Fatalf("k1 reconstructed wrong: %+v", all[0])
	}

	filtered, err := s.List("10.0.0.5")
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "k2" {
		t.Fatalf("filter by host failed: %v", filtered)
	}
}

func TestInitCreatesOnceAndPreserves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rk", "kernels.json")
	s := NewStore(path)

	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	records, err := s.Load()
	if err != nil {
		t.Fatalf("load after init: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty manifest, got %v", records)
	}

	k, _ := kernel.New(kernel.Spec{Host: "h", ID: "k1", PythonCmd: "python3"})
	if err := s.Save(map[string]Record{"k1": NewRecord(k, "ubuntu")}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Init(); err != nil {
		t.Fatalf("second init: %v", err)
	}
	records, _ = s.Load()
	if len(records) != 1 {
		t.Fatal("init clobbered an existing manifest")
	}
}
