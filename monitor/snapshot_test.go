package monitor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotStore_RoundTrip(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())

	rec := Record{
		"protocolSection": map[string]any{
			"statusModule": map[string]any{"overallStatus": "RECRUITING"},
		},
	}
	if err := s.Write("NCT12345678", rec); err != nil {
		t.Fatal(err)
	}
	if !s.Exists("NCT12345678") {
		t.Fatal("snapshot should exist after write")
	}

	got, err := s.Read("NCT12345678")
	if err != nil {
		t.Fatal(err)
	}
	proto := got.ProtocolSection()
	status, _ := proto["statusModule"].(map[string]any)
	if status["overallStatus"] != "RECRUITING" {
		t.Fatalf("unexpected snapshot content: %+v", got)
	}
}

func TestSnapshotStore_ReadMissing(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())
	if _, err := s.Read("NCT99999999"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
	if s.Exists("NCT99999999") {
		t.Fatal("Exists should be false for missing snapshot")
	}
}

func TestSnapshotStore_ReadCorrupt(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())
	if err := os.WriteFile(s.Path("NCT00000001"), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := s.Read("NCT00000001")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if errors.Is(err, ErrSnapshotNotFound) {
		t.Fatal("corrupt snapshot must not read as missing")
	}
}

func TestSnapshotStore_WriteCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	s := NewSnapshotStore(dir)
	if err := s.Write("NCT00000002", Record{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(s.Path("NCT00000002")); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotStore_OverwriteReplaces(t *testing.T) {
	s := NewSnapshotStore(t.TempDir())
	if err := s.Write("NCT00000003", Record{"version": "old"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("NCT00000003", Record{"version": "new"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read("NCT00000003")
	if err != nil {
		t.Fatal(err)
	}
	if got["version"] != "new" {
		t.Fatalf("expected overwrite, got %v", got["version"])
	}
}

func TestSnapshotStore_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	s := NewSnapshotStore(dir)
	if err := s.Write("NCT00000004", Record{"k": "v"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the snapshot file, found %d entries", len(entries))
	}
}
