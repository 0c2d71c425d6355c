package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrSnapshotNotFound is returned when no snapshot exists for an id.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore keeps the latest fetched copy of each trial as one JSON
// document per id, overwritten in place on every successful fetch.
type SnapshotStore struct {
	dir string
}

func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

// Path returns the stable snapshot location for an id.
func (s *SnapshotStore) Path(id string) string {
	return filepath.Join(s.dir, id+"_latest.json")
}

// Exists reports whether a snapshot is stored for the id.
func (s *SnapshotStore) Exists(id string) bool {
	_, err := os.Stat(s.Path(id))
	return err == nil
}

// Read loads the stored snapshot. ErrSnapshotNotFound when absent;
// any other error means the file exists but could not be decoded.
func (s *SnapshotStore) Read(id string) (Record, error) {
	b, err := os.ReadFile(s.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return rec, nil
}

// Write overwrites the snapshot for an id. The write goes through a
// temporary file and a rename so readers never observe a partial document.
func (s *SnapshotStore) Write(id string, rec Record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path(id), b)
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	_, writeErr := tmp.Write(b)
	closeErr := tmp.Close()
	if writeErr != nil {
		_ = os.Remove(tmp.Name())
		return writeErr
	}
	if closeErr != nil {
		_ = os.Remove(tmp.Name())
		return closeErr
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
