// Package trace persists a recorded execution path to disk, the same way
// pkg/result's checkpoint support persists search progress: gob-encode a
// plain snapshot struct through a file handle.
package trace

import (
	"encoding/gob"
	"os"

	"github.com/oisee/symexec/pkg/ir"
	"github.com/oisee/symexec/pkg/state"
)

func init() {
	gob.Register(ir.Location{})
	gob.Register(state.PathEntry{})
}

// Snapshot is the on-disk form of a recorded path.
type Snapshot struct {
	Path []state.PathEntry
}

// Save writes path to the file at p.
func Save(p string, path []state.PathEntry) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(&Snapshot{Path: path})
}

// Load reads a previously-saved path from the file at p.
func Load(p string) ([]state.PathEntry, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snap Snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, err
	}
	return snap.Path, nil
}
