package trace

import (
	"path/filepath"
	"testing"

	"github.com/oisee/symexec/pkg/ir"
	"github.com/oisee/symexec/pkg/state"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := []state.PathEntry{
		{Location: ir.Location{ModuleName: "m", FuncName: "main", BlockName: "entry", InstIndex: 0}},
		{Location: ir.Location{ModuleName: "m", FuncName: "main", BlockName: "B", InstIndex: 3}},
	}
	dir := t.TempDir()
	file := filepath.Join(dir, "path.gob")

	if err := Save(file, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != len(path) {
		t.Fatalf("got %d entries, want %d", len(got), len(path))
	}
	for i := range path {
		if got[i] != path[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], path[i])
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.gob")); err == nil {
		t.Errorf("expected an error loading a nonexistent file")
	}
}
