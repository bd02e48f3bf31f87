package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mtzanidakis/webforge/internal/trace"
)

func TestSnapshotExtract(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "snapshot.tar.zst")
	files := map[string]string{
		"src/App.tsx":          "export default function App() { return null; }",
		"src/components/a.tsx": "export const A = 1;",
	}
	if err := trace.WriteArchive(archive, files); err != nil {
		t.Fatalf("write archive: %v", err)
	}

	dir := t.TempDir()
	if err := runSnapshot([]string{"extract", archive, dir}); err != nil {
		t.Fatalf("extract: %v", err)
	}
	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
}

func TestSnapshotExtractRejectsEscapes(t *testing.T) {
	err := snapshotExtract(map[string]string{"../evil.txt": "x"}, t.TempDir())
	if err == nil {
		t.Fatal("expected error for path outside the target dir")
	}
}
