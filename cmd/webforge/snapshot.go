package main

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/mtzanidakis/webforge/internal/trace"
)

func runSnapshot(args []string) error {
	if len(args) < 2 {
		printSnapshotUsage()
		return nil
	}

	files, err := trace.ReadArchive(args[1])
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		return snapshotList(files)
	case "extract":
		if len(args) < 3 {
			return fmt.Errorf("usage: webforge snapshot extract <archive> <dir>")
		}
		return snapshotExtract(files, args[2])
	default:
		printSnapshotUsage()
		return nil
	}
}

func printSnapshotUsage() {
	fmt.Fprintf(os.Stderr, "Usage: webforge snapshot <command> <archive>\n\nCommands:\n  list <archive>           List files and sizes\n  extract <archive> <dir>  Write the project files under dir\n")
}

func snapshotList(files map[string]string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE")
	total := 0
	for _, name := range slices.Sorted(maps.Keys(files)) {
		fmt.Fprintf(w, "%s\t%d\n", name, len(files[name]))
		total += len(files[name])
	}
	fmt.Fprintf(w, "%d files\t%d\n", len(files), total)
	return w.Flush()
}

// snapshotExtract writes files under dir, refusing paths that escape it.
func snapshotExtract(files map[string]string, dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for name, content := range files {
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("refusing to extract %s outside %s", name, dir)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	fmt.Printf("Extracted %d files to %s\n", len(files), dir)
	return nil
}
