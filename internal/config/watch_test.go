package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchAppliesReloadableChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webforge.yaml")
	if err := os.WriteFile(path, []byte("pool:\n  max_concurrent: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	current, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan ConfigDiff, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, current, func(_ *Config, d ConfigDiff) {
			applied <- d
		})
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("pool:\n  max_concurrent: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case d := <-applied:
		if !d.PoolChanged || d.NewPool.MaxConcurrent != 7 {
			t.Errorf("expected pool max 7, got %+v", d.NewPool)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("unexpected watch error: %v", err)
	}
}
