package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestTracer(t *testing.T) *Tracer {
	t.Helper()
	tr, err := New(t.TempDir(), "conv-1", "Web_0001", "build a todo app")
	if err != nil {
		t.Fatalf("new tracer: %v", err)
	}
	return tr
}

func TestTimelineAndSummary(t *testing.T) {
	tr := newTestTracer(t)
	tr.Event("TASK_START", "Web_0001", "task created", "difficulty", 3)
	tr.Event("CHILD_SPAWNED", "Web_0001", "child started", "child_id", "Web_0002")
	tr.Event("AGENT_START", "Web_0002", "loop started")

	if err := tr.Snapshot(map[string]string{"src/App.tsx": "export default 1"}); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	tr.Finalize("SUCCESS", "")
	tr.Finalize("FAILED", "ignored")

	log, err := os.ReadFile(filepath.Join(tr.Dir(), timelineFile))
	if err != nil {
		t.Fatalf("read timeline: %v", err)
	}
	for _, want := range []string{"build a todo app", "[TASK_START] Web_0001", "  └─ difficulty: 3", "[TASK_END] Web_0001"} {
		if !strings.Contains(string(log), want) {
			t.Errorf("expected timeline to contain %q", want)
		}
	}

	data, err := os.ReadFile(filepath.Join(tr.Dir(), summaryFile))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if s.FinalStatus != "SUCCESS" || s.TotalEvents != 4 || s.Snapshot != snapshotFile {
		t.Errorf("unexpected summary %+v", s)
	}
	if diff := cmp.Diff([]string{"Web_0001", "Web_0002"}, s.Agents); diff != "" {
		t.Errorf("agents mismatch (-want +got):\n%s", diff)
	}
	if s.EventTypes["TASK_END"] != 1 {
		t.Errorf("expected one TASK_END, got %d", s.EventTypes["TASK_END"])
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.tar.zst")
	files := map[string]string{
		"src/App.tsx":       "import { a } from './lib/a';",
		"src/lib/a.ts":      "export const a = 1;",
		"src/styles/ui.css": "",
	}
	if err := WriteArchive(path, files); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	got, err := ReadArchive(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	if diff := cmp.Diff(files, got); diff != "" {
		t.Errorf("archive mismatch (-want +got):\n%s", diff)
	}
}

func TestNilTracer(t *testing.T) {
	var tr *Tracer
	tr.Event("X", "a", "b")
	tr.Finalize("SUCCESS", "")
	if err := tr.Snapshot(map[string]string{"a": "b"}); err != nil {
		t.Errorf("expected nil tracer snapshot to be a no-op, got %v", err)
	}
	if tr.Events() != nil || tr.Dir() != "" {
		t.Error("expected nil tracer to be empty")
	}
}

func TestConcurrentEvents(t *testing.T) {
	tr := newTestTracer(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Event("TICK", "Web_0001", "tick", "n", i)
		}()
	}
	wg.Wait()
	if n := len(tr.Events()); n != 20 {
		t.Errorf("expected 20 events, got %d", n)
	}
}

func TestFormatElapsed(t *testing.T) {
	got := formatElapsed(time.Hour + 2*time.Minute + 3500*time.Millisecond)
	if got != "T+01:02:03.500" {
		t.Errorf("expected T+01:02:03.500, got %s", got)
	}
}
