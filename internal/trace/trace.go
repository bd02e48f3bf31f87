// Package trace records the timeline of one root task on disk: an event
// log, a summary and an archive of the project files.
package trace

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	timelineFile = "timeline.log"
	summaryFile  = "summary.json"
	snapshotFile = "snapshot.tar.zst"
)

type Event struct {
	Elapsed time.Duration  `json:"elapsed"`
	Type    string         `json:"type"`
	AgentID string         `json:"agent_id"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

type Summary struct {
	RunID        string         `json:"run_id"`
	Conversation string         `json:"conversation"`
	RootID       string         `json:"root_id"`
	Task         string         `json:"task"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Duration     string         `json:"duration"`
	FinalStatus  string         `json:"final_status"`
	ErrorSummary string         `json:"error_summary,omitempty"`
	TotalEvents  int            `json:"total_events"`
	Agents       []string       `json:"agents"`
	EventTypes   map[string]int `json:"event_types"`
	Snapshot     string         `json:"snapshot,omitempty"`
}

// Tracer is safe for concurrent use. A nil *Tracer discards everything.
type Tracer struct {
	dir          string
	runID        string
	conversation string
	rootID       string
	task         string
	start        time.Time

	mu        sync.Mutex
	events    []Event
	snapshot  string
	finalized bool
}

// New creates the run directory under base and writes the log header.
func New(base, conversation, rootID, task string) (*Tracer, error) {
	start := time.Now()
	runID := uuid.New().String()
	dir := filepath.Join(base, fmt.Sprintf("%s_%s_%s", start.Format("20060102_150405"), rootID, runID[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}

	t := &Tracer{
		dir:          dir,
		runID:        runID,
		conversation: conversation,
		rootID:       rootID,
		task:         task,
		start:        start,
	}
	rule := strings.Repeat("=", 80)
	header := fmt.Sprintf("%s\nTask trace %s\n%s\nConversation: %s\nRoot agent:   %s\nTask:         %s\nStarted:      %s\n%s\n",
		rule, runID, rule, conversation, rootID, task, start.Format(time.DateTime), rule)
	if err := os.WriteFile(filepath.Join(dir, timelineFile), []byte(header), 0o644); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return t, nil
}

func (t *Tracer) Dir() string {
	if t == nil {
		return ""
	}
	return t.dir
}

func formatElapsed(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("T+%02d:%02d:%06.3f", h, m, s)
}

// Event appends one entry. attrs are key/value pairs as in slog.
func (t *Tracer) Event(typ, agentID, msg string, attrs ...any) {
	if t == nil {
		return
	}
	ev := Event{Elapsed: time.Since(t.start), Type: typ, AgentID: agentID, Message: msg}
	for i := 0; i+1 < len(attrs); i += 2 {
		if ev.Attrs == nil {
			ev.Attrs = make(map[string]any)
		}
		ev.Attrs[fmt.Sprint(attrs[i])] = attrs[i+1]
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n%s [%s] %s\n  └─ %s\n", formatElapsed(ev.Elapsed), typ, agentID, msg)
	for _, k := range slices.Sorted(maps.Keys(ev.Attrs)) {
		v := fmt.Sprint(ev.Attrs[k])
		if len(v) > 200 {
			v = v[:200] + "..."
		}
		fmt.Fprintf(&sb, "  └─ %s: %s\n", k, v)
	}
	if err := t.appendLog(sb.String()); err != nil {
		slog.Warn("trace write failed", "dir", t.dir, "error", err)
	}
}

func (t *Tracer) appendLog(s string) error {
	f, err := os.OpenFile(filepath.Join(t.dir, timelineFile), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Events returns a copy of the recorded events.
func (t *Tracer) Events() []Event {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.events)
}

// Snapshot archives the project files as a zstd-compressed tar.
func (t *Tracer) Snapshot(files map[string]string) error {
	if t == nil {
		return nil
	}
	path := filepath.Join(t.dir, snapshotFile)
	if err := WriteArchive(path, files); err != nil {
		return err
	}
	t.mu.Lock()
	t.snapshot = snapshotFile
	t.mu.Unlock()
	return nil
}

// Finalize records the end of the run and writes the summary. Only the
// first call has an effect.
func (t *Tracer) Finalize(status, errorSummary string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.finalized {
		t.mu.Unlock()
		return
	}
	t.finalized = true
	t.mu.Unlock()

	t.Event("TASK_END", t.rootID, "run finished: "+status, "final_status", status)

	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	s := Summary{
		RunID:        t.runID,
		Conversation: t.conversation,
		RootID:       t.rootID,
		Task:         t.task,
		StartedAt:    t.start,
		FinishedAt:   now,
		Duration:     now.Sub(t.start).Round(time.Millisecond).String(),
		FinalStatus:  status,
		ErrorSummary: errorSummary,
		TotalEvents:  len(t.events),
		EventTypes:   make(map[string]int),
		Snapshot:     t.snapshot,
	}
	for _, ev := range t.events {
		s.EventTypes[ev.Type]++
		if !slices.Contains(s.Agents, ev.AgentID) {
			s.Agents = append(s.Agents, ev.AgentID)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		slog.Error("marshal trace summary failed", "error", err)
		return
	}
	if err := os.WriteFile(filepath.Join(t.dir, summaryFile), data, 0o644); err != nil {
		slog.Warn("write trace summary failed", "dir", t.dir, "error", err)
	}
}

// WriteArchive stores files in a .tar.zst at path.
func WriteArchive(path string, files map[string]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	now := time.Now()
	for _, name := range slices.Sorted(maps.Keys(files)) {
		content := files[name]
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			ModTime:  now,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
		if _, err := io.WriteString(tw, content); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	return f.Close()
}

// ReadArchive loads the files of a .tar.zst written by WriteArchive.
func ReadArchive(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	files := make(map[string]string)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", hdr.Name, err)
		}
		files[hdr.Name] = string(data)
	}
	return files, nil
}
