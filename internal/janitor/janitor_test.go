package janitor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/natsbus"
	"github.com/mtzanidakis/webforge/internal/pool"
	"github.com/mtzanidakis/webforge/internal/store"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu     sync.Mutex
	topics []string
}

func (r *recorder) PublishJSON(topic string, v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return nil
}

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return pool.New(s, config.PoolConfig{
		MaxConcurrent:    5,
		SlotWaitTimeout:  time.Second,
		SlotPollInterval: 10 * time.Millisecond,
		IDPrefix:         "Web",
	})
}

func setStatus(t *testing.T, p *pool.Pool, conv, id string, status agent.Status) {
	t.Helper()
	_, err := p.Mutate(context.Background(), conv, id, func(a *agent.Agent) error {
		a.Status = status
		return nil
	})
	if err != nil {
		t.Fatalf("set status %s: %v", id, err)
	}
}

func TestSweepKeepsFileOwners(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	files := vfs.NewRegistry()

	root, err := p.Create(ctx, "conv", "build a todo app", pool.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	owner, err := p.Spawn(ctx, root, agent.Spec{Role: "engineer", Task: "write the UI"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	idle, err := p.Spawn(ctx, root, agent.Spec{Role: "creator", Task: "write copy"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	setStatus(t, p, "conv", owner.ID, agent.StatusCompleted)
	setStatus(t, p, "conv", idle.ID, agent.StatusFailed)
	if _, err := files.Get("conv").Write("src/App.tsx", "export default 1", owner.ID, false, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	events := &recorder{}
	j := New(p, files, events, config.JanitorConfig{Schedule: "*/15 * * * *", MaxAge: 0})
	res := j.Sweep(ctx)
	if res.Archived != 1 || res.Conversations != 1 {
		t.Fatalf("expected 1 archived in 1 conversation, got %+v", res)
	}

	if _, err := p.Get(ctx, "conv", idle.ID); err == nil {
		t.Error("expected idle agent archived")
	}
	if _, err := p.Get(ctx, "conv", owner.ID); err != nil {
		t.Errorf("expected file owner kept, got %v", err)
	}
	if _, err := p.Get(ctx, "conv", root.ID); err != nil {
		t.Errorf("expected active root kept, got %v", err)
	}
	if len(events.topics) != 1 || events.topics[0] != natsbus.TopicEventsJanitor {
		t.Errorf("expected one janitor event, got %v", events.topics)
	}
}

func TestSweepRespectsMaxAge(t *testing.T) {
	ctx := context.Background()
	p := newTestPool(t)
	a, err := p.Create(ctx, "conv", "old task", pool.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	setStatus(t, p, "conv", a.ID, agent.StatusCompleted)

	j := New(p, vfs.NewRegistry(), nil, config.JanitorConfig{Schedule: "@hourly", MaxAge: time.Hour})
	if res := j.Sweep(ctx); res.Archived != 0 {
		t.Errorf("expected recent agent kept, got %d archived", res.Archived)
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 7, 0, 0, time.UTC)
	next, err := NextRun("*/15 * * * *", now)
	if err != nil {
		t.Fatalf("next run: %v", err)
	}
	if want := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
	if _, err := NextRun("not a schedule", now); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	j := New(newTestPool(t), vfs.NewRegistry(), nil, config.JanitorConfig{Schedule: "invalid"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Start(ctx)
		close(done)
	}()

	j.UpdateConfig(config.JanitorConfig{Schedule: "0 0 1 1 *", MaxAge: time.Hour})
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
	if got := j.config().Schedule; got != "0 0 1 1 *" {
		t.Errorf("expected reloaded schedule, got %q", got)
	}
}
