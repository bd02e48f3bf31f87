package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mtzanidakis/webforge/internal/trace"
)

// run is the live state of one agent loop.
type run struct {
	conversation string
	id           string
	mailbox      *mailbox
	tracer       *trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	cancelOnce sync.Once
	cancelled  chan struct{}

	mu         sync.Mutex
	startedAt  time.Time
	lastActive time.Time
}

func newRun(parent context.Context, conversation, id string, tracer *trace.Tracer) *run {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &run{
		conversation: conversation,
		id:           id,
		mailbox:      newMailbox(),
		tracer:       tracer,
		ctx:          ctx,
		cancel:       cancel,
		cancelled:    make(chan struct{}),
		startedAt:    now,
		lastActive:   now,
	}
}

// requestCancel raises the cancellation flag and aborts an in-flight
// generation. The loop records the cancellation at its next iteration
// boundary or wait.
func (r *run) requestCancel(reason string) {
	r.cancelOnce.Do(func() {
		close(r.cancelled)
		r.mailbox.Put(Signal{Kind: SignalCancel, Content: reason})
		r.cancel()
	})
}

func (r *run) isCancelled() bool {
	select {
	case <-r.cancelled:
		return true
	default:
		return false
	}
}

func (r *run) touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActive = time.Now()
}

// RunInfo describes a running loop.
type RunInfo struct {
	Conversation string    `json:"conversation"`
	AgentID      string    `json:"agent_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActive   time.Time `json:"last_active"`
	Pending      int       `json:"pending_signals"`
}

func (r *run) info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RunInfo{
		Conversation: r.conversation,
		AgentID:      r.id,
		StartedAt:    r.startedAt,
		LastActive:   r.lastActive,
		Pending:      r.mailbox.Len(),
	}
}

func runKey(conversation, id string) string { return conversation + "/" + id }
