package engine

import (
	"slices"
	"sync"
)

type SignalKind string

const (
	SignalHandoff  SignalKind = "handoff"
	SignalFeedback SignalKind = "feedback"
	SignalConfirm  SignalKind = "confirm"
	SignalCancel   SignalKind = "cancel"
)

// Signal is one message delivered to a running loop.
type Signal struct {
	Kind    SignalKind
	From    string
	Content string
}

// mailbox is an unbounded queue with a wake-up channel. Senders never
// block; a receiver drains only the kinds it is waiting for.
type mailbox struct {
	mu      sync.Mutex
	pending []Signal
	notify  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) Put(s Signal) {
	m.mu.Lock()
	m.pending = append(m.pending, s)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Take removes and returns the oldest signal of one of the given kinds.
func (m *mailbox) Take(kinds ...SignalKind) (Signal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := slices.IndexFunc(m.pending, func(s Signal) bool { return slices.Contains(kinds, s.Kind) })
	if i < 0 {
		return Signal{}, false
	}
	s := m.pending[i]
	m.pending = slices.Delete(m.pending, i, i+1)
	return s, true
}

func (m *mailbox) C() <-chan struct{} { return m.notify }

func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
