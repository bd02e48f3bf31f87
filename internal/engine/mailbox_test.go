package engine

import "testing"

func TestMailboxTakeOldestOfKind(t *testing.T) {
	m := newMailbox()
	m.Put(Signal{Kind: SignalHandoff, From: "Web_0002"})
	m.Put(Signal{Kind: SignalFeedback, Content: "first"})
	m.Put(Signal{Kind: SignalFeedback, Content: "second"})

	select {
	case <-m.C():
	default:
		t.Fatal("expected wake-up after put")
	}

	s, ok := m.Take(SignalFeedback, SignalCancel)
	if !ok || s.Content != "first" {
		t.Fatalf("expected first feedback, got %+v (%v)", s, ok)
	}
	if _, ok := m.Take(SignalConfirm); ok {
		t.Error("expected no confirm signal")
	}
	if m.Len() != 2 {
		t.Errorf("expected 2 pending, got %d", m.Len())
	}
	s, _ = m.Take(SignalHandoff)
	if s.From != "Web_0002" {
		t.Errorf("expected handoff from Web_0002, got %q", s.From)
	}
}
