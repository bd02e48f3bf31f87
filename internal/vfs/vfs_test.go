package vfs

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mtzanidakis/webforge/internal/agent"
)

type fakeAgents map[string]*agent.Agent

func (f fakeAgents) ParentOf(id string) (string, bool) {
	a, ok := f[id]
	if !ok || a.ParentID == "" {
		return "", false
	}
	return a.ParentID, true
}

func (f fakeAgents) StatusOf(id string) (agent.Status, bool) {
	a, ok := f[id]
	if !ok {
		return "", false
	}
	return a.Status, true
}

func newAgents() fakeAgents {
	return fakeAgents{
		"root": {ID: "root", Status: agent.StatusWorking},
		"eng":  {ID: "eng", ParentID: "root", Status: agent.StatusWorking},
		"art":  {ID: "art", ParentID: "root", Status: agent.StatusWorking},
		"done": {ID: "done", ParentID: "root", Status: agent.StatusCompleted},
		"idle": {ID: "idle", ParentID: "root", Status: agent.StatusPending},
	}
}

func TestWriteDecisionTable(t *testing.T) {
	tests := []struct {
		name     string
		owner    string
		writer   string
		force    bool
		wantRule Rule
		wantErr  bool
	}{
		{name: "unowned", owner: "", writer: "eng", wantRule: RuleUnowned},
		{name: "same owner", owner: "eng", writer: "eng", wantRule: RuleSameOwner},
		{name: "parent override", owner: "eng", writer: "root", wantRule: RuleParentOverride},
		{name: "terminal owner", owner: "done", writer: "eng", wantRule: RuleTerminalTransfer},
		{name: "working owner", owner: "eng", writer: "art", wantErr: true},
		{name: "forced over working owner", owner: "eng", writer: "art", force: true, wantRule: RuleForced},
		{name: "pending owner rejected", owner: "idle", writer: "art", wantErr: true},
		{name: "missing owner rejected", owner: "ghost", writer: "art", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProject("c1")
			agents := newAgents()
			if tt.owner != "" {
				if _, err := p.Write("src/App.tsx", "v1", tt.owner, true, agents); err != nil {
					t.Fatalf("seed write: %v", err)
				}
			}

			d, err := p.Write("src/App.tsx", "v2", tt.writer, tt.force, agents)
			if tt.wantErr {
				if !errors.Is(err, agent.ErrOwnershipConflict) {
					t.Fatalf("expected ownership conflict, got %v", err)
				}
				if got, _ := p.Read("src/App.tsx"); got != "v1" {
					t.Errorf("expected content unchanged, got %q", got)
				}
				if got := p.Owner("src/App.tsx"); got != tt.owner {
					t.Errorf("expected owner %s kept, got %s", tt.owner, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Rule != tt.wantRule {
				t.Errorf("expected rule %s, got %s", tt.wantRule, d.Rule)
			}
			if got := p.Owner("src/App.tsx"); got != tt.writer {
				t.Errorf("expected owner %s, got %s", tt.writer, got)
			}
		})
	}
}

func TestConflictMessageNamesOwner(t *testing.T) {
	p := NewProject("c1")
	agents := newAgents()
	_, _ = p.Write("a.ts", "x", "eng", false, agents)

	_, err := p.Write("a.ts", "y", "art", false, agents)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if ce.Owner != "eng" || ce.OwnerStatus != agent.StatusWorking {
		t.Errorf("unexpected conflict details: %+v", ce)
	}
}

func TestSingleOwnershipAfterTransfer(t *testing.T) {
	p := NewProject("c1")
	agents := newAgents()
	if _, err := p.Write("src/a.ts", "x", "eng", false, agents); err != nil {
		t.Fatal(err)
	}

	prev, err := p.TransferOwnership("src/a.ts", "art")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if prev != "eng" {
		t.Errorf("expected previous owner eng, got %s", prev)
	}
	if got := p.Owner("src/a.ts"); got != "art" {
		t.Errorf("expected owner art, got %s", got)
	}

	if _, err := p.Write("src/a.ts", "y", "eng", false, agents); !errors.Is(err, agent.ErrOwnershipConflict) {
		t.Errorf("expected prior owner rejected, got %v", err)
	}
}

func TestOwnershipRoundTrip(t *testing.T) {
	p := NewProject("c1")
	agents := newAgents()

	if _, err := p.Write("A", "content", "eng", false, agents); err != nil {
		t.Fatal(err)
	}
	if _, err := p.TransferOwnership("A", "art"); err != nil {
		t.Fatal(err)
	}
	if err := p.Delete("A", true, []string{"art"}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, ok := p.Read("A"); ok {
		t.Error("expected content removed")
	}
	if got := p.Owner("A"); got != "" {
		t.Errorf("expected no owner, got %s", got)
	}
	if _, ok := p.Owners()["A"]; ok {
		t.Error("expected ownership record removed")
	}
}

func TestDeleteGuards(t *testing.T) {
	p := NewProject("c1")
	agents := newAgents()
	_, _ = p.Write("a.ts", "x", "eng", false, agents)

	if err := p.Delete("a.ts", false, []string{"eng"}); !errors.Is(err, agent.ErrDeleteRejected) {
		t.Errorf("expected rejection, got %v", err)
	}
	if err := p.Delete("missing.ts", true, nil); !errors.Is(err, agent.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	// Owner not working: no confirmation needed.
	if err := p.Delete("a.ts", false, []string{"art"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"  src/a.ts ":  "src/a.ts",
		"./src/a.ts":   "src/a.ts",
		"/src/a.ts":    "src/a.ts",
		".//src/a.ts":  "src/a.ts",
		".env":         ".env",
		"../escape.ts": "../escape.ts",
	}
	for in, want := range tests {
		if got := CleanPath(in); got != want {
			t.Errorf("CleanPath(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestListAndOwnedBy(t *testing.T) {
	p := NewProject("c1")
	agents := newAgents()
	_, _ = p.Write("src/b.ts", "", "eng", false, agents)
	_, _ = p.Write("./src/a.ts", "", "eng", false, agents)
	_, _ = p.Write("src/c.css", "", "art", false, agents)

	if diff := cmp.Diff([]string{"src/a.ts", "src/b.ts", "src/c.css"}, p.List()); diff != "" {
		t.Errorf("list mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"src/a.ts", "src/b.ts"}, p.OwnedBy("eng")); diff != "" {
		t.Errorf("owned mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentWritersSingleOwner(t *testing.T) {
	p := NewProject("c1")
	agents := newAgents()
	writers := []string{"eng", "art"}

	var wg sync.WaitGroup
	wins := make(chan string, 100)
	for i := range 100 {
		wg.Add(1)
		go func(w string) {
			defer wg.Done()
			if _, err := p.Write("shared.ts", w, w, false, agents); err == nil {
				wins <- w
			}
		}(writers[i%2])
	}
	wg.Wait()
	close(wins)

	winner := ""
	for w := range wins {
		if winner == "" {
			winner = w
		}
		if w != winner {
			t.Fatalf("two working agents both won ownership: %s and %s", winner, w)
		}
	}
	if got := p.Owner("shared.ts"); got != winner {
		t.Errorf("expected owner %s, got %s", winner, got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.Get("c1")
	if r.Get("c1") != a {
		t.Error("expected same project for same conversation")
	}
	if r.Get("c2") == a {
		t.Error("expected distinct projects per conversation")
	}
	r.Drop("c1")
	if _, ok := r.Lookup("c1"); ok {
		t.Error("expected project dropped")
	}
	if diff := cmp.Diff([]string{"c2"}, r.Conversations()); diff != "" {
		t.Errorf("conversations mismatch:\n%s", diff)
	}
}

func TestDigest(t *testing.T) {
	a := Digest(map[string]string{"src/a.ts": "1", "src/b.ts": "2"})
	b := Digest(map[string]string{"src/b.ts": "2", "src/a.ts": "1"})
	if a != b {
		t.Errorf("expected order-independent digest, got %s and %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a == Digest(map[string]string{"src/a.ts": "12", "src/b.ts": ""}) {
		t.Error("expected path/content boundaries to affect the digest")
	}
}

func TestRestore(t *testing.T) {
	p := NewProject("c1")
	if _, err := p.Write("old.ts", "x", "Web_0009", false, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	p.Restore(map[string]string{"src/App.tsx": "app"}, map[string]string{"src/App.tsx": "Web_0002"})

	if diff := cmp.Diff([]string{"src/App.tsx"}, p.List()); diff != "" {
		t.Errorf("files mismatch:\n%s", diff)
	}
	if got := p.Owner("src/App.tsx"); got != "Web_0002" {
		t.Errorf("expected owner Web_0002, got %q", got)
	}
	if _, err := p.Write("src/App.tsx", "v2", "Web_0002", false, nil); err != nil {
		t.Errorf("expected restored owner to keep writing, got %v", err)
	}
}
