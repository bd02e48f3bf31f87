package prompt

import (
	"strings"
	"testing"

	"github.com/mtzanidakis/webforge/internal/agent"
)

func TestSelectMode(t *testing.T) {
	tests := []struct {
		name string
		a    *agent.Agent
		want Mode
	}{
		{"root", &agent.Agent{ID: "Web_0001", Role: agent.RoleEngineer}, ModeCoordinator},
		{"parent", &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleEngineer, Children: []string{"Web_0003"}}, ModeCoordinator},
		{"engineer", &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleEngineer}, ModeEngineer},
		{"creator", &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleCreator}, ModeCreator},
		{"reviewer", &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleReviewer}, ModeReviewer},
		{"unknown", &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: "wizard"}, ModeEngineer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectMode(tt.a); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRenderHistory(t *testing.T) {
	a := &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleEngineer, Status: agent.StatusWorking,
		Task: "build header",
		Spec: &agent.Spec{Task: "Create src/Header.tsx", OutputFormat: "tsx file"},
	}
	a.AddMessage(agent.SenderSystem, agent.MessageInstruction, "build header")
	a.AddMessage(agent.SenderSelf, agent.MessageProgress, "@@read paths=\"src/types.ts\"")
	a.AddMessage(agent.SenderSystem, agent.MessageFeedback, "compile failed")
	a.AddMessage("Web_0001", agent.MessageInstruction, "use blue")

	p := Render(Input{Agent: a, Injected: map[string]string{"src/types.ts": "export type X = 1"}})
	if p.Mode != ModeEngineer {
		t.Fatalf("expected engineer mode, got %s", p.Mode)
	}

	roles := make([]Role, len(p.Messages))
	for i, m := range p.Messages {
		roles[i] = m.Role
	}
	want := []Role{RoleSystem, RoleUser, RoleAssistant, RoleUser}
	if len(roles) != len(want) {
		t.Fatalf("expected roles %v, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("expected roles %v, got %v", want, roles)
		}
	}

	mission := p.Messages[1].Content
	if !strings.Contains(mission, "Create src/Header.tsx") || !strings.Contains(mission, "Expected output: tsx file") {
		t.Errorf("unexpected mission message: %s", mission)
	}
	last := p.Messages[3].Content
	for _, s := range []string{"[Feedback] compile failed", "[Instruction] use blue", "### src/types.ts", "Proceed."} {
		if !strings.Contains(last, s) {
			t.Errorf("expected merged user turn to contain %q, got:\n%s", s, last)
		}
	}
}

func TestRenderCoordinatorSections(t *testing.T) {
	root := &agent.Agent{ID: "Web_0001", Role: agent.RoleCoordinator, Status: agent.StatusPending, Task: "site",
		TemplateVars: map[string]string{"name": "Ada"}}
	files := []FileInfo{
		{Path: "src/App.tsx", Owner: "Web_0001", Size: 120},
		{Path: "src/Hero.tsx", Owner: "Web_0002", Size: 80, Exports: []string{"default", "a", "b", "c", "d", "e"}},
	}
	peerList := []Peer{
		{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleEngineer, Status: agent.StatusWorking, Task: "hero", Progress: 50},
		{ID: "Web_0003", ParentID: "Web_0001", Role: agent.RoleCreator, Status: agent.StatusCompleted, Task: "copy", Owned: []string{"src/data/copy.ts"}},
	}

	p := Render(Input{Agent: root, Files: files, Peers: peerList, Modules: []string{"react", "zustand"}, Language: "English"})
	sys := p.System()
	for _, s := range []string{
		"Role: coordinator",
		"src/main.tsx",
		"[yours] src/App.tsx",
		"exports: default, a, b, c, d (+1 more)",
		"| Web_0002 | engineer | hero | 50% |",
		"| Web_0003 | creator | completed | copy | src/data/copy.ts |",
		"react, zustand",
		"`{{name}}`",
		"in English",
	} {
		if !strings.Contains(sys, s) {
			t.Errorf("expected system prompt to contain %q", s)
		}
	}
}

func TestRenderIsPure(t *testing.T) {
	a := &agent.Agent{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleCreator, Task: "copy"}
	a.AddMessage(agent.SenderSystem, agent.MessageInstruction, "copy")
	in := Input{Agent: a}
	first := Render(in)
	second := Render(in)
	if first.System() != second.System() || len(first.Messages) != len(second.Messages) {
		t.Error("expected identical renders for identical input")
	}
	if len(a.Messages) != 1 {
		t.Errorf("expected render to leave agent untouched, got %d messages", len(a.Messages))
	}
}
