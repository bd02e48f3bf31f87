package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/control"
	"github.com/mtzanidakis/webforge/internal/store"
)

type call struct {
	Conversation string
	Type         string
	Payload      any
}

type fakeCaller struct {
	calls []call
	reply *control.Reply
	err   error
}

func (f *fakeCaller) Call(conversation, typ string, payload any) (*control.Reply, error) {
	f.calls = append(f.calls, call{conversation, typ, payload})
	if f.err != nil {
		return nil, f.err
	}
	if f.reply == nil {
		return &control.Reply{OK: true}, nil
	}
	return f.reply, nil
}

func run(t *testing.T, f *fakeCaller, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(f)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmit(t *testing.T) {
	f := &fakeCaller{reply: &control.Reply{OK: true, Agent: &agent.Agent{ID: "Web_0001"}}}
	out, err := run(t, f, "submit", "-c", "shop", "--wait", "--var", "shop=Crumbs", "A", "product", "page")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.Contains(out, "Started Web_0001") {
		t.Errorf("unexpected output %q", out)
	}
	want := []call{{"shop", control.CmdCreateTask, control.TaskRequest{
		Task:         "A product page",
		Wait:         true,
		TemplateVars: map[string]string{"shop": "Crumbs"},
	}}}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAgentActions(t *testing.T) {
	f := &fakeCaller{}
	for _, args := range [][]string{
		{"cancel", "Web_0002"},
		{"confirm", "Web_0001"},
		{"retry", "Web_0003"},
		{"feedback", "Web_0001", "make", "it", "blue"},
	} {
		if _, err := run(t, f, args...); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}
	want := []call{
		{"default", control.CmdCancel, control.AgentRequest{ID: "Web_0002"}},
		{"default", control.CmdConfirm, control.AgentRequest{ID: "Web_0001"}},
		{"default", control.CmdRetry, control.AgentRequest{ID: "Web_0003"}},
		{"default", control.CmdFeedback, control.AgentRequest{ID: "Web_0001", Message: "make it blue"}},
	}
	if diff := cmp.Diff(want, f.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestAgentsTable(t *testing.T) {
	f := &fakeCaller{reply: &control.Reply{OK: true, Agents: []*agent.Agent{
		{ID: "Web_0001", Role: agent.RoleCoordinator, Status: agent.StatusWaitingInput, Progress: 100, Step: "deployed"},
		{ID: "Web_0002", ParentID: "Web_0001", Role: agent.RoleEngineer, Status: agent.StatusCompleted, Progress: 100},
	}}}
	out, err := run(t, f, "agents")
	if err != nil {
		t.Fatalf("agents: %v", err)
	}
	for _, s := range []string{"Web_0001", "coordinator", "deployed", "Web_0002", "engineer"} {
		if !strings.Contains(out, s) {
			t.Errorf("expected %q in output:\n%s", s, out)
		}
	}
}

func TestDepsAndErrors(t *testing.T) {
	f := &fakeCaller{reply: &control.Reply{OK: true, Deps: []store.DependencyCount{{Name: "three", Count: 3}}}}
	out, err := run(t, f, "deps")
	if err != nil {
		t.Fatalf("deps: %v", err)
	}
	if !strings.Contains(out, "three") {
		t.Errorf("unexpected output %q", out)
	}

	f = &fakeCaller{err: errors.New("rebuild: not found")}
	if _, err := run(t, f, "rebuild", "Web_0009"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
	if _, err := run(t, &fakeCaller{}, "show"); err == nil {
		t.Error("expected argument error")
	}
}
