package agent

import "testing"

func TestStatusClassification(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	active := []Status{StatusPending, StatusWorking, StatusReviewing, StatusWaitingInput}

	for _, s := range terminal {
		if !s.IsTerminal() || s.IsActive() {
			t.Errorf("expected %s terminal and inactive", s)
		}
	}
	for _, s := range active {
		if s.IsTerminal() || !s.IsActive() {
			t.Errorf("expected %s active and non-terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusWorking, StatusReviewing} {
		if !s.HoldsSlot() {
			t.Errorf("expected %s to hold a slot", s)
		}
	}
	if StatusWaitingInput.HoldsSlot() || StatusCompleted.HoldsSlot() {
		t.Error("expected waiting and finished agents to free their slot")
	}
	if Status("sleeping").Known() {
		t.Error("expected unknown status")
	}
}

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"architect":  RoleCoordinator,
		"Engineer":   RoleEngineer,
		" creator ":  RoleCreator,
		"reviewer":   RoleReviewer,
		"astronomer": RoleEngineer,
	}
	for in, want := range tests {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestSetProgressClamps(t *testing.T) {
	a := &Agent{}
	a.SetProgress(140, "almost")
	if a.Progress != 100 {
		t.Errorf("expected 100, got %d", a.Progress)
	}
	a.SetProgress(-3, "")
	if a.Progress != 0 || a.Step != "almost" {
		t.Errorf("expected 0 with step kept, got %d %q", a.Progress, a.Step)
	}
}

func TestOutputKeyPrecedence(t *testing.T) {
	a := &Agent{ID: "Web_0002", Role: RoleCreator}
	if got := a.OutputKey(); got != "creator" {
		t.Errorf("expected role key, got %s", got)
	}
	a.Spec = &Spec{OutputKey: "copy"}
	if got := a.OutputKey(); got != "copy" {
		t.Errorf("expected explicit key, got %s", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := &Agent{
		ID:       "Web_0001",
		Children: []string{"Web_0002"},
		Spec:     &Spec{Constraints: []string{"no emoji"}},
		Metadata: map[string]string{"k": "v"},
	}
	c := a.Clone()
	c.Children[0] = "changed"
	c.Spec.Constraints[0] = "changed"
	c.Metadata["k"] = "changed"
	c.AddMessage(SenderSystem, MessageInfo, "hi")

	if a.Children[0] != "Web_0002" || a.Spec.Constraints[0] != "no emoji" || a.Metadata["k"] != "v" {
		t.Error("clone shares state with original")
	}
	if len(a.Messages) != 0 {
		t.Error("expected original message log untouched")
	}
}

func TestMergeDependencies(t *testing.T) {
	a := &Agent{Dependencies: []string{"three"}}
	a.MergeDependencies([]string{"gsap", "three", "", "leaflet"})
	want := []string{"three", "gsap", "leaflet"}
	if len(a.Dependencies) != len(want) {
		t.Fatalf("expected %v, got %v", want, a.Dependencies)
	}
	for i := range want {
		if a.Dependencies[i] != want[i] {
			t.Errorf("expected %v, got %v", want, a.Dependencies)
		}
	}
}
