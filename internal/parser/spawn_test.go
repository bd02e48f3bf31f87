package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mtzanidakis/webforge/internal/agent"
)

func TestParseSpawnBlocksGrammars(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []agent.Spec
	}{
		{
			name: "attribute xml",
			text: `<spawn_children>
<child role="engineer" task="Build &quot;Hero&quot; section" difficulty="4" />
<child role="creator" task="placeholder"><task>Write the tagline</task></child>
</spawn_children>`,
			want: []agent.Spec{
				{Role: "engineer", Task: `Build "Hero" section`, Difficulty: 4},
				{Role: "creator", Task: "Write the tagline", Difficulty: 3},
			},
		},
		{
			name: "nested xml",
			text: `<spawn_children>
  <child>
    <role>engineer</role>
    <task>Implement the quiz engine</task>
    <context>export interface Question { id: string }</context>
    <constraints>- no external state
- keep it pure</constraints>
  </child>
</spawn_children>`,
			want: []agent.Spec{{
				Role:        "engineer",
				Task:        "Implement the quiz engine",
				Context:     "export interface Question { id: string }",
				Constraints: []string{"no external state", "keep it pure"},
				Difficulty:  3,
			}},
		},
		{
			name: "flat xml",
			text: `<spawn_children><role>creator</role><task>Draft copy</task><placeholder>copy</placeholder></spawn_children>`,
			want: []agent.Spec{{Role: "creator", Task: "Draft copy", Difficulty: 3, OutputKey: "copy"}},
		},
		{
			name: "yaml list",
			text: `<spawn_children>
- role: engineer
  task: Build the map view
  difficulty: 5
  reuse: Web_0003
- role: creator
  task: Write captions
  constraints:
    - short
    - friendly
</spawn_children>`,
			want: []agent.Spec{
				{Role: "engineer", Task: "Build the map view", Difficulty: 5, Reuse: "Web_0003"},
				{Role: "creator", Task: "Write captions", Difficulty: 3, Constraints: []string{"short", "friendly"}},
			},
		},
		{
			name: "yaml single map",
			text: "<spawn_children>\nrole: engineer\ntask: One thing\n</spawn_children>",
			want: []agent.Spec{{Role: "engineer", Task: "One thing", Difficulty: 3}},
		},
		{
			name: "no block",
			text: "nothing to spawn",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpawnBlocks(tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("specs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseSpawnBlocksUnrecognized(t *testing.T) {
	_, err := ParseSpawnBlocks("<spawn_children>just prose, no structure</spawn_children>")
	if !errors.Is(err, agent.ErrParseAmbiguous) {
		t.Fatalf("expected ErrParseAmbiguous, got %v", err)
	}
}

func TestParseSpawnBlocksMissingTask(t *testing.T) {
	_, err := ParseSpawnBlocks(`<spawn_children><child role="engineer" /></spawn_children>`)
	if !errors.Is(err, agent.ErrParseAmbiguous) {
		t.Fatalf("expected ErrParseAmbiguous, got %v", err)
	}
}

func TestDifficultyClamped(t *testing.T) {
	got, err := ParseSpawnBlocks(`<spawn_children><child role="engineer" task="x" difficulty="9"/></spawn_children>`)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Difficulty != 5 {
		t.Errorf("expected difficulty 5, got %d", got[0].Difficulty)
	}
}
