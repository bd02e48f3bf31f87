package parser

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mtzanidakis/webforge/internal/agent"
)

func parseRound(t *testing.T, raw string) (*Action, error) {
	t.Helper()
	s := NewStream()
	cmds := s.Feed(raw)
	cmds = append(cmds, s.Flush()...)
	return Assemble(raw, cmds)
}

func TestAssembleDirectives(t *testing.T) {
	raw := `@@READ paths="src/types.ts"
<<<FILE: src/Foo.tsx>>>
export const Foo = () => null;
<<<END_FILE>>>
@@TRANSFER path="src/a.ts" to="Web_0003" force="true"
@@DELETE path="src/old.ts" confirmed="yes"
@@PROGRESS percent="40%" step="wiring"
@@DEPENDS names="three, gsap"
@@DELEGATE to="Web_0002" message="add a footer"
@@MESSAGE content="copy is ready"
@@DONE summary="Hero finished"
@@WIGGLE
`
	a, err := parseRound(t, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"src/types.ts"}, a.Reads); diff != "" {
		t.Errorf("reads mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]FileWrite{{Path: "src/Foo.tsx", Content: "export const Foo = () => null;"}}, a.Writes); diff != "" {
		t.Errorf("writes mismatch:\n%s", diff)
	}
	if !a.DefersWrites() {
		t.Error("expected writes deferred behind reads")
	}
	if diff := cmp.Diff([]Transfer{{Path: "src/a.ts", To: "Web_0003"}}, a.Transfers); diff != "" {
		t.Errorf("transfers mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]Delete{{Path: "src/old.ts", Confirmed: true}}, a.Deletes); diff != "" {
		t.Errorf("deletes mismatch:\n%s", diff)
	}
	if !a.HasProgress || a.Progress != 40 || a.Step != "wiring" {
		t.Errorf("unexpected progress %v %d %q", a.HasProgress, a.Progress, a.Step)
	}
	if diff := cmp.Diff([]string{"three", "gsap"}, a.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]Delegate{{To: "Web_0002", Message: "add a footer"}}, a.Delegates); diff != "" {
		t.Errorf("delegates mismatch:\n%s", diff)
	}
	if a.Message != "copy is ready" || a.SelfOutput != "Hero finished" {
		t.Errorf("unexpected message/output %q %q", a.Message, a.SelfOutput)
	}
	if diff := cmp.Diff([]string{"wiggle"}, a.Unknown); diff != "" {
		t.Errorf("unknown mismatch:\n%s", diff)
	}
}

func TestAssembleTags(t *testing.T) {
	raw := `<status>progress: 70
step: polishing</status>
<view_file path="src/data.ts"/>
<file path="src/data.ts">
export const items = [];
</file>
<delegate to="Web_0004">make it blue</delegate>
<transfer_ownership path="src/x.ts" to="Web_0004" />
<delete_file path="src/y.ts" confirmed="true"/>
<dependencies>leaflet, react-leaflet
tailwind</dependencies>
<message>done with data</message>
<template><div>hi</div></template>`

	a, err := parseRound(t, raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.HasProgress || a.Progress != 70 || a.Step != "polishing" {
		t.Errorf("unexpected status %d %q", a.Progress, a.Step)
	}
	if diff := cmp.Diff([]string{"src/data.ts"}, a.Reads); diff != "" {
		t.Errorf("reads mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]FileWrite{{Path: "src/data.ts", Content: "export const items = [];"}}, a.Writes); diff != "" {
		t.Errorf("writes mismatch:\n%s", diff)
	}
	if diff := cmp.Diff([]string{"leaflet", "react-leaflet", "tailwind"}, a.Dependencies); diff != "" {
		t.Errorf("dependencies mismatch:\n%s", diff)
	}
	if len(a.Delegates) != 1 || a.Delegates[0].Message != "make it blue" {
		t.Errorf("unexpected delegates %+v", a.Delegates)
	}
	if len(a.Transfers) != 1 || a.Transfers[0].To == "" {
		t.Errorf("unexpected transfers %+v", a.Transfers)
	}
	if len(a.Deletes) != 1 || !a.Deletes[0].Confirmed {
		t.Errorf("unexpected deletes %+v", a.Deletes)
	}
	if a.Message != "done with data" || a.Template != "<div>hi</div>" {
		t.Errorf("unexpected message/template %q %q", a.Message, a.Template)
	}
}

func TestAssembleAbort(t *testing.T) {
	a, err := parseRound(t, `<abort_task><reason>requirements contradict</reason></abort_task>`)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Abort || a.AbortReason != "requirements contradict" {
		t.Errorf("unexpected abort %v %q", a.Abort, a.AbortReason)
	}

	a, err = parseRound(t, "@@ABORT reason=\"no data source\"\n")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Abort || a.AbortReason != "no data source" {
		t.Errorf("unexpected abort %v %q", a.Abort, a.AbortReason)
	}
}

func TestAssembleIgnoresTagsInsideFiles(t *testing.T) {
	raw := "<<<FILE: src/Status.tsx>>>\nexport const S = () => <status>progress: 99</status>;\n<<<END_FILE>>>\n"
	a, err := parseRound(t, raw)
	if err != nil {
		t.Fatal(err)
	}
	if a.HasProgress {
		t.Error("expected tags inside file bodies to be ignored")
	}
	if len(a.Writes) != 1 {
		t.Errorf("expected one write, got %d", len(a.Writes))
	}
}

func TestAssembleReportsParseErrors(t *testing.T) {
	raw := "@@SPAWN role=\"engineer\"\n<spawn_children>???</spawn_children>"
	a, err := parseRound(t, raw)
	if !errors.Is(err, agent.ErrParseAmbiguous) {
		t.Fatalf("expected ErrParseAmbiguous, got %v", err)
	}
	if a == nil {
		t.Fatal("expected a usable action alongside the error")
	}
}

func TestAssembleSpawnDirective(t *testing.T) {
	a, err := parseRound(t, "@@SPAWN role=\"creator\" task=\"write copy\" output_key=\"copy\"\n")
	if err != nil {
		t.Fatal(err)
	}
	want := []agent.Spec{{Role: "creator", Task: "write copy", Difficulty: 3, OutputKey: "copy"}}
	if diff := cmp.Diff(want, a.Spawns); diff != "" {
		t.Errorf("spawns mismatch:\n%s", diff)
	}
}

func TestAssembleHeader(t *testing.T) {
	a, err := parseRound(t, "<header>\n  <title>Star Map</title>\n  <description>Constellations by season</description>\n</header>")
	if err != nil {
		t.Fatal(err)
	}
	if a.Title != "Star Map" || a.Description != "Constellations by season" {
		t.Errorf("unexpected header %q %q", a.Title, a.Description)
	}

	a, err = parseRound(t, "@@header title=\"Quiz\" description='Ten questions'\n")
	if err != nil {
		t.Fatal(err)
	}
	if a.Title != "Quiz" || a.Description != "Ten questions" {
		t.Errorf("unexpected directive header %q %q", a.Title, a.Description)
	}
}
