package build

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/vfs"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(config.BuildConfig{URL: srv.URL + "/", Timeout: 5 * time.Second})
}

func TestCheckAndCompile(t *testing.T) {
	var gotFiles map[string]string
	var gotEnv map[string]string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotFiles, gotEnv = req.Files, req.Env
		switch r.URL.Path {
		case "/check":
			json.NewEncoder(w).Encode(checkResponse{Diagnostics: "src/App.tsx(3,1): error TS2304: Cannot find name 'x'."})
		case "/compile":
			json.NewEncoder(w).Encode(Result{Success: true, Output: "console.log(1)", Externals: []string{"react"}})
		default:
			http.NotFound(w, r)
		}
	})

	files := map[string]string{"src/App.tsx": "export default function App() {}"}
	env := map[string]string{"API": "x"}

	diag, err := c.Check(context.Background(), files, env)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(diag, "TS2304") {
		t.Errorf("expected diagnostics, got %q", diag)
	}
	if diff := cmp.Diff(files, gotFiles); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if gotEnv["API"] != "x" {
		t.Errorf("expected env to be sent, got %v", gotEnv)
	}

	res, err := c.Compile(context.Background(), files, env)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !res.Success || res.Message() != "console.log(1)" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCompileFailureIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Success: false, Error: "Unexpected token"})
	})
	res, err := c.Compile(context.Background(), map[string]string{"a.ts": "("}, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if res.Success || res.Message() != "Unexpected token" {
		t.Errorf("expected failed result, got %+v", res)
	}
}

func TestCompileServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	_, err := c.Compile(context.Background(), map[string]string{}, nil)
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestIsCritical(t *testing.T) {
	tests := []struct {
		diag string
		want bool
	}{
		{"", false},
		{"error TS2304: 'Foo' is not defined", true},
		{"error TS2322: Type 'string' is not assignable to type 'number'", true},
		{"error TS2307: Cannot find module 'three'", false},
		{"warning: 'x' is not defined", false},
	}
	for _, tt := range tests {
		if got := IsCritical(tt.diag); got != tt.want {
			t.Errorf("IsCritical(%q): expected %v, got %v", tt.diag, tt.want, got)
		}
	}
}

func TestUnsupportedAndBareImports(t *testing.T) {
	got := Unsupported([]string{"react", "three", "left-pad", "left-pad", "moment"})
	if diff := cmp.Diff([]string{"left-pad", "moment"}, got); diff != "" {
		t.Errorf("unsupported mismatch (-want +got):\n%s", diff)
	}

	js := `import "leaflet/dist/leaflet.css";
import "https://cdn.example.com/x.js";
import "./local.js";
import 'react';
import "normalize.css";`
	bare := BareImports(js)
	if diff := cmp.Diff([]string{"leaflet/dist/leaflet.css", "normalize.css"}, bare); diff != "" {
		t.Errorf("bare imports mismatch (-want +got):\n%s", diff)
	}
}

func TestImportMapTransitive(t *testing.T) {
	js := `import { Canvas } from "@react-three/drei";`
	im := ImportMap(js, nil)
	for _, want := range []string{"react", "react-dom", "three", "@react-three/fiber", "@react-three/drei"} {
		if _, ok := im[want]; !ok {
			t.Errorf("expected %s in import map", want)
		}
	}
	if _, ok := im["leaflet"]; ok {
		t.Error("expected leaflet to be absent")
	}

	im = ImportMap("", []string{"react-leaflet"})
	if _, ok := im["leaflet"]; !ok {
		t.Error("expected leaflet pulled in by react-leaflet")
	}
}

func TestModules(t *testing.T) {
	mods := Modules()
	if len(mods) != len(coreImports)+len(optionalImports) {
		t.Errorf("expected %d modules, got %d", len(coreImports)+len(optionalImports), len(mods))
	}
	for i := 1; i < len(mods); i++ {
		if mods[i-1] > mods[i] {
			t.Fatalf("expected sorted modules, got %v", mods)
		}
	}
}

func TestShell(t *testing.T) {
	js := `import L from "leaflet"; console.log(L);`
	html, err := Shell("Map <demo>", js, []string{"tailwind"})
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	for _, want := range []string{
		"<title>Map &lt;demo&gt;</title>",
		"cdn.tailwindcss.com",
		"leaflet@1.9.4/dist/leaflet.css",
		`<script type="importmap">`,
		`"leaflet": "https://esm.sh/leaflet@1.9.4?dev"`,
		js,
		`<div id="root"></div>`,
	} {
		if !strings.Contains(html, want) {
			t.Errorf("expected shell to contain %q", want)
		}
	}
	if strings.Contains(html, "katex") {
		t.Error("expected no katex stylesheet")
	}

	start := strings.Index(html, `<script type="importmap">`) + len(`<script type="importmap">`)
	end := strings.Index(html[start:], "</script>")
	var im struct {
		Imports map[string]string `json:"imports"`
	}
	if err := json.Unmarshal([]byte(html[start:start+end]), &im); err != nil {
		t.Fatalf("import map is not valid json: %v", err)
	}
	if im.Imports["react"] == "" {
		t.Error("expected react in import map")
	}

	html, _ = Shell("", "", nil)
	if !strings.Contains(html, "<title>"+defaultTitle+"</title>") {
		t.Error("expected default title")
	}
}

func TestRenderTemplateVars(t *testing.T) {
	got := RenderTemplateVars("Hi {{name}}, see {{url}} {{missing}}", map[string]string{"name": "Ada", "url": "x.io"})
	if got != "Hi Ada, see x.io {{missing}}" {
		t.Errorf("unexpected render %q", got)
	}
}

func TestEnhanceError(t *testing.T) {
	p := vfs.NewProject("c1")
	p.Write("src/data/story.ts", "export const Chapters = [];\nexport function load() {}", "eng", false, nil)
	p.Write("src/components/StoryView.tsx", "export default function StoryView() {}", "eng", false, nil)

	msg := `No matching export in "vfs:src/data/story" for import "chapters"`
	got := EnhanceError(msg, p)
	if !strings.Contains(got, "Available exports in src/data/story.ts: Chapters, load") {
		t.Errorf("expected export list, got %q", got)
	}
	if !strings.Contains(got, "Did you mean: `import { Chapters }") {
		t.Errorf("expected suggestion, got %q", got)
	}

	got = EnhanceError("File not found in VFS: src/StoryView", p)
	if !strings.Contains(got, "Similar files in project: src/components/StoryView.tsx") {
		t.Errorf("expected similar files, got %q", got)
	}

	if got := EnhanceError("Unexpected token", p); got != "Unexpected token" {
		t.Errorf("expected message unchanged, got %q", got)
	}
}
