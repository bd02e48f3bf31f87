package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mtzanidakis/webforge/internal/agent"
	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/prompt"
)

type fakeBackend struct {
	name   string
	chunks []string
	err    error
	calls  int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Stream(ctx context.Context, p prompt.Prompt, emit func(string)) error {
	f.calls++
	for _, c := range f.chunks {
		emit(c)
	}
	return f.err
}

type recordingSink struct {
	resets int
	text   strings.Builder
}

func (s *recordingSink) Reset() {
	s.resets++
	s.text.Reset()
}

func (s *recordingSink) Write(chunk string) { s.text.WriteString(chunk) }

var testPrompt = prompt.Prompt{Messages: []prompt.Message{
	{Role: prompt.RoleSystem, Content: "sys"},
	{Role: prompt.RoleUser, Content: "hi"},
}}

func TestChainOrderByDifficulty(t *testing.T) {
	regular := &fakeBackend{name: "regular", chunks: []string{"r"}}
	advanced := &fakeBackend{name: "advanced", chunks: []string{"a"}}
	c := NewChain([]Backend{regular}, []Backend{advanced}, 4)

	got, err := c.Generate(context.Background(), testPrompt, Options{Difficulty: 2}, nil)
	if err != nil || got != "r" {
		t.Errorf("expected regular backend for easy task, got %q %v", got, err)
	}
	got, err = c.Generate(context.Background(), testPrompt, Options{Difficulty: 4}, nil)
	if err != nil || got != "a" {
		t.Errorf("expected advanced backend for hard task, got %q %v", got, err)
	}
}

func TestChainFallbackResetsSink(t *testing.T) {
	broken := &fakeBackend{name: "broken", chunks: []string{"partial "}, err: errors.New("connection reset")}
	good := &fakeBackend{name: "good", chunks: []string{"hello ", "world"}}
	c := NewChain([]Backend{broken, good}, nil, 4)

	sink := &recordingSink{}
	got, err := c.Generate(context.Background(), testPrompt, Options{}, sink)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "hello world" {
		t.Errorf("expected 'hello world', got %q", got)
	}
	if sink.resets != 2 {
		t.Errorf("expected 2 resets, got %d", sink.resets)
	}
	if sink.text.String() != "hello world" {
		t.Errorf("expected sink to hold only the successful attempt, got %q", sink.text.String())
	}
}

func TestChainExhausted(t *testing.T) {
	a := &fakeBackend{name: "a", err: errors.New("boom")}
	b := &fakeBackend{name: "b"}
	c := NewChain([]Backend{a}, []Backend{b}, 4)

	_, err := c.Generate(context.Background(), testPrompt, Options{}, nil)
	if !errors.Is(err, agent.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "a: boom") || !strings.Contains(err.Error(), "b: empty response") {
		t.Errorf("expected both backend errors, got %v", err)
	}
}

func TestChainStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &fakeBackend{name: "a", err: context.Canceled}
	b := &fakeBackend{name: "b", chunks: []string{"x"}}
	c := NewChain([]Backend{a, b}, nil, 4)

	if _, err := c.Generate(ctx, testPrompt, Options{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if b.calls != 0 {
		t.Errorf("expected no fallback after cancel, got %d calls", b.calls)
	}
}

func sseServer(t *testing.T, check func(r *http.Request), lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{ConnectTimeout: time.Second, ReadTimeout: time.Second, WriteTimeout: time.Second}
}

func TestOpenAIStream(t *testing.T) {
	var gotReq chatRequest
	srv := sseServer(t, func(r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("expected bearer auth, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
	},
		`data: {"choices":[{"delta":{"content":"<<<FILE: src/a.ts>>>"}}]}`,
		`data: {"choices":[{"delta":{"content":"\nexport const a = 1;"}}]}`,
		`: keep-alive`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	)

	o := NewOpenAI(config.BackendConfig{BaseURL: srv.URL + "/", APIKey: "sk-test", Model: "gpt-test"}, testLLMConfig())
	var sb strings.Builder
	if err := o.Stream(context.Background(), testPrompt, func(s string) { sb.WriteString(s) }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if sb.String() != "<<<FILE: src/a.ts>>>\nexport const a = 1;" {
		t.Errorf("unexpected text %q", sb.String())
	}
	if !gotReq.Stream || gotReq.Model != "gpt-test" || len(gotReq.Messages) != 2 {
		t.Errorf("unexpected request %+v", gotReq)
	}
	if o.Name() != "openai:gpt-test" {
		t.Errorf("expected default name, got %s", o.Name())
	}
}

func TestOpenAIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOpenAI(config.BackendConfig{BaseURL: srv.URL, Model: "m"}, testLLMConfig())
	err := o.Stream(context.Background(), testPrompt, func(string) {})
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestOpenAIStreamError(t *testing.T) {
	srv := sseServer(t, nil, `data: {"error":{"message":"overloaded"}}`)
	o := NewOpenAI(config.BackendConfig{BaseURL: srv.URL, Model: "m"}, testLLMConfig())
	err := o.Stream(context.Background(), testPrompt, func(string) {})
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Errorf("expected stream error, got %v", err)
	}
}

func TestReadTimeoutOnStalledStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := config.LLMConfig{ConnectTimeout: time.Second, ReadTimeout: 100 * time.Millisecond, WriteTimeout: time.Second}
	o := NewOpenAI(config.BackendConfig{BaseURL: srv.URL, Model: "m"}, cfg)

	start := time.Now()
	err := o.Stream(context.Background(), testPrompt, func(string) {})
	if err == nil {
		t.Fatal("expected read timeout error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("expected stalled stream to fail quickly, took %s", time.Since(start))
	}
}

func TestFromConfig(t *testing.T) {
	cfg := testLLMConfig()
	cfg.DifficultyThreshold = 3
	cfg.Backends = []config.BackendConfig{
		{Name: "fast", Provider: "openai", Model: "small"},
		{Name: "smart", Provider: "openai", Model: "large", Advanced: true},
	}
	c, err := FromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	order := c.order(5)
	if len(order) != 2 || order[0].Name() != "smart" || order[1].Name() != "fast" {
		t.Errorf("unexpected order for hard task")
	}

	if _, err := FromConfig(context.Background(), testLLMConfig()); err == nil {
		t.Error("expected error without backends")
	}
}
