package llm

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/webforge/internal/config"
	"github.com/mtzanidakis/webforge/internal/prompt"
	"google.golang.org/genai"
)

// Gemini streams from the Gemini API through the genai SDK.
type Gemini struct {
	name        string
	model       string
	temperature float64
	client      *genai.Client
}

func NewGemini(ctx context.Context, bc config.BackendConfig, cfg config.LLMConfig) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:     bc.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(cfg),
	}
	if bc.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: bc.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	name := bc.Name
	if name == "" {
		name = "gemini:" + bc.Model
	}
	return &Gemini{name: name, model: bc.Model, temperature: bc.Temperature, client: client}, nil
}

func (g *Gemini) Name() string { return g.name }

// contents maps chat messages onto genai contents. The system message
// becomes the system instruction.
func contents(p prompt.Prompt) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	var out []*genai.Content
	for _, m := range p.Messages {
		switch m.Role {
		case prompt.RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case prompt.RoleAssistant:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			out = append(out, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return system, out
}

func (g *Gemini) Stream(ctx context.Context, p prompt.Prompt, emit func(string)) error {
	system, msgs := contents(p)
	gc := &genai.GenerateContentConfig{SystemInstruction: system}
	if g.temperature > 0 {
		gc.Temperature = genai.Ptr(float32(g.temperature))
	}
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, msgs, gc) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		if text := resp.Text(); text != "" {
			emit(text)
		}
	}
	return nil
}
