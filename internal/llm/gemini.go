package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	genai "google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiProvider implements Provider with the official genai client.
type GeminiProvider struct {
	cli       *genai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// NewGeminiProvider creates a Gemini API client. An empty apiKey leaves
// the client to read GOOGLE_API_KEY from the environment.
func NewGeminiProvider(ctx context.Context, apiKey string, opts ...Option) (*GeminiProvider, error) {
	o := applyOptions(opts, options{model: defaultGeminiModel})
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: o.client,
	}
	if o.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}
	cli, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{
		cli:       cli,
		model:     o.model,
		maxTokens: o.maxTokens,
		logger:    o.logger.With().Str("component", "llm").Str("provider", "gemini").Logger(),
	}, nil
}

func (g *GeminiProvider) ModelID() string { return g.model }

// Complete sends the conversation as one GenerateContent call.
func (g *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := pick(req.Model, g.model)
	cfg := &genai.GenerateContentConfig{}
	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	if req.Temperature > 0 {
		t := float32(req.Temperature)
		cfg.Temperature = &t
	}
	system := req.SystemPrompt

	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = strings.TrimSpace(system + "\n" + m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}

	start := time.Now()
	resp, err := g.cli.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: no candidates: %w", ErrEmptyResponse)
	}

	cand := resp.Candidates[0]
	out := &CompletionResponse{StopReason: StopReasonEndTurn}
	for _, part := range cand.Content.Parts {
		out.Text += part.Text
	}
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.StopReason = StopReasonMaxTokens
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}

	g.logger.Debug().
		Str("model", model).
		Str("finish_reason", string(cand.FinishReason)).
		Int("in_tokens", out.InputTokens).
		Int("out_tokens", out.OutputTokens).
		Dur("took", time.Since(start)).
		Msg("gemini complete")
	return out, nil
}
