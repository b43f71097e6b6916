package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/pagesmith/internal/errors"
)

const (
	openAIAPIBase      = "https://api.openai.com/v1"
	defaultOpenAIModel = "gpt-4o"
)

// OpenAIProvider implements Provider against any endpoint speaking the
// OpenAI chat completions protocol.
type OpenAIProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// NewOpenAIProvider constructs a provider for an OpenAI-compatible endpoint.
func NewOpenAIProvider(apiKey string, opts ...Option) *OpenAIProvider {
	o := applyOptions(opts, options{model: defaultOpenAIModel, baseURL: openAIAPIBase})
	return &OpenAIProvider{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(o.baseURL, "/"),
		model:     o.model,
		maxTokens: o.maxTokens,
		client:    o.client,
		logger:    o.logger.With().Str("component", "llm").Str("provider", "openai").Logger(),
	}
}

func (p *OpenAIProvider) ModelID() string { return p.model }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) chatRequest {
	cr := chatRequest{Model: pick(req.Model, p.model), MaxTokens: req.MaxTokens}
	if req.Temperature > 0 {
		t := req.Temperature
		cr.Temperature = &t
	}
	if req.SystemPrompt != "" {
		cr.Messages = append(cr.Messages, Message{Role: RoleSystem, Content: req.SystemPrompt})
	}
	cr.Messages = append(cr.Messages, req.Messages...)
	return cr
}

// Complete sends a blocking chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	cr := p.buildRequest(req)
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(raw))
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, perrors.NewAPIError("openai", resp.StatusCode, msg)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices: %w", ErrEmptyResponse)
	}

	choice := out.Choices[0]
	res := &CompletionResponse{
		Text:         choice.Message.Content,
		StopReason:   StopReasonEndTurn,
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	if choice.FinishReason == "length" {
		res.StopReason = StopReasonMaxTokens
	}

	p.logger.Debug().
		Str("model", cr.Model).
		Str("finish_reason", choice.FinishReason).
		Int("in_tokens", res.InputTokens).
		Int("out_tokens", res.OutputTokens).
		Dur("took", time.Since(start)).
		Msg("openai complete")
	return res, nil
}
