// Package openaicompat implements llm.Provider against any service exposing
// the OpenAI chat-completions wire format. The orchestrator depends only on
// the llm.Provider interface; this is the default production adapter.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/finagents/loanflow/llm"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the unique identifier for this provider.
	ProviderName string

	// APIKey is the authentication key for the provider's API.
	APIKey string

	// BaseURL is the base URL for the provider's API.
	BaseURL string

	// DefaultModel is the model used when the request names none.
	DefaultModel string

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path.
	// Defaults to "/v1/chat/completions".
	EndpointPath string
}

// Provider is an OpenAI-compatible llm.Provider.
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New creates an OpenAI-compatible provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compatible"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.cfg.ProviderName }

// wireRequest is the OpenAI chat-completions request body.
type wireRequest struct {
	Model          string               `json:"model"`
	Messages       []llm.Message        `json:"messages"`
	MaxTokens      int                  `json:"max_tokens,omitempty"`
	Temperature    float32              `json:"temperature,omitempty"`
	Stop           []string             `json:"stop,omitempty"`
	ResponseFormat *wireResponseFormat  `json:"response_format,omitempty"`
}

type wireResponseFormat struct {
	Type string `json:"type"`
}

// wireResponse is the OpenAI chat-completions response body.
type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      llm.Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Completion implements llm.Provider.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "empty chat request", Provider: p.Name()}
	}

	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	body := wireRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Type == "json_object" {
		body.ResponseFormat = &wireResponseFormat{Type: "json_object"}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "marshal request: " + err.Error(), Provider: p.Name()}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+p.cfg.EndpointPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "build request: " + err.Error(), Provider: p.Name()}
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.mapTransportError(err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: "read response: " + err.Error(), Retryable: true, Provider: p.Name()}
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(httpResp.StatusCode, raw)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &llm.Error{Code: llm.ErrMalformedOutput, Message: "decode response: " + err.Error(), Provider: p.Name()}
	}
	if wire.Error != nil {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: wire.Error.Message, Provider: p.Name()}
	}
	if len(wire.Choices) == 0 {
		return nil, &llm.Error{Code: llm.ErrMalformedOutput, Message: "response carries no choices", Provider: p.Name()}
	}

	resp := &llm.ChatResponse{
		ID:        wire.ID,
		Provider:  p.Name(),
		Model:     wire.Model,
		CreatedAt: time.Unix(wire.Created, 0),
		Usage: llm.ChatUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	for _, c := range wire.Choices {
		resp.Choices = append(resp.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      c.Message,
		})
	}

	p.logger.Debug("completion",
		zap.String("model", model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// HealthCheck implements llm.Provider with a minimal one-token completion.
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.Completion(ctx, &llm.ChatRequest{
		Model:     p.cfg.DefaultModel,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	status := &llm.HealthStatus{Healthy: err == nil, Latency: time.Since(start)}
	return status, err
}

func (p *Provider) mapTransportError(err error) *llm.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: "upstream timeout", Retryable: true, Provider: p.Name()}
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: "upstream timeout", Retryable: true, Provider: p.Name()}
	}
	return &llm.Error{Code: llm.ErrUpstreamError, Message: err.Error(), Retryable: true, Provider: p.Name()}
}

func (p *Provider) mapHTTPError(status int, raw []byte) *llm.Error {
	msg := fmt.Sprintf("upstream status %d", status)
	var wire wireResponse
	if json.Unmarshal(raw, &wire) == nil && wire.Error != nil {
		msg = wire.Error.Message
	}
	switch {
	case status == http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: p.Name()}
	case status == http.StatusForbidden:
		return &llm.Error{Code: llm.ErrForbidden, Message: msg, HTTPStatus: status, Provider: p.Name()}
	case status == http.StatusTooManyRequests:
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: p.Name()}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Provider: p.Name()}
	case status >= 500:
		return &llm.Error{Code: llm.ErrModelOverloaded, Message: msg, HTTPStatus: status, Retryable: true, Provider: p.Name()}
	default:
		return &llm.Error{Code: llm.ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: p.Name()}
	}
}
