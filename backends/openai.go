package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/processtalk/bpmnflow/contracts"
)

// ErrOpenAIURLRequired is returned when the backend is created without an
// endpoint URL.
var ErrOpenAIURLRequired = errors.New("backends: openai url required")

// OpenAIBackend talks to an OpenAI-compatible chat completions endpoint.
// The endpoint is assumed managed, so readiness always holds and model
// provisioning is a no-op.
type OpenAIBackend struct {
	url              string
	token            string
	model            string
	diagramAgent     string
	suggestionsAgent string
	httpClient       *http.Client
	logger           *slog.Logger
}

// OpenAIOption configures the backend.
type OpenAIOption func(*OpenAIBackend)

// WithOpenAIHTTPClient sets the HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(b *OpenAIBackend) {
		b.httpClient = client
	}
}

// WithOpenAILogger sets the logger.
func WithOpenAILogger(logger *slog.Logger) OpenAIOption {
	return func(b *OpenAIBackend) {
		b.logger = logger
	}
}

// NewOpenAIBackend creates a backend for the given endpoint. The URL is
// required; there is no default endpoint.
func NewOpenAIBackend(url, token, model, diagramAgent, suggestionsAgent string, options ...OpenAIOption) (*OpenAIBackend, error) {
	if url == "" {
		return nil, ErrOpenAIURLRequired
	}

	b := &OpenAIBackend{
		url:              strings.TrimRight(url, "/"),
		token:            token,
		model:            model,
		diagramAgent:     diagramAgent,
		suggestionsAgent: suggestionsAgent,
		httpClient:       &http.Client{},
		logger:           slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p"`
	ResponseFormat json.RawMessage `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const (
	openAIDiagramFormat     = `{"type":"json_schema","json_schema":{"name":"xml_response","strict":true,"schema":` + diagramSchema + `}}`
	openAISuggestionsFormat = `{"type":"json_schema","json_schema":{"name":"suggestions_response","strict":true,"schema":` + suggestionsSchema + `}}`
)

func (b *OpenAIBackend) ModelReady(ctx context.Context) bool { return true }

func (b *OpenAIBackend) EnsureModel(ctx context.Context) error { return nil }

func (b *OpenAIBackend) GenerateDiagram(ctx context.Context, prompt string) (*contracts.DiagramResult, error) {
	var xml contracts.XML
	if err := b.complete(ctx, "generate diagram", b.diagramAgent, prompt, json.RawMessage(openAIDiagramFormat), &xml); err != nil {
		return nil, err
	}
	return &contracts.DiagramResult{ModelName: b.model, Response: xml}, nil
}

func (b *OpenAIBackend) GenerateSuggestions(ctx context.Context, prompt string) (*contracts.SuggestionsResult, error) {
	var suggestions []contracts.Suggestion
	if err := b.complete(ctx, "generate suggestions", b.suggestionsAgent, prompt, json.RawMessage(openAISuggestionsFormat), &suggestions); err != nil {
		return nil, err
	}
	return &contracts.SuggestionsResult{ModelName: b.model, Response: suggestions}, nil
}

func (b *OpenAIBackend) complete(ctx context.Context, op, system, prompt string, format json.RawMessage, out any) error {
	body, err := json.Marshal(chatRequest{
		Model: b.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		Temperature:    samplingTemperature,
		TopP:           samplingTopP,
		ResponseFormat: format,
	})
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &contracts.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &httpStatusError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
		if statusErr.Transient() {
			return &contracts.TransientError{Op: op, Err: statusErr}
		}
		return statusErr
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	if len(completion.Choices) == 0 {
		return &contracts.SchemaViolationError{Op: op, Detail: "completion has no choices"}
	}

	dec := json.NewDecoder(strings.NewReader(completion.Choices[0].Message.Content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &contracts.SchemaViolationError{Op: op, Detail: err.Error()}
	}

	return nil
}
