package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/processtalk/bpmnflow/contracts"
	"github.com/processtalk/bpmnflow/internal/reliability"
)

// OllamaBackend talks to an Ollama server. Diagram generation is retried
// against transient failures; suggestion extraction runs at most once so
// slow review calls are never multiplied.
type OllamaBackend struct {
	url              string
	model            string
	diagramAgent     string
	suggestionsAgent string
	httpClient       *http.Client
	probeTimeout     time.Duration
	retryPolicy      reliability.Policy
	logger           *slog.Logger
}

// OllamaOption configures the backend.
type OllamaOption func(*OllamaBackend)

// WithOllamaHTTPClient sets the HTTP client.
func WithOllamaHTTPClient(client *http.Client) OllamaOption {
	return func(b *OllamaBackend) {
		b.httpClient = client
	}
}

// WithOllamaLogger sets the logger.
func WithOllamaLogger(logger *slog.Logger) OllamaOption {
	return func(b *OllamaBackend) {
		b.logger = logger
	}
}

// WithOllamaRetryPolicy sets the retry policy for diagram generation.
func WithOllamaRetryPolicy(policy reliability.Policy) OllamaOption {
	return func(b *OllamaBackend) {
		b.retryPolicy = policy
	}
}

// NewOllamaBackend creates a backend for the given server URL and model.
func NewOllamaBackend(url, model, diagramAgent, suggestionsAgent string, options ...OllamaOption) *OllamaBackend {
	b := &OllamaBackend{
		url:              strings.TrimRight(url, "/"),
		model:            model,
		diagramAgent:     diagramAgent,
		suggestionsAgent: suggestionsAgent,
		httpClient:       &http.Client{},
		probeTimeout:     10 * time.Second,
		retryPolicy:      reliability.NewFixedDelay(time.Second, 3).WithRetryIf(contracts.IsTransient),
		logger:           slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b
}

type ollamaModelOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumCtx      int     `json:"num_ctx"`
}

type ollamaGenerateRequest struct {
	Model   string             `json:"model"`
	System  string             `json:"system"`
	Prompt  string             `json:"prompt"`
	Stream  bool               `json:"stream"`
	Options ollamaModelOptions `json:"options"`
	Format  json.RawMessage    `json:"format,omitempty"`
}

// ollamaGenerateResponse is the envelope around the model output. The
// response field is a string of JSON matching the requested format.
type ollamaGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	TotalDuration   int64  `json:"total_duration"`
	LoadDuration    int64  `json:"load_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	EvalDuration    int64  `json:"eval_duration"`
}

// ModelReady checks the tag list for the configured model. The probe is
// bounded so a stalled server cannot hang health checks; generation and
// pulls stay unbounded.
func (b *OllamaBackend) ModelReady(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url+"/api/tags", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	for _, m := range tags.Models {
		if m.Name == b.model {
			return true
		}
	}
	return false
}

// EnsureModel pulls the model if it is not already present.
func (b *OllamaBackend) EnsureModel(ctx context.Context) error {
	if b.ModelReady(ctx) {
		return nil
	}

	b.logger.Info("pulling model", "model", b.model)

	body, err := json.Marshal(map[string]string{"model": b.model})
	if err != nil {
		return fmt.Errorf("marshal pull request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return &contracts.ProvisioningError{Backend: "ollama", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return &contracts.ProvisioningError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &contracts.ProvisioningError{
			Backend: "ollama",
			Err:     &httpStatusError{Op: "pull", StatusCode: resp.StatusCode, Body: string(raw)},
		}
	}

	// The pull endpoint streams progress objects; draining confirms the
	// download completed before the connection drops.
	io.Copy(io.Discard, resp.Body)
	return nil
}

// GenerateDiagram produces BPMN XML for the prompt, retrying transient
// failures per the configured policy.
func (b *OllamaBackend) GenerateDiagram(ctx context.Context, prompt string) (*contracts.DiagramResult, error) {
	var result *contracts.DiagramResult
	err := reliability.Retry(ctx, b.retryPolicy, func(ctx context.Context) error {
		var xml contracts.XML
		meta, genErr := b.generate(ctx, "generate diagram", b.diagramAgent, prompt, json.RawMessage(diagramSchema), &xml)
		if genErr != nil {
			return genErr
		}
		result = &contracts.DiagramResult{
			ModelName: meta.Model,
			Response:  xml,
			Timing:    timingFrom(meta),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GenerateSuggestions produces review suggestions for the prompt. Not
// retried.
func (b *OllamaBackend) GenerateSuggestions(ctx context.Context, prompt string) (*contracts.SuggestionsResult, error) {
	var suggestions []contracts.Suggestion
	meta, err := b.generate(ctx, "generate suggestions", b.suggestionsAgent, prompt, json.RawMessage(suggestionsSchema), &suggestions)
	if err != nil {
		return nil, err
	}
	return &contracts.SuggestionsResult{
		ModelName: meta.Model,
		Response:  suggestions,
		Timing:    timingFrom(meta),
	}, nil
}

// generate performs one /api/generate call and decodes the inner response
// strictly into out.
func (b *OllamaBackend) generate(ctx context.Context, op, system, prompt string, format json.RawMessage, out any) (*ollamaGenerateResponse, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  b.model,
		System: system,
		Prompt: prompt,
		Stream: false,
		Options: ollamaModelOptions{
			Temperature: samplingTemperature,
			TopP:        samplingTopP,
			TopK:        samplingTopK,
			NumCtx:      contextWindow,
		},
		Format: format,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &contracts.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &httpStatusError{Op: op, StatusCode: resp.StatusCode, Body: string(raw)}
		if statusErr.Transient() {
			return nil, &contracts.TransientError{Op: op, Err: statusErr}
		}
		return nil, statusErr
	}

	var envelope ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%s: decode envelope: %w", op, err)
	}

	dec := json.NewDecoder(strings.NewReader(envelope.Response))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return nil, &contracts.SchemaViolationError{Op: op, Detail: err.Error()}
	}

	b.logger.Debug("model response",
		"model", envelope.Model,
		"evalCount", envelope.EvalCount)

	return &envelope, nil
}

func timingFrom(meta *ollamaGenerateResponse) *contracts.TimingMetadata {
	if meta.TotalDuration == 0 && meta.EvalCount == 0 {
		return nil
	}
	return &contracts.TimingMetadata{
		TotalDuration:   meta.TotalDuration,
		LoadDuration:    meta.LoadDuration,
		PromptEvalCount: meta.PromptEvalCount,
		EvalCount:       meta.EvalCount,
		EvalDuration:    meta.EvalDuration,
	}
}
