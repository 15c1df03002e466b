package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/processtalk/bpmnflow/contracts"
	"github.com/processtalk/bpmnflow/internal/reliability"
)

// Client talks to a Xinference server hosting the speech-to-text model.
// Transcription is retried against timeouts only; any HTTP error status
// fails immediately.
type Client struct {
	url          string
	model        string
	replica      int
	nGPU         string
	httpClient   *http.Client
	launchClient *http.Client
	retryPolicy  reliability.Policy
	logger       *slog.Logger
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for readiness probes and
// transcription.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLaunchHTTPClient sets the HTTP client used for model launches.
func WithLaunchHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.launchClient = client
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy sets the transcription retry policy.
func WithRetryPolicy(policy reliability.Policy) ClientOption {
	return func(c *Client) {
		c.retryPolicy = policy
	}
}

// WithLaunchParams sets model launch parameters used by EnsureModel.
func WithLaunchParams(replica int, nGPU string) ClientOption {
	return func(c *Client) {
		c.replica = replica
		c.nGPU = nGPU
	}
}

// NewClient creates a client for the given Xinference URL and model.
func NewClient(url, model string, options ...ClientOption) *Client {
	c := &Client{
		url:        strings.TrimRight(url, "/"),
		model:      model,
		replica:    1,
		nGPU:       "auto",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Launching can pull model weights, which takes arbitrarily
		// long; the launch call is bounded by ctx alone.
		launchClient: &http.Client{},
		retryPolicy:  reliability.NewFixedDelay(time.Second, 3).WithRetryIf(isTimeout),
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// isTimeout matches timeout-class failures only.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ModelReady checks the model list for the configured model. Probe
// failures read as not ready.
func (c *Client) ModelReady(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/v1/models", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var models struct {
		Data []struct {
			ModelName string `json:"model_name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return false
	}

	for _, m := range models.Data {
		if m.ModelName == c.model {
			return true
		}
	}
	return false
}

// EnsureModel launches the audio model unless it is already running.
func (c *Client) EnsureModel(ctx context.Context) error {
	if c.ModelReady(ctx) {
		return nil
	}

	c.logger.Info("launching speech model", "model", c.model)

	body, err := json.Marshal(map[string]any{
		"model_name": c.model,
		"model_type": "audio",
		"replica":    c.replica,
		"n_gpu":      c.nGPU,
	})
	if err != nil {
		return fmt.Errorf("marshal launch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/models", bytes.NewReader(body))
	if err != nil {
		return &contracts.ProvisioningError{Backend: "xinference", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.launchClient.Do(req)
	if err != nil {
		return &contracts.ProvisioningError{Backend: "xinference", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &contracts.ProvisioningError{
			Backend: "xinference",
			Err:     fmt.Errorf("launch model: unexpected status %d: %s", resp.StatusCode, raw),
		}
	}
	return nil
}

// Transcribe converts base64 WAV audio to text. The transcript is
// returned with surrounding whitespace trimmed.
func (c *Client) Transcribe(ctx context.Context, b64Audio string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64Audio)
	if err != nil {
		return "", &contracts.MalformedInputError{Op: "transcribe", Err: err}
	}

	var text string
	err = reliability.Retry(ctx, c.retryPolicy, func(ctx context.Context) error {
		var attemptErr error
		text, attemptErr = c.transcribe(ctx, raw)
		return attemptErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *Client) transcribe(ctx context.Context, audio []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("transcribe: build form: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("transcribe: write audio: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("transcribe: write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("transcribe: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("transcribe: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcribe: unexpected status %d: %s", resp.StatusCode, raw)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("transcribe: decode response: %w", err)
	}

	return strings.TrimSpace(result.Text), nil
}
