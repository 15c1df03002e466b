package backends

import (
	"context"
	"fmt"

	"github.com/processtalk/bpmnflow/contracts"
)

// ModelBackend generates BPMN content from prompts.
type ModelBackend interface {
	// ModelReady reports whether the configured model can serve requests.
	// Probe failures read as not ready, never as an error.
	ModelReady(ctx context.Context) bool
	// EnsureModel makes the configured model available, downloading or
	// launching it if needed. Idempotent.
	EnsureModel(ctx context.Context) error
	// GenerateDiagram produces BPMN XML for the prompt.
	GenerateDiagram(ctx context.Context, prompt string) (*contracts.DiagramResult, error)
	// GenerateSuggestions produces review suggestions for the prompt.
	GenerateSuggestions(ctx context.Context, prompt string) (*contracts.SuggestionsResult, error)
}

// Strict response schemas sent with every generation request.
const (
	diagramSchema = `{"type":"object","properties":{"xml":{"type":"string"}},"required":["xml"],"additionalProperties":false}`

	suggestionsSchema = `{"type":"array","items":{"type":"object","properties":{"error":{"type":"string"},"correction":{"type":"string"}},"required":["error","correction"],"additionalProperties":false}}`
)

// Sampling parameters shared by all backends.
const (
	samplingTemperature = 0.7
	samplingTopP        = 0.9
	samplingTopK        = 40
	contextWindow       = 16384
)

// httpStatusError reports a non-success HTTP status from a backend.
// Timeout-class and server-side statuses are transient.
type httpStatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *httpStatusError) Transient() bool {
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}
