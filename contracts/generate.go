package contracts

// XML wraps a generated BPMN diagram document.
type XML struct {
	XML string `json:"xml"`
}

// Suggestion pairs a detected diagram error with its proposed correction.
// Suggestions are immutable and always returned in model output order.
type Suggestion struct {
	Error      string `json:"error"`
	Correction string `json:"correction"`
}

// TimingMetadata carries optional timing information reported by a model
// backend alongside a generation response.
type TimingMetadata struct {
	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// GenerateResult wraps a single model backend call. It only travels between
// a backend call and its caller within one stage invocation and is never
// persisted.
type GenerateResult[T any] struct {
	ModelName string
	Response  T
	Timing    *TimingMetadata
}

// DiagramResult is the result of a diagram generation call.
type DiagramResult = GenerateResult[XML]

// SuggestionsResult is the result of a suggestion extraction call.
type SuggestionsResult = GenerateResult[[]Suggestion]
