package contracts

import "encoding/json"

// Step identifies a pipeline stage in notification events.
type Step string

const (
	StepTranscode    Step = "transcode"
	StepSpeechToText Step = "stt"
	StepDiagram      Step = "bpmn"
	StepSuggestions  Step = "suggestions"
)

// Status is the outcome reported by a stage notification.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// PipelineEvent is published to the run owner's private room whenever a
// stage completes or fails. Delivery is fire-and-forget: at most once, no
// acknowledgement, dropped silently when the subscriber is not connected.
type PipelineEvent struct {
	PipelineID string          `json:"pipeline_id"`
	Step       Step            `json:"step"`
	Status     Status          `json:"status"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// StageSucceeded builds the ok event for a completed stage. The data value
// is stage-specific; a nil data yields an event without payload.
func StageSucceeded(pipelineID string, step Step, data any) PipelineEvent {
	ev := PipelineEvent{
		PipelineID: pipelineID,
		Step:       step,
		Status:     StatusOK,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// StageFailed builds the error event for a stage. Failure events never
// carry a payload.
func StageFailed(pipelineID string, step Step) PipelineEvent {
	return PipelineEvent{
		PipelineID: pipelineID,
		Step:       step,
		Status:     StatusError,
	}
}
