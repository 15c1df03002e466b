package contracts

import "encoding/json"

// PipelineContext is the value threaded through every stage of a pipeline
// run. UserID and PipelineID are fixed when the context is created and
// travel with the payload as a unit; stages derive the next context with
// WithPayload and must never alter the identity.
type PipelineContext struct {
	UserID     string          `json:"userId"`
	PipelineID string          `json:"pipelineId"`
	Payload    json.RawMessage `json:"payload"`
}

// NewPipelineContext creates a context for a new run.
func NewPipelineContext(userID, pipelineID string, payload json.RawMessage) PipelineContext {
	return PipelineContext{
		UserID:     userID,
		PipelineID: pipelineID,
		Payload:    payload,
	}
}

// WithPayload returns a copy of the context carrying the given payload and
// the same identity.
func (c PipelineContext) WithPayload(payload json.RawMessage) PipelineContext {
	return PipelineContext{
		UserID:     c.UserID,
		PipelineID: c.PipelineID,
		Payload:    payload,
	}
}
