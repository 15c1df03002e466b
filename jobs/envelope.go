package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunState describes a chained run: the full stage list and the position
// of this envelope within it.
type RunState struct {
	PipelineID string   `json:"pipelineId"`
	UserID     string   `json:"userId"`
	Stages     []string `json:"stages"`
	Index      int      `json:"index"`
}

// Envelope is the unit placed on a task queue. Payload is the stage input;
// Extra carries task-specific options that travel with the whole run. A
// nil Run marks a standalone task.
type Envelope struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
	Run        *RunState       `json:"run,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// NewEnvelope creates a standalone task envelope.
func NewEnvelope(task string, payload json.RawMessage) *Envelope {
	return &Envelope{
		ID:         uuid.NewString(),
		Task:       task,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Next builds the envelope for the following stage of a chained run,
// carrying payload as its input. It returns false when this envelope is
// standalone or the last stage.
func (e *Envelope) Next(payload json.RawMessage) (*Envelope, bool) {
	if e.Run == nil || e.Run.Index+1 >= len(e.Run.Stages) {
		return nil, false
	}

	next := &Envelope{
		ID:         uuid.NewString(),
		Task:       e.Run.Stages[e.Run.Index+1],
		Payload:    payload,
		Extra:      e.Extra,
		EnqueuedAt: time.Now().UTC(),
		Run: &RunState{
			PipelineID: e.Run.PipelineID,
			UserID:     e.Run.UserID,
			Stages:     e.Run.Stages,
			Index:      e.Run.Index + 1,
		},
	}
	return next, true
}
