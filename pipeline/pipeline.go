// Package pipeline composes processing stages into runs and submits them
// to the task engine.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/processtalk/bpmnflow/jobs"
	"github.com/processtalk/bpmnflow/stages"
)

// ErrEmptyChain is returned when a builder without stages is submitted.
var ErrEmptyChain = errors.New("pipeline: empty stage chain")

// Builder assembles the stage chain for a run.
type Builder struct {
	tasks []string
	extra json.RawMessage
}

// FromAudio builds the full chain for a voice recording: transcode,
// transcribe, generate the diagram, extract suggestions.
func FromAudio() *Builder {
	return &Builder{
		tasks: []string{
			stages.TaskPipelineTranscode,
			stages.TaskPipelineSpeechToText,
			stages.TaskPipelineDiagram,
			stages.TaskPipelineSuggestions,
		},
	}
}

// FromText builds the chain for a written description: generate the
// diagram, extract suggestions. A non-empty existingXML makes the diagram
// stage revise that diagram.
func FromText(existingXML string) *Builder {
	b := &Builder{
		tasks: []string{
			stages.TaskPipelineDiagram,
			stages.TaskPipelineSuggestions,
		},
	}
	if existingXML != "" {
		raw, _ := json.Marshal(stages.PipelineExtras{ExistingXML: existingXML})
		b.extra = raw
	}
	return b
}

// Tasks returns the stage chain in execution order.
func (b *Builder) Tasks() []string {
	out := make([]string, len(b.tasks))
	copy(out, b.tasks)
	return out
}

// Submitter starts pipeline runs.
type Submitter struct {
	client *jobs.Client
	logger *slog.Logger
}

// SubmitterOption configures the submitter.
type SubmitterOption func(*Submitter)

// WithSubmitterLogger sets the logger.
func WithSubmitterLogger(logger *slog.Logger) SubmitterOption {
	return func(s *Submitter) {
		s.logger = logger
	}
}

// NewSubmitter creates a submitter over the given jobs client.
func NewSubmitter(client *jobs.Client, options ...SubmitterOption) *Submitter {
	s := &Submitter{
		client: client,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Submit enqueues the first stage of the run and returns the pipeline id
// immediately. Progress is reported through the owner's notification
// room, not through the returned id.
func (s *Submitter) Submit(ctx context.Context, b *Builder, userID string, payload json.RawMessage) (string, error) {
	tasks := b.Tasks()
	if len(tasks) == 0 {
		return "", ErrEmptyChain
	}

	pipelineID := uuid.NewString()
	env := jobs.NewEnvelope(tasks[0], payload)
	env.Extra = b.extra
	env.Run = &jobs.RunState{
		PipelineID: pipelineID,
		UserID:     userID,
		Stages:     tasks,
		Index:      0,
	}

	if _, err := s.client.Enqueue(ctx, env); err != nil {
		return "", fmt.Errorf("submit pipeline: %w", err)
	}

	s.logger.Info("pipeline submitted",
		"pipelineId", pipelineID,
		"userId", userID,
		"stages", len(tasks))

	return pipelineID, nil
}
