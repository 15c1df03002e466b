package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/processtalk/bpmnflow/contracts"
	"github.com/processtalk/bpmnflow/jobs"
)

// DiagramRequest is the payload of the standalone diagram task.
type DiagramRequest struct {
	Description string `json:"description"`
	ExistingXML string `json:"bpmn_xml,omitempty"`
}

// PipelineExtras travels with a chained run and carries options that are
// not stage input.
type PipelineExtras struct {
	ExistingXML string `json:"bpmn_xml,omitempty"`
}

func decodePayload(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return &contracts.MalformedInputError{Op: "decode payload", Err: err}
	}
	return nil
}

// nextContext derives the context for the following stage from a stage
// output value.
func nextContext(pc contracts.PipelineContext, value any) (contracts.PipelineContext, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return pc, fmt.Errorf("marshal stage output: %w", err)
	}
	return pc.WithPayload(raw), nil
}

// pipelineContext rebuilds the stage context from a chained envelope.
func pipelineContext(env *jobs.Envelope) (contracts.PipelineContext, error) {
	if env.Run == nil {
		return contracts.PipelineContext{}, &contracts.MalformedInputError{
			Op:  "pipeline stage",
			Err: fmt.Errorf("envelope %s has no run state", env.ID),
		}
	}
	return contracts.NewPipelineContext(env.Run.UserID, env.Run.PipelineID, env.Payload), nil
}

// Register binds every task, standalone and pipeline, onto the worker.
func (s *Stages) Register(w *jobs.Worker) {
	w.Register(TaskTranscode, s.handleTranscode)
	w.Register(TaskSpeechToText, s.handleSpeechToText)
	w.Register(TaskDiagram, s.handleDiagram)
	w.Register(TaskSuggestions, s.handleSuggestions)

	w.Register(TaskPipelineTranscode, s.handlePipelineTranscode)
	w.Register(TaskPipelineSpeechToText, s.handlePipelineSpeechToText)
	w.Register(TaskPipelineDiagram, s.handlePipelineDiagram)
	w.Register(TaskPipelineSuggestions, s.handlePipelineSuggestions)
}

func (s *Stages) handleTranscode(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	var b64WebM string
	if err := decodePayload(env.Payload, &b64WebM); err != nil {
		return nil, err
	}
	b64WAV, err := s.Transcode(ctx, b64WebM)
	if err != nil {
		return nil, err
	}
	return json.Marshal(b64WAV)
}

func (s *Stages) handleSpeechToText(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	var b64Audio string
	if err := decodePayload(env.Payload, &b64Audio); err != nil {
		return nil, err
	}
	text, err := s.SpeechToText(ctx, b64Audio)
	if err != nil {
		return nil, err
	}
	return json.Marshal(text)
}

func (s *Stages) handleDiagram(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	var req DiagramRequest
	if err := decodePayload(env.Payload, &req); err != nil {
		return nil, err
	}
	xml, err := s.CreateDiagram(ctx, req.Description, req.ExistingXML)
	if err != nil {
		return nil, err
	}
	return json.Marshal(xml)
}

func (s *Stages) handleSuggestions(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	var xml string
	if err := decodePayload(env.Payload, &xml); err != nil {
		return nil, err
	}
	suggestions, err := s.ExtractSuggestions(ctx, xml)
	if err != nil {
		return nil, err
	}
	return json.Marshal(suggestions)
}

func (s *Stages) handlePipelineTranscode(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	pc, err := pipelineContext(env)
	if err != nil {
		return nil, err
	}
	out, err := s.PipelineTranscode(ctx, pc)
	if err != nil {
		return nil, err
	}
	return out.Payload, nil
}

func (s *Stages) handlePipelineSpeechToText(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	pc, err := pipelineContext(env)
	if err != nil {
		return nil, err
	}
	out, err := s.PipelineSpeechToText(ctx, pc)
	if err != nil {
		return nil, err
	}
	return out.Payload, nil
}

func (s *Stages) handlePipelineDiagram(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	pc, err := pipelineContext(env)
	if err != nil {
		return nil, err
	}

	var extras PipelineExtras
	if len(env.Extra) > 0 {
		if err := decodePayload(env.Extra, &extras); err != nil {
			return nil, err
		}
	}

	out, err := s.PipelineCreateDiagram(ctx, pc, extras.ExistingXML)
	if err != nil {
		return nil, err
	}
	return out.Payload, nil
}

func (s *Stages) handlePipelineSuggestions(ctx context.Context, env *jobs.Envelope) (json.RawMessage, error) {
	pc, err := pipelineContext(env)
	if err != nil {
		return nil, err
	}
	out, err := s.PipelineExtractSuggestions(ctx, pc)
	if err != nil {
		return nil, err
	}
	return out.Payload, nil
}
