package stages

import (
	"context"
	"log/slog"
	"strings"

	"github.com/processtalk/bpmnflow/backends"
	"github.com/processtalk/bpmnflow/contracts"
)

// Notifier publishes pipeline events to a room.
type Notifier interface {
	Emit(room string, event contracts.PipelineEvent)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Emit(room string, event contracts.PipelineEvent) {}

// Transcriber converts base64 WAV audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, b64Audio string) (string, error)
}

// Transcoder converts base64 WebM audio to base64 WAV.
type Transcoder interface {
	WebMToWAV(ctx context.Context, b64WebM string) (string, error)
}

// Stages bundles the task implementations with their dependencies.
type Stages struct {
	backend     backends.ModelBackend
	transcriber Transcriber
	transcoder  Transcoder
	notifier    Notifier
	logger      *slog.Logger
}

// Option configures Stages.
type Option func(*Stages)

// WithNotifier sets the progress notifier used by pipeline stages.
func WithNotifier(n Notifier) Option {
	return func(s *Stages) {
		s.notifier = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stages) {
		s.logger = logger
	}
}

// New creates the stage set.
func New(backend backends.ModelBackend, transcriber Transcriber, transcoder Transcoder, options ...Option) *Stages {
	s := &Stages{
		backend:     backend,
		transcriber: transcriber,
		transcoder:  transcoder,
		notifier:    NopNotifier{},
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Postprocess fixes the model's habitual misspelling of the notation name
// in generated XML.
func Postprocess(xml string) string {
	return strings.ReplaceAll(xml, "BMN", "BPMN")
}

// Transcode converts base64 WebM audio to base64 WAV.
func (s *Stages) Transcode(ctx context.Context, b64WebM string) (string, error) {
	return s.transcoder.WebMToWAV(ctx, b64WebM)
}

// SpeechToText transcribes base64 WAV audio.
func (s *Stages) SpeechToText(ctx context.Context, b64Audio string) (string, error) {
	return s.transcriber.Transcribe(ctx, b64Audio)
}

// CreateDiagram generates BPMN XML from a process description. A non-empty
// existingXML turns the call into a revision of that diagram.
func (s *Stages) CreateDiagram(ctx context.Context, description, existingXML string) (string, error) {
	prompt := description + "."
	if existingXML != "" {
		prompt += "Rework the existing diagram " + existingXML
	}

	result, err := s.backend.GenerateDiagram(ctx, prompt)
	if err != nil {
		return "", err
	}

	return Postprocess(result.Response.XML), nil
}

// ExtractSuggestions reviews a BPMN diagram and returns errors with
// corrections.
func (s *Stages) ExtractSuggestions(ctx context.Context, xml string) ([]contracts.Suggestion, error) {
	prompt := "Analyze the BPMN diagram for bpmn-js in XML format " +
		"and return each error with the correction that fixes it. " +
		"BPMN XML: " + xml

	result, err := s.backend.GenerateSuggestions(ctx, prompt)
	if err != nil {
		return nil, err
	}

	return result.Response, nil
}

// PipelineTranscode runs Transcode within a run, reporting the outcome.
// The success event carries no data; the transcoded audio is internal to
// the run.
func (s *Stages) PipelineTranscode(ctx context.Context, pc contracts.PipelineContext) (contracts.PipelineContext, error) {
	var b64WebM string
	if err := decodePayload(pc.Payload, &b64WebM); err != nil {
		s.fail(pc, contracts.StepTranscode)
		return pc, err
	}

	b64WAV, err := s.Transcode(ctx, b64WebM)
	if err != nil {
		s.fail(pc, contracts.StepTranscode)
		return pc, err
	}

	s.notifier.Emit(pc.UserID, contracts.StageSucceeded(pc.PipelineID, contracts.StepTranscode, nil))
	return nextContext(pc, b64WAV)
}

// PipelineSpeechToText runs SpeechToText within a run, reporting the
// transcript on success.
func (s *Stages) PipelineSpeechToText(ctx context.Context, pc contracts.PipelineContext) (contracts.PipelineContext, error) {
	var b64Audio string
	if err := decodePayload(pc.Payload, &b64Audio); err != nil {
		s.fail(pc, contracts.StepSpeechToText)
		return pc, err
	}

	text, err := s.SpeechToText(ctx, b64Audio)
	if err != nil {
		s.fail(pc, contracts.StepSpeechToText)
		return pc, err
	}

	s.notifier.Emit(pc.UserID, contracts.StageSucceeded(pc.PipelineID, contracts.StepSpeechToText,
		map[string]string{"text": text}))
	return nextContext(pc, text)
}

// PipelineCreateDiagram runs CreateDiagram within a run, reporting the
// generated XML on success.
func (s *Stages) PipelineCreateDiagram(ctx context.Context, pc contracts.PipelineContext, existingXML string) (contracts.PipelineContext, error) {
	var description string
	if err := decodePayload(pc.Payload, &description); err != nil {
		s.fail(pc, contracts.StepDiagram)
		return pc, err
	}

	xml, err := s.CreateDiagram(ctx, description, existingXML)
	if err != nil {
		s.fail(pc, contracts.StepDiagram)
		return pc, err
	}

	s.notifier.Emit(pc.UserID, contracts.StageSucceeded(pc.PipelineID, contracts.StepDiagram,
		map[string]string{"xml": xml}))
	return nextContext(pc, xml)
}

// PipelineExtractSuggestions runs ExtractSuggestions within a run,
// reporting the suggestion list on success.
func (s *Stages) PipelineExtractSuggestions(ctx context.Context, pc contracts.PipelineContext) (contracts.PipelineContext, error) {
	var xml string
	if err := decodePayload(pc.Payload, &xml); err != nil {
		s.fail(pc, contracts.StepSuggestions)
		return pc, err
	}

	suggestions, err := s.ExtractSuggestions(ctx, xml)
	if err != nil {
		s.fail(pc, contracts.StepSuggestions)
		return pc, err
	}

	s.notifier.Emit(pc.UserID, contracts.StageSucceeded(pc.PipelineID, contracts.StepSuggestions,
		map[string]any{"suggestions": suggestions}))
	return nextContext(pc, suggestions)
}

func (s *Stages) fail(pc contracts.PipelineContext, step contracts.Step) {
	s.notifier.Emit(pc.UserID, contracts.StageFailed(pc.PipelineID, step))
}
