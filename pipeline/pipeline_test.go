package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processtalk/bpmnflow/contracts"
	"github.com/processtalk/bpmnflow/jobs"
	"github.com/processtalk/bpmnflow/stages"
)

func TestBuilderChains(t *testing.T) {
	t.Run("audio chain covers all four stages", func(t *testing.T) {
		assert.Equal(t, []string{
			stages.TaskPipelineTranscode,
			stages.TaskPipelineSpeechToText,
			stages.TaskPipelineDiagram,
			stages.TaskPipelineSuggestions,
		}, FromAudio().Tasks())
	})

	t.Run("text chain skips the audio stages", func(t *testing.T) {
		assert.Equal(t, []string{
			stages.TaskPipelineDiagram,
			stages.TaskPipelineSuggestions,
		}, FromText("").Tasks())
	})

	t.Run("existing xml travels as extras", func(t *testing.T) {
		b := FromText("<old/>")
		assert.JSONEq(t, `{"bpmn_xml":"<old/>"}`, string(b.extra))

		assert.Nil(t, FromText("").extra)
	})
}

func TestSubmitterRejectsEmptyChain(t *testing.T) {
	client := jobs.NewClient(jobs.NewMemoryTransport(), jobs.NewMemoryResultStore())
	s := NewSubmitter(client)

	_, err := s.Submit(context.Background(), &Builder{}, "user-1", nil)
	assert.ErrorIs(t, err, ErrEmptyChain)
}

func TestSubmitterEnqueuesFirstStage(t *testing.T) {
	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()

	var captured jobs.Envelope
	err := transport.Subscribe(context.Background(), jobs.QueueName(stages.TaskPipelineDiagram),
		func(ctx context.Context, body []byte) error {
			return json.Unmarshal(body, &captured)
		})
	require.NoError(t, err)

	s := NewSubmitter(jobs.NewClient(transport, store))
	pipelineID, err := s.Submit(context.Background(), FromText("<old/>"), "user-1", []byte(`"a process"`))
	require.NoError(t, err)
	assert.NotEmpty(t, pipelineID)

	assert.Equal(t, stages.TaskPipelineDiagram, captured.Task)
	require.NotNil(t, captured.Run)
	assert.Equal(t, pipelineID, captured.Run.PipelineID)
	assert.Equal(t, "user-1", captured.Run.UserID)
	assert.Equal(t, 0, captured.Run.Index)
	assert.Len(t, captured.Run.Stages, 2)
	assert.JSONEq(t, `{"bpmn_xml":"<old/>"}`, string(captured.Extra))
	assert.JSONEq(t, `"a process"`, string(captured.Payload))
}

// stubBackend drives the pipelines end to end.
type stubBackend struct {
	xml          string
	suggestions  []contracts.Suggestion
	diagramErr   error
	diagramCalls int
}

func (b *stubBackend) ModelReady(ctx context.Context) bool   { return true }
func (b *stubBackend) EnsureModel(ctx context.Context) error { return nil }

func (b *stubBackend) GenerateDiagram(ctx context.Context, prompt string) (*contracts.DiagramResult, error) {
	b.diagramCalls++
	if b.diagramErr != nil {
		return nil, b.diagramErr
	}
	return &contracts.DiagramResult{ModelName: "stub", Response: contracts.XML{XML: b.xml}}, nil
}

func (b *stubBackend) GenerateSuggestions(ctx context.Context, prompt string) (*contracts.SuggestionsResult, error) {
	return &contracts.SuggestionsResult{ModelName: "stub", Response: b.suggestions}, nil
}

// stubTranscoder suffixes the input so the next stage can verify it ran.
type stubTranscoder struct {
	err   error
	calls int
}

func (tr *stubTranscoder) WebMToWAV(ctx context.Context, b64WebM string) (string, error) {
	tr.calls++
	if tr.err != nil {
		return "", tr.err
	}
	return b64WebM + "-wav", nil
}

type stubTranscriber struct {
	text  string
	err   error
	input string
}

func (tr *stubTranscriber) Transcribe(ctx context.Context, b64Audio string) (string, error) {
	tr.input = b64Audio
	if tr.err != nil {
		return "", tr.err
	}
	return tr.text, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []contracts.PipelineEvent
}

func (n *recordingNotifier) Emit(room string, event contracts.PipelineEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func TestTextPipelineEndToEnd(t *testing.T) {
	backend := &stubBackend{
		xml:         "<bpmn/>",
		suggestions: []contracts.Suggestion{{Error: "e", Correction: "c"}},
	}
	notifier := &recordingNotifier{}

	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()
	worker := jobs.NewWorker(transport, store)
	stages.New(backend, nil, nil, stages.WithNotifier(notifier)).Register(worker)
	require.NoError(t, worker.Start(context.Background()))

	submitter := NewSubmitter(jobs.NewClient(transport, store))
	pipelineID, err := submitter.Submit(context.Background(), FromText(""), "user-1", []byte(`"a process"`))
	require.NoError(t, err)

	// One success event per stage, in stage order.
	require.Len(t, notifier.events, 2)
	assert.Equal(t, contracts.StepDiagram, notifier.events[0].Step)
	assert.Equal(t, contracts.StatusOK, notifier.events[0].Status)
	assert.Equal(t, contracts.StepSuggestions, notifier.events[1].Step)
	assert.Equal(t, contracts.StatusOK, notifier.events[1].Status)

	for _, ev := range notifier.events {
		assert.Equal(t, pipelineID, ev.PipelineID)
	}
}

func TestAudioPipelineEndToEnd(t *testing.T) {
	backend := &stubBackend{
		xml:         "<bpmn/>",
		suggestions: []contracts.Suggestion{{Error: "e", Correction: "c"}},
	}
	transcoder := &stubTranscoder{}
	transcriber := &stubTranscriber{text: "a described process"}
	notifier := &recordingNotifier{}

	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()
	worker := jobs.NewWorker(transport, store)
	stages.New(backend, transcriber, transcoder, stages.WithNotifier(notifier)).Register(worker)
	require.NoError(t, worker.Start(context.Background()))

	submitter := NewSubmitter(jobs.NewClient(transport, store))
	pipelineID, err := submitter.Submit(context.Background(), FromAudio(), "user-1", []byte(`"webm-audio"`))
	require.NoError(t, err)

	// One success event per stage, in stage order.
	require.Len(t, notifier.events, 4)
	steps := []contracts.Step{
		contracts.StepTranscode,
		contracts.StepSpeechToText,
		contracts.StepDiagram,
		contracts.StepSuggestions,
	}
	for i, ev := range notifier.events {
		assert.Equal(t, steps[i], ev.Step)
		assert.Equal(t, contracts.StatusOK, ev.Status)
		assert.Equal(t, pipelineID, ev.PipelineID)
	}

	// The transcode event carries no payload; later ones do.
	assert.Nil(t, notifier.events[0].Data)
	assert.JSONEq(t, `{"text":"a described process"}`, string(notifier.events[1].Data))
	assert.JSONEq(t, `{"xml":"<bpmn/>"}`, string(notifier.events[2].Data))

	// The transcript stage received the transcoded audio, not the upload.
	assert.Equal(t, "webm-audio-wav", transcriber.input)
}

func TestAudioPipelineHaltsWhenTranscriptionFails(t *testing.T) {
	backend := &stubBackend{xml: "<bpmn/>"}
	transcoder := &stubTranscoder{}
	transcriber := &stubTranscriber{err: errors.New("speech service down")}
	notifier := &recordingNotifier{}

	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()
	worker := jobs.NewWorker(transport, store)
	stages.New(backend, transcriber, transcoder, stages.WithNotifier(notifier)).Register(worker)
	require.NoError(t, worker.Start(context.Background()))

	submitter := NewSubmitter(jobs.NewClient(transport, store))
	_, err := submitter.Submit(context.Background(), FromAudio(), "user-1", []byte(`"webm-audio"`))
	require.NoError(t, err)

	// Transcode succeeded, transcription failed, nothing after it ran.
	require.Len(t, notifier.events, 2)
	assert.Equal(t, contracts.StepTranscode, notifier.events[0].Step)
	assert.Equal(t, contracts.StatusOK, notifier.events[0].Status)
	assert.Equal(t, contracts.StepSpeechToText, notifier.events[1].Step)
	assert.Equal(t, contracts.StatusError, notifier.events[1].Status)
	assert.Nil(t, notifier.events[1].Data)

	assert.Equal(t, 1, transcoder.calls)
	assert.Zero(t, backend.diagramCalls)
}

func TestTextPipelineHaltsAfterFailedStage(t *testing.T) {
	backend := &stubBackend{diagramErr: errors.New("model down")}
	notifier := &recordingNotifier{}

	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()
	worker := jobs.NewWorker(transport, store)
	stages.New(backend, nil, nil, stages.WithNotifier(notifier)).Register(worker)
	require.NoError(t, worker.Start(context.Background()))

	submitter := NewSubmitter(jobs.NewClient(transport, store))
	_, err := submitter.Submit(context.Background(), FromText(""), "user-1", []byte(`"a process"`))
	require.NoError(t, err, "submission succeeds even when the run will fail")

	// Exactly one event: the failed stage. No later stage ran.
	require.Len(t, notifier.events, 1)
	assert.Equal(t, contracts.StepDiagram, notifier.events[0].Step)
	assert.Equal(t, contracts.StatusError, notifier.events[0].Status)
}
