package stages

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
)

// stubBackend captures prompts and returns canned responses.
type stubBackend struct {
	diagramPrompts    []string
	suggestionPrompts []string
	diagramXML        string
	diagramErr        error
	suggestions       []contracts.Suggestion
	suggestionsErr    error
}

func (b *stubBackend) ModelReady(ctx context.Context) bool   { return true }
func (b *stubBackend) EnsureModel(ctx context.Context) error { return nil }

func (b *stubBackend) GenerateDiagram(ctx context.Context, prompt string) (*contracts.DiagramResult, error) {
	b.diagramPrompts = append(b.diagramPrompts, prompt)
	if b.diagramErr != nil {
		return nil, b.diagramErr
	}
	return &contracts.DiagramResult{
		ModelName: "stub",
		Response:  contracts.XML{XML: b.diagramXML},
	}, nil
}

func (b *stubBackend) GenerateSuggestions(ctx context.Context, prompt string) (*contracts.SuggestionsResult, error) {
	b.suggestionPrompts = append(b.suggestionPrompts, prompt)
	if b.suggestionsErr != nil {
		return nil, b.suggestionsErr
	}
	return &contracts.SuggestionsResult{
		ModelName: "stub",
		Response:  b.suggestions,
	}, nil
}

// recordingNotifier captures emitted events per room.
type recordingNotifier struct {
	mu     sync.Mutex
	rooms  []string
	events []contracts.PipelineEvent
}

func (n *recordingNotifier) Emit(room string, event contracts.PipelineEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms = append(n.rooms, room)
	n.events = append(n.events, event)
}

func TestPostprocess(t *testing.T) {
	assert.Equal(t, "<BPMN/>", Postprocess("<BMN/>"))
	assert.Equal(t, "<BPMN/>", Postprocess("<BPMN/>"), "already correct text is untouched")
	assert.Equal(t, "BPMN and BPMN", Postprocess("BMN and BPMN"))
	assert.Equal(t, "", Postprocess(""))
}

func TestCreateDiagramPrompt(t *testing.T) {
	t.Run("fresh diagram", func(t *testing.T) {
		backend := &stubBackend{diagramXML: "<bpmn/>"}
		s := New(backend, nil, nil)

		xml, err := s.CreateDiagram(context.Background(), "order processing", "")
		require.NoError(t, err)
		assert.Equal(t, "<bpmn/>", xml)

		require.Len(t, backend.diagramPrompts, 1)
		assert.Equal(t, "order processing.", backend.diagramPrompts[0])
	})

	t.Run("revision references the old diagram", func(t *testing.T) {
		backend := &stubBackend{diagramXML: "<bpmn2/>"}
		s := New(backend, nil, nil)

		_, err := s.CreateDiagram(context.Background(), "add a review step", "<old/>")
		require.NoError(t, err)

		require.Len(t, backend.diagramPrompts, 1)
		assert.Equal(t, "add a review step.Rework the existing diagram <old/>", backend.diagramPrompts[0])
	})

	t.Run("output is postprocessed", func(t *testing.T) {
		backend := &stubBackend{diagramXML: "<BMN><task/></BMN>"}
		s := New(backend, nil, nil)

		xml, err := s.CreateDiagram(context.Background(), "p", "")
		require.NoError(t, err)
		assert.Equal(t, "<BPMN><task/></BPMN>", xml)
	})
}

func TestExtractSuggestionsPrompt(t *testing.T) {
	backend := &stubBackend{suggestions: []contracts.Suggestion{{Error: "e", Correction: "c"}}}
	s := New(backend, nil, nil)

	got, err := s.ExtractSuggestions(context.Background(), "<bpmn/>")
	require.NoError(t, err)
	assert.Equal(t, backend.suggestions, got)

	require.Len(t, backend.suggestionPrompts, 1)
	assert.Contains(t, backend.suggestionPrompts[0], "BPMN XML: <bpmn/>")
}

func TestPipelineCreateDiagram(t *testing.T) {
	t.Run("success emits xml to the owner room", func(t *testing.T) {
		backend := &stubBackend{diagramXML: "<bpmn/>"}
		notifier := &recordingNotifier{}
		s := New(backend, nil, nil, WithNotifier(notifier))

		pc := contracts.NewPipelineContext("user-1", "pipe-1", []byte(`"a process"`))
		out, err := s.PipelineCreateDiagram(context.Background(), pc, "")
		require.NoError(t, err)
		assert.JSONEq(t, `"<bpmn/>"`, string(out.Payload))
		assert.Equal(t, "user-1", out.UserID)

		require.Len(t, notifier.events, 1)
		assert.Equal(t, []string{"user-1"}, notifier.rooms)
		ev := notifier.events[0]
		assert.Equal(t, "pipe-1", ev.PipelineID)
		assert.Equal(t, contracts.StepDiagram, ev.Step)
		assert.Equal(t, contracts.StatusOK, ev.Status)
		assert.JSONEq(t, `{"xml":"<bpmn/>"}`, string(ev.Data))
	})

	t.Run("failure emits error event and re-raises", func(t *testing.T) {
		backend := &stubBackend{diagramErr: errors.New("model down")}
		notifier := &recordingNotifier{}
		s := New(backend, nil, nil, WithNotifier(notifier))

		pc := contracts.NewPipelineContext("user-1", "pipe-1", []byte(`"a process"`))
		_, err := s.PipelineCreateDiagram(context.Background(), pc, "")
		require.Error(t, err)

		require.Len(t, notifier.events, 1)
		ev := notifier.events[0]
		assert.Equal(t, contracts.StatusError, ev.Status)
		assert.Nil(t, ev.Data)
	})
}

func TestPipelineExtractSuggestions(t *testing.T) {
	backend := &stubBackend{suggestions: []contracts.Suggestion{{Error: "e", Correction: "c"}}}
	notifier := &recordingNotifier{}
	s := New(backend, nil, nil, WithNotifier(notifier))

	pc := contracts.NewPipelineContext("user-1", "pipe-1", []byte(`"<bpmn/>"`))
	out, err := s.PipelineExtractSuggestions(context.Background(), pc)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"error":"e","correction":"c"}]`, string(out.Payload))

	require.Len(t, notifier.events, 1)
	assert.JSONEq(t, `{"suggestions":[{"error":"e","correction":"c"}]}`, string(notifier.events[0].Data))
}

func TestPipelineStageMalformedPayload(t *testing.T) {
	notifier := &recordingNotifier{}
	s := New(&stubBackend{}, nil, nil, WithNotifier(notifier))

	pc := contracts.NewPipelineContext("user-1", "pipe-1", []byte(`{not json`))
	_, err := s.PipelineCreateDiagram(context.Background(), pc, "")

	var malformed *contracts.MalformedInputError
	assert.ErrorAs(t, err, &malformed)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, contracts.StatusError, notifier.events[0].Status)
}

func TestRegisterStandaloneDiagramTask(t *testing.T) {
	backend := &stubBackend{diagramXML: "<bpmn/>"}
	s := New(backend, nil, nil)

	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()
	worker := jobs.NewWorker(transport, store)
	s.Register(worker)
	require.NoError(t, worker.Start(context.Background()))

	client := jobs.NewClient(transport, store)
	payload, _ := json.Marshal(DiagramRequest{Description: "p", ExistingXML: "<old/>"})
	env := jobs.NewEnvelope(TaskDiagram, payload)
	_, err := client.Enqueue(context.Background(), env)
	require.NoError(t, err)

	result, err := store.Load(context.Background(), env.ID)
	require.NoError(t, err)
	assert.False(t, result.IsErr)
	assert.JSONEq(t, `"<bpmn/>"`, string(result.ReturnValue))

	require.Len(t, backend.diagramPrompts, 1)
	assert.Contains(t, backend.diagramPrompts[0], "Rework the existing diagram <old/>")
}

func TestRegisterPipelineStageWithoutRunState(t *testing.T) {
	s := New(&stubBackend{}, nil, nil)

	transport := jobs.NewMemoryTransport()
	store := jobs.NewMemoryResultStore()
	worker := jobs.NewWorker(transport, store)
	s.Register(worker)
	require.NoError(t, worker.Start(context.Background()))

	client := jobs.NewClient(transport, store)
	env := jobs.NewEnvelope(TaskPipelineDiagram, []byte(`"p"`))
	_, err := client.Enqueue(context.Background(), env)
	require.NoError(t, err)

	result, err := store.Load(context.Background(), env.ID)
	require.NoError(t, err)
	assert.True(t, result.IsErr)
	assert.Contains(t, result.Log, "no run state")
}
