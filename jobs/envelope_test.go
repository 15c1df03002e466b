package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeNext(t *testing.T) {
	t.Run("standalone envelope has no successor", func(t *testing.T) {
		env := NewEnvelope("stt", []byte(`{"audio":"..."}`))
		next, ok := env.Next([]byte(`"text"`))
		assert.False(t, ok)
		assert.Nil(t, next)
	})

	t.Run("chained envelope advances one stage", func(t *testing.T) {
		env := NewEnvelope("pipeline.stt", []byte(`{}`))
		env.Extra = []byte(`{"existing":"<x/>"}`)
		env.Run = &RunState{
			PipelineID: "pipe-1",
			UserID:     "user-1",
			Stages:     []string{"pipeline.stt", "pipeline.bpmn"},
			Index:      0,
		}

		next, ok := env.Next([]byte(`"transcript"`))
		require.True(t, ok)
		assert.Equal(t, "pipeline.bpmn", next.Task)
		assert.NotEqual(t, env.ID, next.ID)
		assert.Equal(t, 1, next.Run.Index)
		assert.Equal(t, "pipe-1", next.Run.PipelineID)
		assert.Equal(t, "user-1", next.Run.UserID)
		assert.JSONEq(t, `"transcript"`, string(next.Payload))
		assert.JSONEq(t, `{"existing":"<x/>"}`, string(next.Extra))
	})

	t.Run("last stage has no successor", func(t *testing.T) {
		env := NewEnvelope("pipeline.bpmn", nil)
		env.Run = &RunState{
			PipelineID: "pipe-1",
			Stages:     []string{"pipeline.stt", "pipeline.bpmn"},
			Index:      1,
		}

		_, ok := env.Next(nil)
		assert.False(t, ok)
	})
}
