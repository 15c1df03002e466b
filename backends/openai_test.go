package backends

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processtalk/bpmnflow/contracts"
)

func TestNewOpenAIBackendRequiresURL(t *testing.T) {
	_, err := NewOpenAIBackend("", "token", "gpt-test", "sys", "sys")
	assert.ErrorIs(t, err, ErrOpenAIURLRequired)
}

func TestOpenAIBackendAlwaysReady(t *testing.T) {
	b, err := NewOpenAIBackend("http://localhost:1", "token", "gpt-test", "sys", "sys")
	require.NoError(t, err)
	assert.True(t, b.ModelReady(context.Background()))
	assert.NoError(t, b.EnsureModel(context.Background()))
}

func chatCompletion(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(raw)
}

func TestOpenAIGenerateDiagram(t *testing.T) {
	var captured chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(chatCompletion(`{"xml":"<bpmn/>"}`)))
	}))
	defer server.Close()

	b, err := NewOpenAIBackend(server.URL, "secret-token", "gpt-test", "diagram agent", "review agent")
	require.NoError(t, err)

	result, err := b.GenerateDiagram(context.Background(), "a process")
	require.NoError(t, err)
	assert.Equal(t, "<bpmn/>", result.Response.XML)
	assert.Equal(t, "gpt-test", result.ModelName)

	assert.Equal(t, "Bearer secret-token", auth)
	assert.Equal(t, "gpt-test", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "diagram agent", captured.Messages[0].Content)
	assert.Equal(t, "a process", captured.Messages[1].Content)
	assert.Equal(t, 0.7, captured.Temperature)
	assert.Equal(t, 0.9, captured.TopP)

	var format struct {
		Type       string `json:"type"`
		JSONSchema struct {
			Strict bool `json:"strict"`
		} `json:"json_schema"`
	}
	require.NoError(t, json.Unmarshal(captured.ResponseFormat, &format))
	assert.Equal(t, "json_schema", format.Type)
	assert.True(t, format.JSONSchema.Strict)
}

func TestOpenAIGenerateSuggestions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatCompletion(`[{"error":"e1","correction":"c1"}]`)))
	}))
	defer server.Close()

	b, err := NewOpenAIBackend(server.URL, "", "gpt-test", "sys", "sys")
	require.NoError(t, err)

	result, err := b.GenerateSuggestions(context.Background(), "<bpmn/>")
	require.NoError(t, err)
	require.Len(t, result.Response, 1)
	assert.Equal(t, "c1", result.Response[0].Correction)
}

func TestOpenAISchemaViolations(t *testing.T) {
	t.Run("no choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		b, err := NewOpenAIBackend(server.URL, "", "gpt-test", "sys", "sys")
		require.NoError(t, err)

		_, err = b.GenerateDiagram(context.Background(), "p")
		var schemaErr *contracts.SchemaViolationError
		assert.ErrorAs(t, err, &schemaErr)
	})

	t.Run("unexpected field in content", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(chatCompletion(`{"xml":"<bpmn/>","note":"x"}`)))
		}))
		defer server.Close()

		b, err := NewOpenAIBackend(server.URL, "", "gpt-test", "sys", "sys")
		require.NoError(t, err)

		_, err = b.GenerateDiagram(context.Background(), "p")
		var schemaErr *contracts.SchemaViolationError
		assert.ErrorAs(t, err, &schemaErr)
	})
}

func TestOpenAIServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	b, err := NewOpenAIBackend(server.URL, "", "gpt-test", "sys", "sys")
	require.NoError(t, err)

	_, err = b.GenerateDiagram(context.Background(), "p")
	assert.True(t, contracts.IsTransient(err))
}
