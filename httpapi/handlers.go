package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/processtalk/bpmnflow/contracts"
	"github.com/processtalk/bpmnflow/jobs"
	"github.com/processtalk/bpmnflow/pipeline"
	"github.com/processtalk/bpmnflow/stages"
)

const maxUploadSize = 32 << 20

type pipelineResponse struct {
	PipelineID string `json:"pipeline_id"`
}

type textPipelineRequest struct {
	UserID  string `json:"user_id"`
	Text    string `json:"text"`
	BPMNXML string `json:"bpmn_xml,omitempty"`
}

type diagramFromTextRequest struct {
	Description string `json:"description"`
	BPMNXML     string `json:"bpmn_xml,omitempty"`
}

type diagramResponse struct {
	BPMNXML string `json:"bpmn_xml"`
}

type suggestionsRequest struct {
	BPMNXML string `json:"bpmn_xml"`
}

type suggestionsResponse struct {
	Suggestions []contracts.Suggestion `json:"suggestions"`
}

type transcriptResponse struct {
	Text string `json:"text"`
}

// readWebMUpload validates and base64-encodes the uploaded recording.
func readWebMUpload(w http.ResponseWriter, r *http.Request) (string, bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file format")
		return "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file format")
		return "", false
	}
	defer file.Close()

	if header.Header.Get("Content-Type") != "audio/webm" {
		writeError(w, http.StatusBadRequest, "Invalid file format")
		return "", false
	}

	content, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file format")
		return "", false
	}

	return base64.StdEncoding.EncodeToString(content), true
}

func (s *Server) handlePipelineFromFile(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	encoded, ok := readWebMUpload(w, r)
	if !ok {
		return
	}

	payload, _ := json.Marshal(encoded)
	pipelineID, err := s.submitter.Submit(r.Context(), pipeline.FromAudio(), userID, payload)
	if err != nil {
		s.logger.Error("pipeline submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, pipelineResponse{PipelineID: pipelineID})
}

func (s *Server) handlePipelineFromText(w http.ResponseWriter, r *http.Request) {
	var req textPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	payload, _ := json.Marshal(req.Text)
	pipelineID, err := s.submitter.Submit(r.Context(), pipeline.FromText(req.BPMNXML), req.UserID, payload)
	if err != nil {
		s.logger.Error("pipeline submission failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, pipelineResponse{PipelineID: pipelineID})
}

func (s *Server) handleDiagramFromText(w http.ResponseWriter, r *http.Request) {
	var req diagramFromTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payload, _ := json.Marshal(stages.DiagramRequest{
		Description: req.Description,
		ExistingXML: req.BPMNXML,
	})

	result, ok := s.runTask(w, r.Context(), stages.TaskDiagram, payload, s.waits.diagram, "Cannot create BPMN")
	if !ok {
		return
	}

	var xml string
	if err := json.Unmarshal(result.ReturnValue, &xml); err != nil {
		s.logger.Error("undecodable diagram result", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, diagramResponse{BPMNXML: xml})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	var req suggestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	payload, _ := json.Marshal(req.BPMNXML)

	result, ok := s.runTask(w, r.Context(), stages.TaskSuggestions, payload, s.waits.suggestions, "Cannot create BPMN")
	if !ok {
		return
	}

	var suggestions []contracts.Suggestion
	if err := json.Unmarshal(result.ReturnValue, &suggestions); err != nil {
		s.logger.Error("undecodable suggestions result", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: suggestions})
}

func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	encoded, ok := readWebMUpload(w, r)
	if !ok {
		return
	}

	payload, _ := json.Marshal(encoded)
	converted, ok := s.runTask(w, r.Context(), stages.TaskTranscode, payload, s.waits.transcode, "Cannot convert audio to text")
	if !ok {
		return
	}

	result, ok := s.runTask(w, r.Context(), stages.TaskSpeechToText, converted.ReturnValue, s.waits.transcribe, "Cannot convert audio to text")
	if !ok {
		return
	}

	var text string
	if err := json.Unmarshal(result.ReturnValue, &text); err != nil {
		s.logger.Error("undecodable transcript result", "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return
	}

	writeJSON(w, http.StatusOK, transcriptResponse{Text: text})
}

// runTask enqueues a standalone task and waits for its result. A missing
// result within the budget is a server fault; a stored failure is the
// caller's fault and reported with failDetail.
func (s *Server) runTask(w http.ResponseWriter, ctx context.Context, task string, payload json.RawMessage, wait time.Duration, failDetail string) (*jobs.Result, bool) {
	handle, err := s.client.Enqueue(ctx, jobs.NewEnvelope(task, payload))
	if err != nil {
		s.logger.Error("task enqueue failed", "task", task, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return nil, false
	}

	result, err := handle.Await(ctx, wait, true)
	if errors.Is(err, jobs.ErrAwaitTimeout) {
		s.logger.Error("task result timeout", "task", task, "taskId", handle.ID())
		writeError(w, http.StatusInternalServerError, "Server error")
		return nil, false
	}
	if err != nil {
		s.logger.Error("task await failed", "task", task, "error", err)
		writeError(w, http.StatusInternalServerError, "Server error")
		return nil, false
	}

	if result.IsErr {
		s.logger.Error("task failed", "task", task, "log", result.Log)
		writeError(w, http.StatusBadRequest, failDetail)
		return nil, false
	}

	return result, true
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	var wg sync.WaitGroup
	var backendReady, speechReady bool

	wg.Add(2)
	go func() {
		defer wg.Done()
		backendReady = s.backend.ModelReady(r.Context())
	}()
	go func() {
		defer wg.Done()
		speechReady = s.speech.ModelReady(r.Context())
	}()
	wg.Wait()

	if backendReady && speechReady {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	writeError(w, http.StatusServiceUnavailable, "One or more services are not ready")
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
