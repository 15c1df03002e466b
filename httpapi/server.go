package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/processtalk/bpmnflow/backends"
	"github.com/processtalk/bpmnflow/jobs"
	"github.com/processtalk/bpmnflow/pipeline"
	"github.com/processtalk/bpmnflow/speech"
)

// waitBudgets bounds how long each synchronous endpoint waits for its
// task result.
type waitBudgets struct {
	diagram     time.Duration
	suggestions time.Duration
	transcode   time.Duration
	transcribe  time.Duration
}

func defaultWaitBudgets() waitBudgets {
	return waitBudgets{
		diagram:     60 * time.Second,
		suggestions: 60 * time.Second,
		transcode:   30 * time.Second,
		transcribe:  60 * time.Second,
	}
}

// Server hosts the REST API.
type Server struct {
	submitter *pipeline.Submitter
	client    *jobs.Client
	backend   backends.ModelBackend
	speech    *speech.Client
	wsHandler http.Handler
	logger    *slog.Logger
	waits     waitBudgets
	httpSrv   *http.Server
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithWSHandler mounts a websocket handler at /ws.
func WithWSHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.wsHandler = h
	}
}

// NewServer creates the API server.
func NewServer(addr string, submitter *pipeline.Submitter, client *jobs.Client, backend backends.ModelBackend, speechClient *speech.Client, options ...ServerOption) *Server {
	s := &Server{
		submitter: submitter,
		client:    client,
		backend:   backend,
		speech:    speechClient,
		logger:    slog.Default(),
		waits:     defaultWaitBudgets(),
	}

	for _, opt := range options {
		opt(s)
	}

	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}

	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /pipeline/from_file", s.handlePipelineFromFile)
	mux.HandleFunc("POST /pipeline/from_text", s.handlePipelineFromText)
	mux.HandleFunc("POST /bpmn/from_text", s.handleDiagramFromText)
	mux.HandleFunc("POST /bpmn/suggestions", s.handleSuggestions)
	mux.HandleFunc("POST /stt/upload_audio", s.handleUploadAudio)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readiness", s.handleReadiness)

	if s.wsHandler != nil {
		mux.Handle("GET /ws", s.wsHandler)
	}

	return mux
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe runs the server until it fails or is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
