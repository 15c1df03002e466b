// Command bpmnflowd runs the BPMN generation service: the HTTP API, the
// websocket notification hub, and the task worker, all in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/processtalk/bpmnflow/backends"
	"github.com/processtalk/bpmnflow/config"
	"github.com/processtalk/bpmnflow/httpapi"
	"github.com/processtalk/bpmnflow/internal/rabbitmq"
	"github.com/processtalk/bpmnflow/jobs"
	"github.com/processtalk/bpmnflow/notify"
	"github.com/processtalk/bpmnflow/pipeline"
	"github.com/processtalk/bpmnflow/speech"
	"github.com/processtalk/bpmnflow/stages"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Message broker.
	conns := rabbitmq.NewConnectionManager(cfg.RabbitMQURL,
		rabbitmq.WithConnectionLogger(logger))
	if err := conns.Connect(ctx); err != nil {
		return err
	}
	defer conns.Close()

	publisher := rabbitmq.NewPublisher(conns)
	consumer := rabbitmq.NewConsumer(conns,
		rabbitmq.WithConsumerLogger(logger))
	transport := jobs.NewAMQPTransport(publisher, consumer)
	defer transport.Close()

	// Result store.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return err
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	store := jobs.NewRedisResultStore(redisClient,
		jobs.WithRetention(cfg.ResultTTL))

	// Model backends.
	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return err
	}

	speechClient := speech.NewClient(cfg.XinferenceURL, cfg.XinferenceModel,
		speech.WithClientLogger(logger),
		speech.WithLaunchParams(cfg.XinferenceReplica, cfg.XinferenceNGPU))

	if cfg.RequireModels {
		if err := provision(ctx, backend, speechClient, logger); err != nil {
			return err
		}
	}

	// Notifications.
	hub := notify.NewHub(notify.WithHubLogger(logger))

	// Worker.
	transcoder := speech.NewTranscoder(
		speech.WithFFmpegPath(cfg.FFmpegPath),
		speech.WithTranscoderLogger(logger))

	stageSet := stages.New(backend, speechClient, transcoder,
		stages.WithNotifier(hub),
		stages.WithLogger(logger))

	worker := jobs.NewWorker(transport, store,
		jobs.WithWorkerLogger(logger))
	stageSet.Register(worker)
	if err := worker.Start(ctx); err != nil {
		return err
	}

	// HTTP API.
	client := jobs.NewClient(transport, store,
		jobs.WithClientLogger(logger))
	submitter := pipeline.NewSubmitter(client,
		pipeline.WithSubmitterLogger(logger))

	server := httpapi.NewServer(cfg.HTTPAddr, submitter, client, backend, speechClient,
		httpapi.WithServerLogger(logger),
		httpapi.WithWSHandler(notify.NewWSHandler(hub, logger)))

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildBackend(cfg *config.Config, logger *slog.Logger) (backends.ModelBackend, error) {
	if cfg.UseOpenAI {
		return backends.NewOpenAIBackend(
			cfg.OpenAIURL,
			cfg.OpenAIToken,
			cfg.OpenAIModel,
			cfg.DiagramAgent,
			cfg.SuggestionsAgent,
			backends.WithOpenAILogger(logger))
	}

	return backends.NewOllamaBackend(
		cfg.OllamaURL,
		cfg.OllamaModel,
		cfg.DiagramAgent,
		cfg.SuggestionsAgent,
		backends.WithOllamaLogger(logger)), nil
}

// provision makes both models available before serving. Failure here is
// fatal: the process exits instead of serving requests it cannot fulfil.
func provision(ctx context.Context, backend backends.ModelBackend, speechClient *speech.Client, logger *slog.Logger) error {
	logger.Info("provisioning models")

	if err := backend.EnsureModel(ctx); err != nil {
		return err
	}
	if err := speechClient.EnsureModel(ctx); err != nil {
		return err
	}

	logger.Info("models ready")
	return nil
}
