package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/processtalk/bpmnflow/contracts"
)

// Transcoder converts WebM audio to WAV by piping through ffmpeg. Input
// and output travel base64-encoded so they fit in JSON task payloads.
type Transcoder struct {
	ffmpegPath string
	logger     *slog.Logger
}

// TranscoderOption configures the transcoder.
type TranscoderOption func(*Transcoder)

// WithFFmpegPath sets the ffmpeg binary path.
func WithFFmpegPath(path string) TranscoderOption {
	return func(t *Transcoder) {
		t.ffmpegPath = path
	}
}

// WithTranscoderLogger sets the logger.
func WithTranscoderLogger(logger *slog.Logger) TranscoderOption {
	return func(t *Transcoder) {
		t.logger = logger
	}
}

// NewTranscoder creates a transcoder using ffmpeg from PATH unless
// overridden.
func NewTranscoder(options ...TranscoderOption) *Transcoder {
	t := &Transcoder{
		ffmpegPath: "ffmpeg",
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(t)
	}

	return t
}

// WebMToWAV decodes base64 WebM audio, transcodes it, and returns base64
// WAV. A broken recording surfaces as MalformedInputError.
func (t *Transcoder) WebMToWAV(ctx context.Context, b64WebM string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(b64WebM)
	if err != nil {
		return "", &contracts.MalformedInputError{Op: "transcode", Err: err}
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath,
		"-f", "webm",
		"-i", "pipe:0",
		"-f", "wav",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(decoded)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		t.logger.Error("ffmpeg failed",
			"error", err,
			"stderr", tail(stderr.String(), 512))
		return "", &contracts.MalformedInputError{
			Op:  "transcode",
			Err: fmt.Errorf("ffmpeg: %w", err),
		}
	}

	return base64.StdEncoding.EncodeToString(stdout.Bytes()), nil
}

// Available reports whether the ffmpeg binary can be found.
func (t *Transcoder) Available() bool {
	_, err := exec.LookPath(t.ffmpegPath)
	return err == nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
