package speech

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processtalk/bpmnflow/contracts"
)

// fakeFFmpeg writes a script that copies stdin to stdout, standing in for
// the real binary.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub requires a unix shell")
	}

	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\ncat\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestTranscoderWebMToWAV(t *testing.T) {
	t.Run("pipes audio through the binary", func(t *testing.T) {
		tr := NewTranscoder(WithFFmpegPath(fakeFFmpeg(t)))

		in := base64.StdEncoding.EncodeToString([]byte("audio bytes"))
		out, err := tr.WebMToWAV(context.Background(), in)
		require.NoError(t, err)

		decoded, err := base64.StdEncoding.DecodeString(out)
		require.NoError(t, err)
		assert.Equal(t, "audio bytes", string(decoded))
	})

	t.Run("invalid base64 is malformed input", func(t *testing.T) {
		tr := NewTranscoder(WithFFmpegPath(fakeFFmpeg(t)))

		_, err := tr.WebMToWAV(context.Background(), "!!not base64!!")
		var malformed *contracts.MalformedInputError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("binary failure is malformed input", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("shell script stub requires a unix shell")
		}
		path := filepath.Join(t.TempDir(), "ffmpeg")
		require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755))

		tr := NewTranscoder(WithFFmpegPath(path))
		in := base64.StdEncoding.EncodeToString([]byte("broken"))
		_, err := tr.WebMToWAV(context.Background(), in)

		var malformed *contracts.MalformedInputError
		assert.ErrorAs(t, err, &malformed)
	})
}

func TestTranscoderAvailable(t *testing.T) {
	tr := NewTranscoder(WithFFmpegPath(fakeFFmpeg(t)))
	assert.True(t, tr.Available())

	missing := NewTranscoder(WithFFmpegPath("/definitely/not/here/ffmpeg"))
	assert.False(t, missing.Available())
}
