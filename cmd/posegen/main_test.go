package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shouni/gemini-pose-kit/pkg/domain"
)

var validPng = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00\x90w\x53\xde")

// recordingWriter は書き込み先 URI と MIME タイプを記録するのだ。
type recordingWriter struct {
	uris  []string
	types []string
}

func (w *recordingWriter) Write(_ context.Context, uri string, r io.Reader, contentType string) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	w.uris = append(w.uris, uri)
	w.types = append(w.types, contentType)
	return nil
}

func TestWriteImage(t *testing.T) {
	ctx := context.Background()
	local := remoteio.NewUniversalIOWriter(nil, nil)

	t.Run("出力先が無ければ run id と拡張子でファイル名を決めるのだ", func(t *testing.T) {
		dir := t.TempDir()
		got, err := writeImage(ctx, local, domain.NewImageFromBytes(validPng, ""), "", dir, "run-1")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "run-1.png"), got)

		data, err := os.ReadFile(got)
		require.NoError(t, err)
		assert.Equal(t, validPng, data)
	})

	t.Run("指定された出力先に書き出すのだ", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "nested", "result.png")
		got, err := writeImage(ctx, local, domain.NewImageFromBytes(validPng, "image/png"), out, "", "run-2")
		require.NoError(t, err)
		assert.Equal(t, out, got)
		assert.FileExists(t, out)
	})

	t.Run("gs:// の OUTPUT_DIR にも書き出せるのだ", func(t *testing.T) {
		w := &recordingWriter{}
		got, err := writeImage(ctx, w, domain.NewImageFromBytes(validPng, ""), "", "gs://pose-results/cli", "run-3")
		require.NoError(t, err)
		assert.Equal(t, "gs://pose-results/cli/run-3.png", got)
		assert.Equal(t, []string{"gs://pose-results/cli/run-3.png"}, w.uris)
		assert.Equal(t, []string{"image/png"}, w.types)
	})

	t.Run("URL のみの画像はそのまま返すのだ", func(t *testing.T) {
		w := &recordingWriter{}
		got, err := writeImage(ctx, w, domain.NewImageFromURI("https://files.example.com/a.png"), "", t.TempDir(), "r")
		require.NoError(t, err)
		assert.Equal(t, "https://files.example.com/a.png", got)
		assert.Empty(t, w.uris)
	})
}
