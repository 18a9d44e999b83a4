package ingest

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/davidobi/askmydocs/internal/core"
)

// AudioAdapter turns an audio upload into its transcript via the speech-to-
// text capability. The transcript doubles as the extracted text that gets
// chunked and as the transcript stored on the file record.
type AudioAdapter struct {
	transcriber core.Transcriber
}

var _ core.ContentAdapter = (*AudioAdapter)(nil)

func NewAudioAdapter(t core.Transcriber) *AudioAdapter {
	return &AudioAdapter{transcriber: t}
}

func (a *AudioAdapter) Extract(ctx context.Context, path string, mimeType string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return "", core.ErrNoContent
	}

	transcript, err := a.transcriber.Transcribe(ctx, data, mimeType)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if strings.TrimSpace(transcript) == "" {
		return "", core.ErrNoContent
	}
	return strings.TrimSpace(transcript), nil
}
