package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/davidobi/askmydocs/internal/core"
)

const transcribePrompt = "Transcribe this audio recording verbatim. " +
	"Output only the spoken words as plain text, with no timestamps, " +
	"speaker labels, or commentary."

// GeminiTranscriber produces plain-text transcripts by sending the audio
// bytes to a multimodal Gemini model.
type GeminiTranscriber struct {
	client    *genai.Client
	modelName string
}

var _ core.Transcriber = (*GeminiTranscriber)(nil)

func NewGeminiTranscriber(ctx context.Context, apiKey, modelName string) (*GeminiTranscriber, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiTranscriber{client: cl, modelName: modelName}, nil
}

func (g *GeminiTranscriber) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("gemini transcribe: empty audio")
	}
	m := g.client.GenerativeModel(g.modelName)

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: audio},
		genai.Text(transcribePrompt),
	)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return strings.TrimSpace(b.String()), nil
}
