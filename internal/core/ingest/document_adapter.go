package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"

	"github.com/davidobi/askmydocs/internal/core"
)

// DocumentAdapter extracts plain text from document uploads. docconv does the
// heavy lifting; PDFs that docconv cannot read (or reads as empty) fall back
// to a pure-Go extraction so a missing pdftotext binary doesn't fail the job.
type DocumentAdapter struct {
	useReadability bool
}

var _ core.ContentAdapter = (*DocumentAdapter)(nil)

func NewDocumentAdapter() *DocumentAdapter {
	return &DocumentAdapter{useReadability: false}
}

func (a *DocumentAdapter) Extract(ctx context.Context, path string, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	res, err := docconv.Convert(f, mimeType, a.useReadability)

	var text string
	if err == nil && res != nil {
		text = strings.TrimSpace(res.Body)
	}

	if text == "" && mimeType == "application/pdf" {
		if err != nil {
			log.Printf("docconv: extraction failed for %q, trying pdf fallback: %v", mimeType, err)
		}
		fallback, ferr := extractPDF(path)
		if ferr == nil {
			text = strings.TrimSpace(fallback)
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if text == "" {
		return "", core.ErrNoContent
	}
	return text, nil
}

// extractPDF pulls plain text out of a PDF without external tools.
func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("pdf open: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plain text: %w", err)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(reader); err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return buf.String(), nil
}
