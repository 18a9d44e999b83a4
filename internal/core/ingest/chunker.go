package ingest

import (
	"strings"
	"time"

	"github.com/davidobi/askmydocs/internal/models"
)

// Chunker splits extracted text into bounded, overlapping chunks. Splitting
// prefers line boundaries; a single line longer than the chunk size is
// hard-split. Output is deterministic for fixed input and parameters.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 900
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks text and tags every chunk with session provenance plus its
// index and the total count.
func (c *Chunker) Split(text, sessionID, filename string, kind models.MediaKind, processedAt time.Time) []models.Chunk {
	pieces := c.split(text)
	out := make([]models.Chunk, 0, len(pieces))
	for i, p := range pieces {
		out = append(out, models.Chunk{
			Text: p,
			Metadata: models.ChunkMetadata{
				SessionID:      sessionID,
				SourceFilename: filename,
				MediaKind:      kind,
				ChunkIndex:     i,
				TotalChunks:    len(pieces),
				ContentHint:    contentHint(p),
				ProcessedAt:    processedAt,
			},
		})
	}
	return out
}

func (c *Chunker) split(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Hard-split lines that alone exceed the budget.
		for len(line) > c.size {
			lines = append(lines, line[:c.size])
			line = line[c.size:]
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil
	}

	var (
		chunks []string
		buf    []string
		bufLen int
		fresh  int // lines in buf that are not carried-over overlap
	)

	flush := func() {
		if bufLen == 0 || fresh == 0 {
			return
		}
		chunks = append(chunks, strings.Join(buf, "\n"))
		fresh = 0

		// Seed the next chunk with the tail of this one.
		if c.overlap > 0 {
			var keep []string
			kept := 0
			for j := len(buf) - 1; j >= 0 && kept < c.overlap; j-- {
				keep = append([]string{buf[j]}, keep...)
				kept += len(buf[j]) + 1
			}
			buf = keep
			bufLen = kept
		} else {
			buf = nil
			bufLen = 0
		}
	}

	for _, line := range lines {
		if fresh > 0 && bufLen+len(line)+1 > c.size {
			flush()
		}
		buf = append(buf, line)
		bufLen += len(line) + 1
		fresh++
	}
	flush()

	return chunks
}

// contentHint is a best-effort label from keyword presence, stored as
// auxiliary metadata only; nothing routes on it.
func contentHint(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "invoice") || strings.Contains(t, "total due") || strings.Contains(t, "payment"):
		return "financial"
	case strings.Contains(t, "agreement") || strings.Contains(t, "clause") || strings.Contains(t, "hereinafter"):
		return "legal"
	case strings.Contains(t, "abstract") || strings.Contains(t, "figure") || strings.Contains(t, "et al"):
		return "academic"
	case strings.Count(t, "|") > 4 || strings.Count(t, "\t") > 4:
		return "tabular"
	default:
		return "prose"
	}
}
