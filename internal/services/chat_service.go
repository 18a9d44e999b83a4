package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/models"
	"github.com/davidobi/askmydocs/internal/registry"
)

// Retrieval tuning. Documents get a larger budget than transcripts because
// transcript chunks tend to be more redundant.
const (
	documentTopK    = 5
	audioTopK       = 3
	overFetchFactor = 2
	fallbackBatch   = 20
)

const (
	noDocumentsMessage = "You haven't uploaded any documents yet. Upload a PDF or an audio file and ask again once it finishes processing."
	noContextMessage   = "I couldn't find information related to your question in the uploaded files."
)

const groundingInstructions = `You are an assistant answering questions about the user's uploaded files.
Answer using ONLY the provided context. Never invent facts that are not in the context.
When the context contains both document excerpts and audio transcript excerpts, say which source type each piece of information came from.
If the context is related to the question but does not answer it exactly, describe what the uploaded content does say instead of refusing.`

// ChatResponse is the retrieval coordinator's answer payload.
type ChatResponse struct {
	Message        string               `json:"message"`
	Sources        []models.ScoredChunk `json:"sources"`
	DocumentChunks int                  `json:"documentChunks"`
	AudioChunks    int                  `json:"audioChunks"`
}

// ChatService is the retrieval coordinator: it decides which content sources
// are eligible, searches them in parallel, merges and session-filters the
// hits, and delegates to the generation model.
type ChatService struct {
	registry *registry.SessionRegistry
	store    core.VectorStore
	embedder core.EmbeddingProvider
	llm      core.LLMProvider
}

func NewChatService(reg *registry.SessionRegistry, store core.VectorStore, emb core.EmbeddingProvider, llm core.LLMProvider) *ChatService {
	return &ChatService{registry: reg, store: store, embedder: emb, llm: llm}
}

// Answer implements the session-scoped multi-source retrieval pipeline. The
// two canned-reply short circuits (no ready sources, no grounding context)
// return without ever calling the generation model.
func (s *ChatService) Answer(ctx context.Context, sessionID, query string) (*ChatResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &core.ValidationError{Reason: "empty message"}
	}

	ready := s.registry.ReadyKinds(sessionID)
	if len(ready) == 0 {
		return &ChatResponse{Message: noDocumentsMessage, Sources: []models.ScoredChunk{}}, nil
	}

	vecs, err := s.embedder.EmbedTexts(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec := vecs[0]

	hits, err := s.searchKinds(ctx, sessionID, queryVec, ready, false)
	if err != nil {
		return nil, err
	}

	// Fallback: a short query's embedding can miss the session's content
	// entirely. One wide, session-filtered fetch recovers whatever exists.
	if len(hits) == 0 {
		hits, err = s.searchKinds(ctx, sessionID, queryVec, ready, true)
		if err != nil {
			return nil, err
		}
	}

	if len(hits) == 0 {
		return &ChatResponse{Message: noContextMessage, Sources: []models.ScoredChunk{}}, nil
	}

	contextText, docCount, audioCount := buildContext(hits)

	userPrompt := fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextText, query)
	answer, err := s.llm.Generate(ctx, groundingInstructions, userPrompt)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &ChatResponse{
		Message:        answer,
		Sources:        hits,
		DocumentChunks: docCount,
		AudioChunks:    audioCount,
	}, nil
}

// searchKinds queries every ready kind's collection concurrently and merges
// the session-filtered results. In fallback mode it fetches a wide
// session-filtered batch instead of the similarity-budgeted one.
//
// A kind whose search fails is logged and skipped as long as another kind
// succeeded; if every kind fails the first error surfaces.
func (s *ChatService) searchKinds(ctx context.Context, sessionID string, queryVec []float32, ready map[models.MediaKind]bool, fallback bool) ([]models.ScoredChunk, error) {
	kinds := make([]models.MediaKind, 0, len(ready))
	for k := range ready {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var (
		mu       sync.Mutex
		merged   []models.ScoredChunk
		failures int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			k := topKFor(kind)
			var (
				results []models.ScoredChunk
				err     error
			)
			if fallback {
				results, err = s.store.Search(gctx, kind.Collection(), queryVec, fallbackBatch, sessionID)
			} else {
				// Over-fetch and filter client-side: collection-level session
				// filtering is not assumed reliable.
				results, err = s.store.Search(gctx, kind.Collection(), queryVec, k*overFetchFactor, "")
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("chat: search %s: %v", kind.Collection(), err)
				failures++
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}

			kept := filterSession(results, sessionID)
			if !fallback && len(kept) > k {
				kept = kept[:k]
			}
			merged = append(merged, kept...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failures == len(kinds) && firstErr != nil {
		return nil, fmt.Errorf("search: %w", firstErr)
	}

	// Deterministic merge order: best first, ties broken by provenance.
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	return merged, nil
}

func topKFor(kind models.MediaKind) int {
	if kind == models.MediaAudio {
		return audioTopK
	}
	return documentTopK
}

// filterSession keeps only chunks whose metadata matches the session exactly.
func filterSession(in []models.ScoredChunk, sessionID string) []models.ScoredChunk {
	out := make([]models.ScoredChunk, 0, len(in))
	for _, sc := range in {
		if sc.Metadata.SessionID == sessionID {
			out = append(out, sc)
		}
	}
	return out
}

// buildContext joins chunk texts into labelled provenance blocks.
func buildContext(hits []models.ScoredChunk) (string, int, int) {
	var (
		sb         strings.Builder
		docCount   int
		audioCount int
	)
	for i, sc := range hits {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		switch sc.Metadata.MediaKind {
		case models.MediaAudio:
			audioCount++
			fmt.Fprintf(&sb, "[Audio transcript: %s]\n", sc.Metadata.SourceFilename)
		default:
			docCount++
			fmt.Fprintf(&sb, "[Document: %s]\n", sc.Metadata.SourceFilename)
		}
		sb.WriteString(sc.Text)
	}
	return sb.String(), docCount, audioCount
}
