package core

import (
	"context"

	"github.com/davidobi/askmydocs/internal/models"
)

// EmbeddingProvider turns texts into vectors. One call embeds the whole batch.
type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider produces an answer from a system instruction and a user prompt.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

// Transcriber converts raw audio bytes into a plain-text transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// VectorStore abstracts the vector database. A collection is created lazily,
// holds chunks of a fixed embedding dimensionality, and is searched by
// similarity. When sessionID is non-empty, Search restricts results to that
// session; callers still re-filter client-side.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dims int) error
	Upsert(ctx context.Context, name string, chunks []models.EmbeddedChunk) error
	Search(ctx context.Context, name string, queryVec []float32, k int, sessionID string) ([]models.ScoredChunk, error)
}

// JobQueue is a durable, at-least-once work queue with named queues.
//
// Dequeue claims at most one job and leases it to the caller; it returns
// (nil, nil) when the queue is empty. A claimed job must be settled with
// Ack (done, terminal) or Nack (redeliver after backoff).
type JobQueue interface {
	Enqueue(ctx context.Context, queue string, job *models.IngestJob) error
	Dequeue(ctx context.Context, queue string) (*models.IngestJob, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, jobID string, attempt int) error
}

// ObjectClient is the object-storage surface used to archive raw uploads.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// CompletionNotifier carries terminal job outcomes from the worker process
// back to the registry-owning API process. The kind travels with the outcome
// so a notification that outruns the coordinator's bookkeeping still records
// which retrieval source the file belongs to.
type CompletionNotifier interface {
	NotifyComplete(ctx context.Context, sessionID, filename string, kind models.MediaKind, status models.FileStatus, transcript string) error
}

// ContentAdapter extracts text from a decoded upload spilled to a temp file.
// Implementations return ErrNoContent (via AdapterError) when nothing usable
// comes out.
type ContentAdapter interface {
	Extract(ctx context.Context, path string, mimeType string) (string, error)
}
