package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/core/objectclient"
	"github.com/davidobi/askmydocs/internal/models"
)

// Worker drains one named queue, one job at a time: decode, adapt, chunk,
// embed, store, notify. Multiple workers may run in parallel (other queues or
// other processes); each job carries everything it needs, so there is no
// shared job state to coordinate.
type Worker struct {
	kind     models.MediaKind
	queue    core.JobQueue
	adapter  core.ContentAdapter
	chunker  *Chunker
	embedder core.EmbeddingProvider
	store    core.VectorStore
	notifier core.CompletionNotifier
	archive  core.ObjectClient // optional; nil disables archive cleanup
	bucket   string
	cfg      *Config
	poll     time.Duration
}

func NewWorker(
	kind models.MediaKind,
	queue core.JobQueue,
	adapter core.ContentAdapter,
	embedder core.EmbeddingProvider,
	store core.VectorStore,
	notifier core.CompletionNotifier,
	cfg *Config,
	poll time.Duration,
) *Worker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if poll <= 0 {
		poll = time.Second
	}
	return &Worker{
		kind:     kind,
		queue:    queue,
		adapter:  adapter,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder: embedder,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		poll:     poll,
	}
}

// WithArchive makes the worker delete the archived raw upload when a job
// fails terminally.
func (w *Worker) WithArchive(archive core.ObjectClient, bucket string) *Worker {
	w.archive = archive
	w.bucket = bucket
	return w
}

// Run consumes the worker's queue until ctx is cancelled. Claims one job at a
// time; the poll interval only matters when the queue is empty.
func (w *Worker) Run(ctx context.Context) {
	queueName := w.kind.Queue()
	log.Printf("worker: consuming queue %s", queueName)

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		job, err := w.queue.Dequeue(ctx, queueName)
		if err != nil {
			log.Printf("worker: dequeue %s: %v", queueName, err)
		}
		if job != nil {
			w.handle(ctx, job)
			// Drain without waiting while jobs are available.
			continue
		}

		select {
		case <-ctx.Done():
			log.Printf("worker: queue %s shutting down", queueName)
			return
		case <-ticker.C:
		}
	}
}

// handle processes one claimed job and settles it with the queue.
func (w *Worker) handle(ctx context.Context, job *models.IngestJob) {
	log.Printf("worker: processing %s/%s (attempt %d)", job.SessionID, job.Filename, job.Attempts)

	transcript, err := w.process(ctx, job)
	if err == nil {
		w.notify(ctx, job, models.StatusReady, transcript)
		if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
			log.Printf("worker: ack %s: %v", job.ID, ackErr)
		}
		log.Printf("worker: %s/%s ready", job.SessionID, job.Filename)
		return
	}

	// A retryable failure below the attempts cap goes back to the queue
	// without notifying: the record stays processing until the job settles,
	// so a later redelivery can still surface it as ready.
	retryable := core.Retryable(err)
	if retryable && job.Attempts < w.cfg.MaxAttempts {
		log.Printf("worker: %s/%s failed, will retry: %v", job.SessionID, job.Filename, err)
		if nackErr := w.queue.Nack(ctx, job.ID, job.Attempts); nackErr != nil {
			log.Printf("worker: nack %s: %v", job.ID, nackErr)
		}
		return
	}

	// Terminal settlement: the registry hears failed exactly once.
	w.notify(ctx, job, models.StatusFailed, "")

	if retryable {
		log.Printf("worker: %s/%s failed permanently after %d attempts: %v", job.SessionID, job.Filename, job.Attempts, err)
	} else {
		log.Printf("worker: %s/%s failed permanently (not retryable): %v", job.SessionID, job.Filename, err)
	}
	w.cleanupArchive(ctx, job)
	if ackErr := w.queue.Ack(ctx, job.ID); ackErr != nil {
		log.Printf("worker: ack %s: %v", job.ID, ackErr)
	}
}

// process runs the pipeline for one job. It returns the transcript for audio
// jobs (empty for documents) so the completion callback can carry it.
func (w *Worker) process(ctx context.Context, job *models.IngestJob) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(job.MediaPayload)
	if err != nil {
		return "", &core.AdapterError{Filename: job.Filename, Err: fmt.Errorf("decode payload: %w", err)}
	}
	if len(raw) == 0 {
		return "", &core.AdapterError{Filename: job.Filename, Err: core.ErrNoContent}
	}

	// Spill the decoded payload to a temp file for the adapters; released no
	// matter how processing ends.
	tmp, err := os.CreateTemp("", "ingest-*")
	if err != nil {
		return "", &core.StorageError{Op: "temp file", Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", &core.StorageError{Op: "temp write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &core.StorageError{Op: "temp close", Err: err}
	}

	text, err := w.adapter.Extract(ctx, tmp.Name(), job.MimeType)
	if err != nil {
		if errors.Is(err, core.ErrNoContent) {
			return "", &core.AdapterError{Filename: job.Filename, Err: err}
		}
		// Extraction backends can flake (speech-to-text is a network call);
		// let the queue redeliver.
		return "", &core.StorageError{Op: "extract", Err: err}
	}

	processedAt := time.Now().UTC()
	chunks := w.chunker.Split(text, job.SessionID, job.Filename, w.kind, processedAt)
	if len(chunks) == 0 {
		return "", &core.AdapterError{Filename: job.Filename, Err: core.ErrNoContent}
	}

	collection := w.kind.Collection()
	if err := w.store.EnsureCollection(ctx, collection, w.cfg.EmbedDim); err != nil {
		return "", err
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vecs, err := w.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return "", &core.StorageError{Op: "embed", Err: err}
	}
	if len(vecs) != len(chunks) {
		return "", &core.StorageError{Op: "embed", Err: fmt.Errorf("got %d vectors for %d chunks", len(vecs), len(chunks))}
	}

	embedded := make([]models.EmbeddedChunk, len(chunks))
	for i := range chunks {
		embedded[i] = models.EmbeddedChunk{Chunk: chunks[i], Embedding: vecs[i]}
	}
	if err := w.store.Upsert(ctx, collection, embedded); err != nil {
		return "", err
	}

	if w.kind == models.MediaAudio {
		return text, nil
	}
	return "", nil
}

// notify is best-effort: a lost notification is recovered by queue
// redelivery (failed) or visible as a stale processing status (ready), never
// by blocking the job outcome.
func (w *Worker) notify(ctx context.Context, job *models.IngestJob, status models.FileStatus, transcript string) {
	if err := w.notifier.NotifyComplete(ctx, job.SessionID, job.Filename, w.kind, status, transcript); err != nil {
		log.Printf("worker: completion callback for %s/%s (%s): %v", job.SessionID, job.Filename, status, err)
	}
}

func (w *Worker) cleanupArchive(ctx context.Context, job *models.IngestJob) {
	if w.archive == nil || w.bucket == "" {
		return
	}
	key := objectclient.ArchiveKey(job.SessionID, job.Filename)
	if err := w.archive.DeleteFile(ctx, w.bucket, key); err != nil {
		log.Printf("worker: archive cleanup %s: %v", key, err)
	}
}
