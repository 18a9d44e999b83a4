package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/models"
	"github.com/davidobi/askmydocs/internal/registry"
)

type fakeQueue struct {
	acked  []string
	nacked []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, queue string, job *models.IngestJob) error {
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, queue string) (*models.IngestJob, error) {
	return nil, nil
}

func (q *fakeQueue) Ack(ctx context.Context, jobID string) error {
	q.acked = append(q.acked, jobID)
	return nil
}

func (q *fakeQueue) Nack(ctx context.Context, jobID string, attempt int) error {
	q.nacked = append(q.nacked, jobID)
	return nil
}

type fakeAdapter struct {
	text     string
	err      error
	seenPath string
}

func (a *fakeAdapter) Extract(ctx context.Context, path, mimeType string) (string, error) {
	a.seenPath = path
	if a.err != nil {
		return "", a.err
	}
	return a.text, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type fakeStore struct {
	ensured   []string
	upserted  map[string][]models.EmbeddedChunk
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserted: make(map[string][]models.EmbeddedChunk)}
}

func (s *fakeStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	s.ensured = append(s.ensured, name)
	return nil
}

func (s *fakeStore) Upsert(ctx context.Context, name string, chunks []models.EmbeddedChunk) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserted[name] = append(s.upserted[name], chunks...)
	return nil
}

func (s *fakeStore) Search(ctx context.Context, name string, queryVec []float32, k int, sessionID string) ([]models.ScoredChunk, error) {
	return nil, nil
}

type notification struct {
	sessionID  string
	filename   string
	kind       models.MediaKind
	status     models.FileStatus
	transcript string
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) NotifyComplete(ctx context.Context, sessionID, filename string, kind models.MediaKind, status models.FileStatus, transcript string) error {
	n.sent = append(n.sent, notification{sessionID, filename, kind, status, transcript})
	return nil
}

func docJob(payload string) *models.IngestJob {
	return &models.IngestJob{
		ID:           "job-1",
		SessionID:    "s1",
		Filename:     "doc.pdf",
		MediaPayload: base64.StdEncoding.EncodeToString([]byte(payload)),
		MimeType:     "application/pdf",
		Attempts:     1,
	}
}

func newTestWorker(kind models.MediaKind, q core.JobQueue, a core.ContentAdapter, e core.EmbeddingProvider, s core.VectorStore, n core.CompletionNotifier) *Worker {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 3
	return NewWorker(kind, q, a, e, s, n, cfg, 0)
}

func TestWorkerSuccess(t *testing.T) {
	queue := &fakeQueue{}
	adapter := &fakeAdapter{text: "some extracted content\nwith a second line"}
	store := newFakeStore()
	notifier := &fakeNotifier{}

	w := newTestWorker(models.MediaDocument, queue, adapter, &fakeEmbedder{}, store, notifier)
	w.handle(context.Background(), docJob("%PDF-1.4 ..."))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.StatusReady, notifier.sent[0].status)
	assert.Equal(t, "s1", notifier.sent[0].sessionID)
	assert.Equal(t, "doc.pdf", notifier.sent[0].filename)
	assert.Equal(t, models.MediaDocument, notifier.sent[0].kind)
	assert.Empty(t, notifier.sent[0].transcript, "documents carry no transcript")

	assert.Equal(t, []string{"document_chunks"}, store.ensured)
	chunks := store.upserted["document_chunks"]
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.Equal(t, "s1", ch.Metadata.SessionID)
		assert.Equal(t, models.MediaDocument, ch.Metadata.MediaKind)
		assert.NotEmpty(t, ch.Embedding)
	}

	assert.Equal(t, []string{"job-1"}, queue.acked)
	assert.Empty(t, queue.nacked)
}

func TestWorkerAudioCarriesTranscript(t *testing.T) {
	queue := &fakeQueue{}
	adapter := &fakeAdapter{text: "hello from the recording"}
	store := newFakeStore()
	notifier := &fakeNotifier{}

	w := newTestWorker(models.MediaAudio, queue, adapter, &fakeEmbedder{}, store, notifier)
	job := docJob("RIFF....")
	job.Filename = "talk.mp3"
	job.MimeType = "audio/mpeg"
	w.handle(context.Background(), job)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.StatusReady, notifier.sent[0].status)
	assert.Equal(t, models.MediaAudio, notifier.sent[0].kind)
	assert.Equal(t, "hello from the recording", notifier.sent[0].transcript)
	assert.Equal(t, []string{"audio_chunks"}, store.ensured)
	assert.NotEmpty(t, store.upserted["audio_chunks"])
}

func TestWorkerEmptyContentIsTerminal(t *testing.T) {
	queue := &fakeQueue{}
	adapter := &fakeAdapter{err: core.ErrNoContent}
	store := newFakeStore()
	notifier := &fakeNotifier{}

	w := newTestWorker(models.MediaDocument, queue, adapter, &fakeEmbedder{}, store, notifier)
	w.handle(context.Background(), docJob("garbage"))

	// Failed is notified, nothing is stored, and the job is NOT redelivered.
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.StatusFailed, notifier.sent[0].status)
	assert.Empty(t, store.upserted["document_chunks"])
	assert.Equal(t, []string{"job-1"}, queue.acked)
	assert.Empty(t, queue.nacked)
}

func TestWorkerEmptyPayloadIsTerminal(t *testing.T) {
	queue := &fakeQueue{}
	notifier := &fakeNotifier{}
	store := newFakeStore()

	w := newTestWorker(models.MediaDocument, queue, &fakeAdapter{text: "ignored"}, &fakeEmbedder{}, store, notifier)
	job := docJob("")
	w.handle(context.Background(), job)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.StatusFailed, notifier.sent[0].status)
	assert.Equal(t, []string{"job-1"}, queue.acked)
	assert.Empty(t, queue.nacked)
}

func TestWorkerEmbedFailureIsRetried(t *testing.T) {
	queue := &fakeQueue{}
	adapter := &fakeAdapter{text: "usable content"}
	store := newFakeStore()
	notifier := &fakeNotifier{}

	w := newTestWorker(models.MediaDocument, queue, adapter, &fakeEmbedder{err: errors.New("embed backend down")}, store, notifier)
	w.handle(context.Background(), docJob("content"))

	// Unsettled: the record must stay processing so a redelivery can still
	// turn it ready.
	assert.Empty(t, notifier.sent, "no notification until the job settles")
	assert.Empty(t, store.upserted["document_chunks"])
	assert.Equal(t, []string{"job-1"}, queue.nacked, "storage failures go back to the queue")
	assert.Empty(t, queue.acked)
}

func TestWorkerRetryCapMakesFailurePermanent(t *testing.T) {
	queue := &fakeQueue{}
	adapter := &fakeAdapter{text: "usable content"}
	notifier := &fakeNotifier{}

	w := newTestWorker(models.MediaDocument, queue, adapter, &fakeEmbedder{err: errors.New("still down")}, newFakeStore(), notifier)
	job := docJob("content")
	job.Attempts = 3 // at the cap
	w.handle(context.Background(), job)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, models.StatusFailed, notifier.sent[0].status)
	assert.Equal(t, []string{"job-1"}, queue.acked, "capped jobs are dropped, not redelivered")
	assert.Empty(t, queue.nacked)
}

func TestWorkerReleasesTempArtifact(t *testing.T) {
	adapter := &fakeAdapter{text: "content"}
	w := newTestWorker(models.MediaDocument, &fakeQueue{}, adapter, &fakeEmbedder{}, newFakeStore(), &fakeNotifier{})

	w.handle(context.Background(), docJob("payload bytes"))

	require.NotEmpty(t, adapter.seenPath)
	_, err := os.Stat(adapter.seenPath)
	assert.True(t, os.IsNotExist(err), "temp file should be removed after processing")
}

func TestWorkerUpsertFailureIsRetried(t *testing.T) {
	queue := &fakeQueue{}
	store := newFakeStore()
	store.upsertErr = &core.StorageError{Op: "upsert", Err: errors.New("db gone")}
	notifier := &fakeNotifier{}

	w := newTestWorker(models.MediaDocument, queue, &fakeAdapter{text: "usable content"}, &fakeEmbedder{}, store, notifier)
	w.handle(context.Background(), docJob("content"))

	assert.Empty(t, notifier.sent)
	assert.Equal(t, []string{"job-1"}, queue.nacked)
}

// flakyEmbedder fails its first call and succeeds afterwards.
type flakyEmbedder struct {
	inner fakeEmbedder
	calls int
}

func (e *flakyEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.calls == 1 {
		return nil, errors.New("transient blip")
	}
	return e.inner.EmbedTexts(ctx, texts)
}

// registryNotifier applies notifications the way the production callback path
// does, so the worker and registry semantics are tested together.
type registryNotifier struct {
	reg *registry.SessionRegistry
}

func (n *registryNotifier) NotifyComplete(ctx context.Context, sessionID, filename string, kind models.MediaKind, status models.FileStatus, transcript string) error {
	n.reg.Complete(sessionID, filename, kind, status, transcript)
	return nil
}

func TestWorkerTransientFailureThenSuccessSurfacesReady(t *testing.T) {
	queue := &fakeQueue{}
	store := newFakeStore()
	reg := registry.New()
	reg.Append("s1", "doc.pdf", models.MediaDocument)

	w := newTestWorker(models.MediaDocument, queue, &fakeAdapter{text: "usable content"},
		&flakyEmbedder{}, store, &registryNotifier{reg: reg})

	// First delivery hits the transient failure and goes back to the queue.
	w.handle(context.Background(), docJob("content"))
	require.Equal(t, []string{"job-1"}, queue.nacked)
	assert.Equal(t, models.StatusProcessing, reg.Files("s1")[0].Status)

	// Redelivery succeeds; the record must end ready, not stuck failed.
	redelivered := docJob("content")
	redelivered.Attempts = 2
	w.handle(context.Background(), redelivered)

	assert.NotEmpty(t, store.upserted["document_chunks"])
	assert.Equal(t, models.StatusReady, reg.Files("s1")[0].Status)
	assert.True(t, reg.ReadyKinds("s1")[models.MediaDocument])
	assert.Equal(t, []string{"job-1"}, queue.acked)
}
