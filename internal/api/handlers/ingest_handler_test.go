package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidobi/askmydocs/internal/models"
	"github.com/davidobi/askmydocs/internal/registry"
	"github.com/davidobi/askmydocs/internal/services"
)

type recordingQueue struct {
	queues []string
	jobs   []*models.IngestJob
}

func (q *recordingQueue) Enqueue(ctx context.Context, queue string, job *models.IngestJob) error {
	q.queues = append(q.queues, queue)
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Dequeue(ctx context.Context, queue string) (*models.IngestJob, error) {
	return nil, nil
}

func (q *recordingQueue) Ack(ctx context.Context, jobID string) error { return nil }
func (q *recordingQueue) Nack(ctx context.Context, jobID string, attempt int) error {
	return nil
}

func newIngestFixture() (*IngestHandler, *registry.SessionRegistry, *recordingQueue) {
	reg := registry.New()
	queue := &recordingQueue{}
	return NewIngestHandler(services.NewIngestService(reg, queue)), reg, queue
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &body, mw.FormDataContentType()
}

func TestUploadAccepted(t *testing.T) {
	h, reg, queue := newIngestFixture()

	body, contentType := multipartUpload(t, "report.pdf", "application/pdf", []byte("%PDF-1.4"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SessionHeader, "s1")
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["accepted"])
	assert.Equal(t, "s1", resp["sessionId"])
	assert.Equal(t, "report.pdf", resp["filename"])

	// Accepted means registered and queued, not processed.
	files := reg.Files("s1")
	require.Len(t, files, 1)
	assert.Equal(t, models.StatusProcessing, files[0].Status)
	assert.Equal(t, []string{"document-ingest"}, queue.queues)
}

func TestUploadDefaultsSessionKey(t *testing.T) {
	h, reg, _ := newIngestFixture()

	body, contentType := multipartUpload(t, "a.pdf", "application/pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, reg.Files(registry.DefaultSessionKey), 1)
}

func TestUploadStripsPathFromFilename(t *testing.T) {
	h, reg, _ := newIngestFixture()

	body, contentType := multipartUpload(t, "../../etc/passwd.pdf", "application/pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(SessionHeader, "s1")
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	files := reg.Files("s1")
	require.Len(t, files, 1)
	assert.Equal(t, "passwd.pdf", files[0].Filename)
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	h, _, queue := newIngestFixture()

	body, contentType := multipartUpload(t, "a.zip", "application/zip", []byte("PK"))
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, queue.jobs)
}

func TestUploadRejectsMissingFile(t *testing.T) {
	h, _, _ := newIngestFixture()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "no file here"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.Upload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusReportsLifecycle(t *testing.T) {
	h, reg, _ := newIngestFixture()
	reg.Append("s1", "a.pdf", models.MediaDocument)
	reg.Append("s1", "b.mp3", models.MediaAudio)
	reg.Complete("s1", "b.mp3", models.MediaAudio, models.StatusReady, "the transcript")

	req := httptest.NewRequest(http.MethodGet, "/api/ingest/status?sessionId=s1", nil)
	rec := httptest.NewRecorder()

	h.Status(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		SessionID string `json:"sessionId"`
		Files     []struct {
			Filename   string `json:"filename"`
			Status     string `json:"status"`
			Transcript string `json:"transcript"`
			UploadedAt string `json:"uploadedAt"`
		} `json:"files"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, "s1", resp.SessionID)
	require.Len(t, resp.Files, 2)
	assert.Equal(t, "processing", resp.Files[0].Status)
	assert.Equal(t, "ready", resp.Files[1].Status)
	assert.Equal(t, "the transcript", resp.Files[1].Transcript)
	assert.NotEmpty(t, resp.Files[0].UploadedAt)
}

func TestStatusFallsBackToHeader(t *testing.T) {
	h, reg, _ := newIngestFixture()
	reg.Append("s1", "a.pdf", models.MediaDocument)

	req := httptest.NewRequest(http.MethodGet, "/api/ingest/status", nil)
	req.Header.Set(SessionHeader, "s1")
	rec := httptest.NewRecorder()

	h.Status(rec, req)

	var resp struct {
		Files []json.RawMessage `json:"files"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Files, 1)
}

func TestCompleteCallback(t *testing.T) {
	h, reg, _ := newIngestFixture()
	reg.Append("s1", "talk.mp3", models.MediaAudio)

	payload := `{"sessionId":"s1","filename":"talk.mp3","kind":"audio","status":"ready","transcript":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/complete", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Complete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	files := reg.Files("s1")
	require.Len(t, files, 1)
	assert.Equal(t, models.StatusReady, files[0].Status)
	assert.Equal(t, "hello", files[0].Transcript)
}

func TestCompleteCallbackBeforeUploadBookkeeping(t *testing.T) {
	h, reg, _ := newIngestFixture()

	// The callback can land before the coordinator registered the file; the
	// notified kind must survive so retrieval gating works.
	payload := `{"sessionId":"s1","filename":"early.mp3","kind":"audio","status":"ready","transcript":"hi"}`
	req := httptest.NewRequest(http.MethodPost, "/api/ingest/complete", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.Complete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	files := reg.Files("s1")
	require.Len(t, files, 1)
	assert.Equal(t, models.MediaAudio, files[0].Kind)
	assert.True(t, reg.ReadyKinds("s1")[models.MediaAudio])
}

func TestCompleteCallbackIsIdempotent(t *testing.T) {
	h, reg, _ := newIngestFixture()
	reg.Append("s1", "a.pdf", models.MediaDocument)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest/complete",
			strings.NewReader(`{"sessionId":"s1","filename":"a.pdf","kind":"document","status":"ready"}`))
		rec := httptest.NewRecorder()
		h.Complete(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, models.StatusReady, reg.Files("s1")[0].Status)
}

func TestCompleteCallbackValidation(t *testing.T) {
	h, _, _ := newIngestFixture()

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing fields", `{"status":"ready"}`},
		{"non-terminal status", `{"sessionId":"s1","filename":"a.pdf","status":"processing"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/ingest/complete", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Complete(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
