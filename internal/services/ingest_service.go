package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/core/objectclient"
	"github.com/davidobi/askmydocs/internal/models"
	"github.com/davidobi/askmydocs/internal/registry"
)

// IngestService is the upload-accepting coordinator: it validates the file,
// registers it as processing, and hands it to the job queue. It never waits
// for processing; completion is observed through the registry.
type IngestService struct {
	registry *registry.SessionRegistry
	queue    core.JobQueue
	archive  core.ObjectClient // optional
	bucket   string
}

func NewIngestService(reg *registry.SessionRegistry, queue core.JobQueue) *IngestService {
	return &IngestService{registry: reg, queue: queue}
}

// WithArchive enables best-effort archiving of raw uploads to object storage.
func (s *IngestService) WithArchive(archive core.ObjectClient, bucket string) *IngestService {
	s.archive = archive
	s.bucket = bucket
	return s
}

// Submit validates and enqueues one upload. A nil return means the file was
// accepted for background processing, nothing more.
func (s *IngestService) Submit(ctx context.Context, sessionID, filename string, data []byte, mimeType string) error {
	if len(data) == 0 {
		return &core.ValidationError{Reason: "no file content"}
	}
	if filename == "" {
		return &core.ValidationError{Reason: "missing filename"}
	}
	kind, ok := models.KindForMime(mimeType)
	if !ok {
		return &core.ValidationError{Reason: fmt.Sprintf("unsupported content type %q", mimeType)}
	}

	// Archive first so a replay source exists even if the job later fails.
	// Failures here never fail the submission.
	if s.archive != nil && s.bucket != "" {
		key := objectclient.ArchiveKey(sessionID, filename)
		if _, err := s.archive.UploadFile(ctx, s.bucket, key, data, mimeType); err != nil {
			log.Printf("ingest: archive %s: %v", key, err)
		}
	}

	s.registry.Append(sessionID, filename, kind)

	job := &models.IngestJob{
		SessionID:    sessionID,
		Filename:     filename,
		MediaPayload: base64.StdEncoding.EncodeToString(data),
		MimeType:     mimeType,
	}
	if err := s.queue.Enqueue(ctx, kind.Queue(), job); err != nil {
		// No job means no worker will ever complete this record; fail it now
		// so the caller can retry the whole submission cleanly.
		s.registry.Complete(sessionID, filename, kind, models.StatusFailed, "")
		return fmt.Errorf("enqueue %s: %w", kind.Queue(), err)
	}
	return nil
}

// Status returns the session's file records in submission order.
func (s *IngestService) Status(sessionID string) []models.FileRecord {
	return s.registry.Files(sessionID)
}

// Complete applies a worker's terminal notification to the registry.
func (s *IngestService) Complete(sessionID, filename string, kind models.MediaKind, status models.FileStatus, transcript string) error {
	if !status.Terminal() {
		return &core.ValidationError{Reason: fmt.Sprintf("status must be ready or failed, got %q", status)}
	}
	changed := s.registry.Complete(sessionID, filename, kind, status, transcript)
	if !changed {
		log.Printf("ingest: duplicate completion for %s/%s (%s) ignored", sessionID, filename, status)
	}
	return nil
}
