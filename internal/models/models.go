package models

import (
	"strings"
	"time"
)

// FileStatus is the lifecycle state of an uploaded file.
// Transitions are strictly processing -> ready or processing -> failed.
type FileStatus string

const (
	StatusProcessing FileStatus = "processing"
	StatusReady      FileStatus = "ready"
	StatusFailed     FileStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s FileStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// MediaKind identifies which ingestion path and vector collection a file belongs to.
type MediaKind string

const (
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
)

// Queue returns the named job queue for this media kind.
func (k MediaKind) Queue() string {
	if k == MediaAudio {
		return "audio-ingest"
	}
	return "document-ingest"
}

// Collection returns the vector collection that stores chunks of this kind.
func (k MediaKind) Collection() string {
	if k == MediaAudio {
		return "audio_chunks"
	}
	return "document_chunks"
}

// KindForMime maps an upload MIME type to a media kind.
// The bool is false for types the pipeline does not accept.
func KindForMime(mimeType string) (MediaKind, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "application/pdf", mt == "text/plain":
		return MediaDocument, true
	case strings.HasPrefix(mt, "audio/"):
		return MediaAudio, true
	default:
		return "", false
	}
}

// FileRecord tracks one submitted file inside a session.
type FileRecord struct {
	Filename   string     `json:"filename"`
	Kind       MediaKind  `json:"kind"`
	Status     FileStatus `json:"status"`
	Transcript string     `json:"transcript,omitempty"` // audio only, set on ready
	UploadedAt time.Time  `json:"uploadedAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// IngestJob is the unit of work placed on a named queue. MediaPayload is the
// base64-encoded raw upload so the job carries everything a worker in another
// process needs.
type IngestJob struct {
	ID           string `json:"id"`
	SessionID    string `json:"sessionId"`
	Filename     string `json:"filename"`
	MediaPayload string `json:"mediaPayload"`
	MimeType     string `json:"mimeType"`

	// Attempts is how many times the queue has delivered this job,
	// including the current delivery. Owned by the queue.
	Attempts int `json:"-"`
}

// ChunkMetadata is the provenance carried by every stored chunk.
type ChunkMetadata struct {
	SessionID      string    `json:"sessionId"`
	SourceFilename string    `json:"sourceFilename"`
	MediaKind      MediaKind `json:"mediaKind"`
	ChunkIndex     int       `json:"chunkIndex"`
	TotalChunks    int       `json:"totalChunks"`
	ContentHint    string    `json:"contentHint,omitempty"`
	ProcessedAt    time.Time `json:"processedAt"`
}

// Chunk is the unit of storage and retrieval.
type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// EmbeddedChunk pairs a chunk with its embedding for upsert.
type EmbeddedChunk struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a retrieval hit with its similarity score.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}
