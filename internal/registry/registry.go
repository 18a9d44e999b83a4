// Package registry holds the process-wide mapping from session key to the
// files submitted in that session. It is the only mutable shared state in the
// API process and the only consistency point between the request path and the
// out-of-band workers (via the completion callback). State lives for the
// process lifetime only; a restart loses all sessions by design.
package registry

import (
	"sync"
	"time"

	"github.com/davidobi/askmydocs/internal/models"
)

// DefaultSessionKey is the shared fallback used when a client supplies no
// session identity.
const DefaultSessionKey = "default"

type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string][]*models.FileRecord
}

func New() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string][]*models.FileRecord)}
}

// Append registers a new file in state processing and returns a copy of the
// created record.
func (r *SessionRegistry) Append(sessionID, filename string, kind models.MediaKind) models.FileRecord {
	now := time.Now().UTC()
	rec := &models.FileRecord{
		Filename:   filename,
		Kind:       kind,
		Status:     models.StatusProcessing,
		UploadedAt: now,
		UpdatedAt:  now,
	}

	r.mu.Lock()
	r.sessions[sessionID] = append(r.sessions[sessionID], rec)
	r.mu.Unlock()

	return *rec
}

// Files returns a snapshot of the session's records in submission order.
func (r *SessionRegistry) Files(sessionID string) []models.FileRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.sessions[sessionID]
	out := make([]models.FileRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	return out
}

// Complete applies a terminal status to the session's record for filename.
//
// The transition is monotonic and idempotent: a record that is already
// terminal is left untouched (re-delivered notifications are no-ops). When no
// record matches (the worker can outrun the coordinator's bookkeeping), a
// record is inserted directly in the terminal state rather than dropped.
// It returns true when the notification changed or created a record.
func (r *SessionRegistry) Complete(sessionID, filename string, kind models.MediaKind, status models.FileStatus, transcript string) bool {
	if !status.Terminal() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.sessions[sessionID]

	// Prefer the most recent record still processing; a re-uploaded filename
	// should complete its newest submission first.
	var target *models.FileRecord
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Filename != filename {
			continue
		}
		if recs[i].Status == models.StatusProcessing {
			target = recs[i]
			break
		}
		if target == nil {
			target = recs[i]
		}
	}

	if target == nil {
		now := time.Now().UTC()
		rec := &models.FileRecord{
			Filename:   filename,
			Kind:       kind,
			Status:     status,
			Transcript: transcript,
			UploadedAt: now,
			UpdatedAt:  now,
		}
		r.sessions[sessionID] = append(recs, rec)
		return true
	}

	if target.Status.Terminal() {
		return false
	}

	target.Status = status
	target.UpdatedAt = time.Now().UTC()
	if status == models.StatusReady && transcript != "" {
		target.Transcript = transcript
	}
	return true
}

// ReadyKinds reports which media kinds have at least one ready file in the
// session.
func (r *SessionRegistry) ReadyKinds(sessionID string) map[models.MediaKind]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[models.MediaKind]bool)
	for _, rec := range r.sessions[sessionID] {
		if rec.Status == models.StatusReady && rec.Kind != "" {
			out[rec.Kind] = true
		}
	}
	return out
}
