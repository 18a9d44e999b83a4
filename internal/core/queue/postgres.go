package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/models"
)

// Queue implements core.JobQueue on a Postgres table. Delivery is
// at-least-once: Dequeue leases a row with FOR UPDATE SKIP LOCKED and bumps
// its attempt counter; a worker that crashes mid-job simply lets the lease
// expire and the row becomes visible again. Ack deletes the row, Nack makes
// it visible after an attempt-scaled backoff.
type Queue struct {
	db    *sql.DB
	lease time.Duration
}

var _ core.JobQueue = (*Queue)(nil)

const defaultLease = 5 * time.Minute

// New prepares the queue table and returns the queue.
func New(ctx context.Context, pool *sql.DB) (*Queue, error) {
	q := &Queue{db: pool, lease: defaultLease}

	const ddl = `
		CREATE TABLE IF NOT EXISTS ingest_jobs (
			id uuid PRIMARY KEY,
			queue text NOT NULL,
			payload jsonb NOT NULL,
			attempts int NOT NULL DEFAULT 0,
			visible_at timestamptz NOT NULL DEFAULT now(),
			created_at timestamptz NOT NULL DEFAULT now()
		)`
	if _, err := pool.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create ingest_jobs: %w", err)
	}
	const idx = `CREATE INDEX IF NOT EXISTS ingest_jobs_claim_idx ON ingest_jobs (queue, visible_at, created_at)`
	if _, err := pool.ExecContext(ctx, idx); err != nil {
		return nil, fmt.Errorf("index ingest_jobs: %w", err)
	}
	return q, nil
}

// Enqueue places one job on the named queue.
func (q *Queue) Enqueue(ctx context.Context, queue string, job *models.IngestJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return &core.StorageError{Op: "enqueue " + queue, Err: err}
	}

	const ins = `INSERT INTO ingest_jobs (id, queue, payload) VALUES ($1, $2, $3)`
	if _, err := q.db.ExecContext(ctx, ins, job.ID, queue, payload); err != nil {
		return &core.StorageError{Op: "enqueue " + queue, Err: err}
	}
	return nil
}

// Dequeue claims the oldest visible job on the named queue, or (nil, nil)
// when there is none. The claimed row stays in the table until Ack; the
// lease keeps other consumers off it meanwhile.
func (q *Queue) Dequeue(ctx context.Context, queue string) (*models.IngestJob, error) {
	const claim = `
		UPDATE ingest_jobs
		SET visible_at = now() + $2::interval, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE queue = $1 AND visible_at <= now()
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, payload, attempts
	`
	var (
		id       string
		payload  []byte
		attempts int
	)
	leaseArg := fmt.Sprintf("%d seconds", int(q.lease.Seconds()))
	err := q.db.QueryRowContext(ctx, claim, queue, leaseArg).Scan(&id, &payload, &attempts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &core.StorageError{Op: "dequeue " + queue, Err: err}
	}

	var job models.IngestJob
	if err := json.Unmarshal(payload, &job); err != nil {
		// Unreadable payload: drop the row rather than poison the queue.
		_, _ = q.db.ExecContext(ctx, `DELETE FROM ingest_jobs WHERE id = $1`, id)
		return nil, &core.StorageError{Op: "dequeue " + queue, Err: fmt.Errorf("bad payload for job %s: %w", id, err)}
	}
	job.ID = id
	job.Attempts = attempts
	return &job, nil
}

// Ack removes a settled job from the durable log.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM ingest_jobs WHERE id = $1`, jobID); err != nil {
		return &core.StorageError{Op: "ack", Err: err}
	}
	return nil
}

// Nack schedules redelivery after an exponential, attempt-scaled backoff
// (30s, 60s, 120s, ... capped at 10 minutes).
func (q *Queue) Nack(ctx context.Context, jobID string, attempt int) error {
	backoff := 30 * time.Second
	for i := 1; i < attempt && backoff < 10*time.Minute; i++ {
		backoff *= 2
	}
	if backoff > 10*time.Minute {
		backoff = 10 * time.Minute
	}

	const upd = `UPDATE ingest_jobs SET visible_at = now() + $2::interval WHERE id = $1`
	delay := fmt.Sprintf("%d seconds", int(backoff.Seconds()))
	if _, err := q.db.ExecContext(ctx, upd, jobID, delay); err != nil {
		return &core.StorageError{Op: "nack", Err: err}
	}
	return nil
}
