package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Job states as seen by the status endpoint. The broker owns retries, so
// a job flips back to active on redelivery without a distinct state here.
const (
	JobStatusWaiting   = "waiting"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobStatus is one row of the batch status view clients poll after a
// stream reconnect.
type JobStatus struct {
	JobID     string    `json:"jobId"`
	WalletID  uuid.UUID `json:"walletId"`
	UserID    string    `json:"userId"`
	JobType   string    `json:"jobType"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// JobStatusStore persists sync-job state transitions. Live stream events
// are best-effort; these rows are the authoritative record a client can
// always fall back to.
type JobStatusStore struct {
	db *sql.DB
}

func NewJobStatusStore(db *sql.DB) *JobStatusStore {
	return &JobStatusStore{db: db}
}

// MarkWaiting records a freshly enqueued job.
func (s *JobStatusStore) MarkWaiting(ctx context.Context, jobID string, walletID uuid.UUID, userID, jobType string) error {
	return s.upsert(ctx, jobID, walletID, userID, jobType, JobStatusWaiting, "")
}

// MarkActive records pickup by a worker. Called on every delivery, so a
// retried job flips from failed back to active.
func (s *JobStatusStore) MarkActive(ctx context.Context, jobID string, walletID uuid.UUID, userID, jobType string) error {
	return s.upsert(ctx, jobID, walletID, userID, jobType, JobStatusActive, "")
}

func (s *JobStatusStore) MarkCompleted(ctx context.Context, jobID string) error {
	return s.setStatus(ctx, jobID, JobStatusCompleted, "")
}

func (s *JobStatusStore) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return s.setStatus(ctx, jobID, JobStatusFailed, reason)
}

func (s *JobStatusStore) upsert(ctx context.Context, jobID string, walletID uuid.UUID, userID, jobType, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_jobs (job_id, wallet_id, user_id, job_type, status, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id) DO UPDATE SET
			status     = EXCLUDED.status,
			error      = EXCLUDED.error,
			updated_at = NOW()
	`, jobID, walletID, userID, jobType, status, errMsg)
	if err != nil {
		return fmt.Errorf("upsert job %s: %w", jobID, err)
	}
	return nil
}

func (s *JobStatusStore) setStatus(ctx context.Context, jobID, status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = $2, error = $3, updated_at = NOW()
		WHERE job_id = $1
	`, jobID, status, errMsg)
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", jobID, status, err)
	}
	return nil
}

// ListByWallets returns the most recent job per wallet for the batch
// status endpoint.
func (s *JobStatusStore) ListByWallets(ctx context.Context, walletIDs []uuid.UUID) ([]*JobStatus, error) {
	if len(walletIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT ON (wallet_id)
			job_id, wallet_id, user_id, job_type, status, error, updated_at
		FROM sync_jobs
		WHERE wallet_id = ANY($1)
		ORDER BY wallet_id, updated_at DESC
	`, pq.Array(walletIDs))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*JobStatus
	for rows.Next() {
		j := &JobStatus{}
		if err := rows.Scan(&j.JobID, &j.WalletID, &j.UserID, &j.JobType, &j.Status, &j.Error, &j.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// PruneFinished trims finished job rows down to the newest keepCompleted
// completed and keepFailed failed entries. Driven by the maintenance
// queue, so sync_jobs stays a short recent-history table rather than an
// audit log.
func (s *JobStatusStore) PruneFinished(ctx context.Context, keepCompleted, keepFailed int) (int64, error) {
	var total int64
	retention := []struct {
		status string
		keep   int
	}{
		{JobStatusCompleted, keepCompleted},
		{JobStatusFailed, keepFailed},
	}
	for _, r := range retention {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM sync_jobs
			WHERE job_id IN (
				SELECT job_id FROM sync_jobs
				WHERE status = $1
				ORDER BY updated_at DESC
				OFFSET $2
			)
		`, r.status, r.keep)
		if err != nil {
			return total, fmt.Errorf("prune %s jobs: %w", r.status, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
