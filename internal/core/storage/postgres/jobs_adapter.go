package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
)

// JobAdapter implements storage.JobStore and storage.NotificationStore for
// PostgreSQL: the durable delayed-delivery queue plus the in-app inbox.
type JobAdapter struct {
	db *sql.DB
}

func NewJobAdapter(db *sql.DB) *JobAdapter {
	return &JobAdapter{db: db}
}

func (a *JobAdapter) EnqueueJob(ctx context.Context, job *v1.DeliveryJob) error {
	variablesJSON, err := marshalJSONMap(job.Variables)
	if err != nil {
		return err
	}

	if job.Status == "" {
		job.Status = v1.JobPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err = a.db.ExecContext(ctx, queryEnqueueJob,
		job.ID,
		string(job.Channel),
		job.RecipientUserID,
		job.Destination,
		job.TemplateID,
		job.Subject,
		job.Content,
		variablesJSON,
		job.EventID,
		job.RunAt,
		job.Status,
		job.Attempts,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery job: %w", err)
	}

	return nil
}

// ClaimDueJobs atomically flips due pending jobs to RUNNING and returns them.
// FOR UPDATE SKIP LOCKED keeps concurrent pollers from claiming the same job.
func (a *JobAdapter) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*v1.DeliveryJob, error) {
	rows, err := a.db.QueryContext(ctx, queryClaimDueJobs, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*v1.DeliveryJob
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (a *JobAdapter) CompleteJob(ctx context.Context, id string) error {
	if _, err := a.db.ExecContext(ctx, queryCompleteJob, id); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return nil
}

// FailJob records a failed attempt. A non-nil retryAt reschedules the job as
// pending; nil marks it permanently failed.
func (a *JobAdapter) FailJob(ctx context.Context, id string, lastError string, retryAt *time.Time) error {
	if retryAt == nil {
		if _, err := a.db.ExecContext(ctx, queryFailJobFinal, id, lastError); err != nil {
			return fmt.Errorf("failed to mark job %s failed: %w", id, err)
		}
		return nil
	}

	if _, err := a.db.ExecContext(ctx, queryFailJobRetry, id, lastError, *retryAt); err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", id, err)
	}
	return nil
}

func (a *JobAdapter) SaveNotification(ctx context.Context, n *v1.InAppNotification) error {
	variablesJSON, err := marshalJSONMap(n.Variables)
	if err != nil {
		return err
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err = a.db.ExecContext(ctx, querySaveNotification,
		n.ID,
		n.UserID,
		n.TemplateID,
		n.Subject,
		n.Content,
		variablesJSON,
		n.EventID,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save in-app notification: %w", err)
	}

	return nil
}
