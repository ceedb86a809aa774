package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
)

// ErrDuplicate is returned when an event with the same id already exists.
var ErrDuplicate = errors.New("event already exists")

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrStateConflict is returned by ApplyTransition when the entity's stored
// state no longer matches the expected state: a concurrent transition won the
// race.
var ErrStateConflict = errors.New("entity state changed concurrently")

// EventStore defines the interface for the append-only domain event log.
type EventStore interface {
	// RecordEvent appends an event and assigns its Seq.
	RecordEvent(ctx context.Context, event *v1.Event) error

	// RetrieveEventsAfterCursor fetches events after a cursor (seq) in strict
	// total order. cursor=0 means "from the beginning".
	RetrieveEventsAfterCursor(ctx context.Context, cursor int64, limit int) ([]*v1.Event, error)

	// CountSubjectEvents counts events of one type family concerning a subject
	// since the given time. Backs threshold facts such as report counts.
	CountSubjectEvents(ctx context.Context, typePrefix string, subject v1.Ref, since time.Time) (int64, error)
}

// EntityStore defines the workflow engine's persistence operations: state
// reads, atomic transitions, and the audit trail.
type EntityStore interface {
	FindEntity(ctx context.Context, kind v1.RefKind, id string) (*v1.Entity, error)

	// ApplyTransition atomically sets the entity's state and appends the audit
	// entry; either both are persisted or neither. The state write is guarded:
	// it applies only if the stored state still equals fromState, and the whole
	// transition returns ErrStateConflict when the guard fails.
	ApplyTransition(ctx context.Context, kind v1.RefKind, id, fromState, toState string, entry *v1.AuditEntry) error

	// ListAudit returns the newest audit entries for one entity.
	ListAudit(ctx context.Context, kind v1.RefKind, id string, limit int) ([]*v1.AuditEntry, error)
}

// Directory resolves full entity records: fact enrichment providers and the
// notification dispatcher's recipient/destination lookups both read from it.
type Directory interface {
	FindUser(ctx context.Context, id string) (*v1.User, error)
	FindListing(ctx context.Context, id string) (*v1.Listing, error)
	FindAccount(ctx context.Context, id string) (*v1.Account, error)
}

// JobStore defines the durable delayed-delivery queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job *v1.DeliveryJob) error

	// ClaimDueJobs atomically marks due pending jobs as running and returns them.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*v1.DeliveryJob, error)

	CompleteJob(ctx context.Context, id string) error

	// FailJob records a failed attempt. A non-nil retryAt reschedules the job;
	// nil marks it permanently failed.
	FailJob(ctx context.Context, id string, lastError string, retryAt *time.Time) error
}

// NotificationStore persists in-app deliveries.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n *v1.InAppNotification) error
}
