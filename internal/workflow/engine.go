package workflow

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

// ErrInvalidTransition is returned when the requested event is not defined
// for the entity's current state. The entity and its audit trail are left
// unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrUnknownEntityKind is returned for a kind with no registered machine.
var ErrUnknownEntityKind = errors.New("no state machine for entity kind")

// InvalidTransitionError carries the context callers log on rejection.
type InvalidTransitionError struct {
	Kind     v1.RefKind
	EntityID string
	State    string
	Event    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s %s in state %s has no %s", e.Kind, e.EntityID, e.State, e.Event)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Request asks for one validated state change.
type Request struct {
	Kind     v1.RefKind
	EntityID string
	Event    string
	ActorID  string
	Reason   string
	Metadata map[string]string
}

// lockStripes bounds the per-entity lock set. Two entities hashing to the
// same stripe serialize against each other, which is harmless.
const lockStripes = 256

// Engine executes workflow transitions. It is the single entry point through
// which entity state is mutated: validates the transition against the kind's
// machine, then applies the state write and audit append as one atomic store
// operation.
//
// Concurrency: a striped per-entity mutex serializes the read-then-write
// within this process; the CAS guard in the store catches races the mutex
// cannot see (other processes). Callers that may re-trigger the same
// transition for the same entity within a short window must de-duplicate
// upstream, e.g. via the originating event id.
type Engine struct {
	store    storage.EntityStore
	machines map[v1.RefKind]*Machine
	locks    [lockStripes]sync.Mutex
}

func NewEngine(store storage.EntityStore, machines map[v1.RefKind]*Machine) *Engine {
	if store == nil {
		panic("workflow: store must not be nil")
	}
	if machines == nil {
		machines = StandardMachines()
	}
	return &Engine{
		store:    store,
		machines: machines,
	}
}

// Transition validates and executes one state change, returning the updated
// entity. On any failure the entity state and audit trail are unchanged.
func (e *Engine) Transition(ctx context.Context, req Request) (*v1.Entity, error) {
	machine, ok := e.machines[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityKind, req.Kind)
	}
	if req.EntityID == "" {
		return nil, fmt.Errorf("entity id is required")
	}

	lock := e.entityLock(req.Kind, req.EntityID)
	lock.Lock()
	defer lock.Unlock()

	entity, err := e.store.FindEntity(ctx, req.Kind, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", req.Kind, req.EntityID, err)
	}

	target, ok := machine.Target(entity.State, req.Event)
	if !ok {
		return nil, &InvalidTransitionError{
			Kind:     req.Kind,
			EntityID: req.EntityID,
			State:    entity.State,
			Event:    req.Event,
		}
	}

	entry := &v1.AuditEntry{
		ID:         uuid.NewString(),
		EntityKind: req.Kind,
		EntityID:   req.EntityID,
		Event:      req.Event,
		FromState:  entity.State,
		ToState:    target,
		ActorID:    req.ActorID,
		Reason:     req.Reason,
		Metadata:   req.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.ApplyTransition(ctx, req.Kind, req.EntityID, entity.State, target, entry); err != nil {
		return nil, fmt.Errorf("apply transition %s for %s %s: %w", req.Event, req.Kind, req.EntityID, err)
	}

	slog.Info("[Workflow] Transition executed",
		"kind", req.Kind,
		"entity_id", req.EntityID,
		"event", req.Event,
		"from", entity.State,
		"to", target,
		"actor_id", req.ActorID,
	)

	entity.State = target
	entity.UpdatedAt = entry.CreatedAt
	return entity, nil
}

func (e *Engine) entityLock(kind v1.RefKind, id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(kind))
	h.Write([]byte{'/'})
	h.Write([]byte(id))
	return &e.locks[h.Sum32()%lockStripes]
}
