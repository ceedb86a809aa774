package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

// fakeEntityStore is an in-memory storage.EntityStore with the same CAS and
// all-or-nothing transition semantics as the postgres adapter.
type fakeEntityStore struct {
	states map[string]string // kind/id -> state
	audit  []*v1.AuditEntry

	failUpdate error
	failAudit  error
}

func newFakeEntityStore() *fakeEntityStore {
	return &fakeEntityStore{states: make(map[string]string)}
}

func (f *fakeEntityStore) key(kind v1.RefKind, id string) string {
	return string(kind) + "/" + id
}

func (f *fakeEntityStore) set(kind v1.RefKind, id, state string) {
	f.states[f.key(kind, id)] = state
}

func (f *fakeEntityStore) FindEntity(_ context.Context, kind v1.RefKind, id string) (*v1.Entity, error) {
	state, ok := f.states[f.key(kind, id)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v1.Entity{Kind: kind, ID: id, State: state, UpdatedAt: time.Now()}, nil
}

func (f *fakeEntityStore) ApplyTransition(_ context.Context, kind v1.RefKind, id, fromState, toState string, entry *v1.AuditEntry) error {
	if f.failUpdate != nil {
		return f.failUpdate
	}
	if f.failAudit != nil {
		return f.failAudit
	}
	if f.states[f.key(kind, id)] != fromState {
		return storage.ErrStateConflict
	}
	f.states[f.key(kind, id)] = toState
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeEntityStore) ListAudit(_ context.Context, kind v1.RefKind, id string, limit int) ([]*v1.AuditEntry, error) {
	var out []*v1.AuditEntry
	for i := len(f.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if f.audit[i].EntityKind == kind && f.audit[i].EntityID == id {
			out = append(out, f.audit[i])
		}
	}
	return out, nil
}

func TestEngine_Transition(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindUser, "U1", v1.UserActive)
	engine := NewEngine(store, nil)

	entity, err := engine.Transition(context.Background(), Request{
		Kind:     v1.KindUser,
		EntityID: "U1",
		Event:    EventBlock,
		ActorID:  "system",
		Reason:   "Автоматическая блокировка по правилам",
		Metadata: map[string]string{"triggeredBy": "rules-engine"},
	})
	require.NoError(t, err)
	require.Equal(t, v1.UserBlocked, entity.State)

	require.Len(t, store.audit, 1, "exactly one audit entry per transition")
	entry := store.audit[0]
	require.NotEmpty(t, entry.ID)
	require.Equal(t, v1.KindUser, entry.EntityKind)
	require.Equal(t, "U1", entry.EntityID)
	require.Equal(t, EventBlock, entry.Event)
	require.Equal(t, v1.UserActive, entry.FromState)
	require.Equal(t, v1.UserBlocked, entry.ToState)
	require.Equal(t, "system", entry.ActorID)
	require.Equal(t, "Автоматическая блокировка по правилам", entry.Reason)
	require.Equal(t, "rules-engine", entry.Metadata["triggeredBy"])
}

func TestEngine_InvalidTransitionLeavesEntityUnchanged(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindUser, "U1", v1.UserBlocked)
	engine := NewEngine(store, nil)

	_, err := engine.Transition(context.Background(), Request{
		Kind:     v1.KindUser,
		EntityID: "U1",
		Event:    EventBlock, // BLOCKED has no BLOCK
		ActorID:  "admin-7",
	})
	require.ErrorIs(t, err, ErrInvalidTransition)

	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	require.Equal(t, v1.UserBlocked, ite.State)
	require.Equal(t, EventBlock, ite.Event)

	require.Equal(t, v1.UserBlocked, store.states["user/U1"], "state unchanged on failure")
	require.Empty(t, store.audit, "no audit entry on failure")
}

func TestEngine_AccountActivateFromActiveIsInvalid(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindAccount, "A1", v1.AccountActive)
	engine := NewEngine(store, nil)

	_, err := engine.Transition(context.Background(), Request{
		Kind:     v1.KindAccount,
		EntityID: "A1",
		Event:    EventActivate,
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, v1.AccountActive, store.states["account/A1"])
}

func TestEngine_AccountLifecycle(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindAccount, "A1", v1.AccountActive)
	engine := NewEngine(store, nil)
	ctx := context.Background()

	steps := []struct {
		event string
		want  string
	}{
		{EventSuspend, v1.AccountSuspended},
		{EventActivate, v1.AccountActive},
		{EventSuspend, v1.AccountSuspended},
		{EventArchive, v1.AccountArchived},
		{EventActivate, v1.AccountActive},
	}

	for _, step := range steps {
		entity, err := engine.Transition(ctx, Request{
			Kind:     v1.KindAccount,
			EntityID: "A1",
			Event:    step.event,
			ActorID:  "system",
		})
		require.NoError(t, err, "event %s", step.event)
		require.Equal(t, step.want, entity.State)
	}

	require.Len(t, store.audit, len(steps))
}

func TestEngine_ListingOnlyArchives(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindListing, "L1", v1.ListingActive)
	engine := NewEngine(store, nil)
	ctx := context.Background()

	_, err := engine.Transition(ctx, Request{Kind: v1.KindListing, EntityID: "L1", Event: EventBlock})
	require.ErrorIs(t, err, ErrInvalidTransition)

	entity, err := engine.Transition(ctx, Request{Kind: v1.KindListing, EntityID: "L1", Event: EventArchive})
	require.NoError(t, err)
	require.Equal(t, v1.ListingArchived, entity.State)

	// archived is terminal
	_, err = engine.Transition(ctx, Request{Kind: v1.KindListing, EntityID: "L1", Event: EventArchive})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_UnknownKindAndMissingEntity(t *testing.T) {
	store := newFakeEntityStore()
	engine := NewEngine(store, nil)
	ctx := context.Background()

	_, err := engine.Transition(ctx, Request{Kind: "robot", EntityID: "R1", Event: EventBlock})
	require.ErrorIs(t, err, ErrUnknownEntityKind)

	_, err = engine.Transition(ctx, Request{Kind: v1.KindUser, EntityID: "ghost", Event: EventBlock})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = engine.Transition(ctx, Request{Kind: v1.KindUser, Event: EventBlock})
	require.Error(t, err)
}

func TestEngine_AuditFailureLeavesStateUnchanged(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindUser, "U1", v1.UserActive)
	store.failAudit = errors.New("audit insert failed")
	engine := NewEngine(store, nil)

	_, err := engine.Transition(context.Background(), Request{
		Kind:     v1.KindUser,
		EntityID: "U1",
		Event:    EventBlock,
		ActorID:  "system",
	})
	require.ErrorContains(t, err, "audit insert failed")
	require.Equal(t, v1.UserActive, store.states["user/U1"], "state rolled back with the audit write")
	require.Empty(t, store.audit)
}

func TestEngine_EntityLockIsStablePerEntity(t *testing.T) {
	engine := NewEngine(newFakeEntityStore(), nil)

	require.Same(t, engine.entityLock(v1.KindUser, "U1"), engine.entityLock(v1.KindUser, "U1"))

	// The lock set is a fixed array of stripes, not a growing map.
	require.Equal(t, lockStripes, len(engine.locks))
}

func TestEngine_StateConflictSurfaces(t *testing.T) {
	store := newFakeEntityStore()
	store.set(v1.KindUser, "U1", v1.UserActive)
	store.failUpdate = storage.ErrStateConflict
	engine := NewEngine(store, nil)

	_, err := engine.Transition(context.Background(), Request{
		Kind:     v1.KindUser,
		EntityID: "U1",
		Event:    EventBlock,
	})
	require.ErrorIs(t, err, storage.ErrStateConflict)
	require.Empty(t, store.audit)
}
