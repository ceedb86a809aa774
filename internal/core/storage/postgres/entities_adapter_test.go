package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

func newMockEntityAdapter(t *testing.T) (*EntityAdapter, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewEntityAdapter(db), mock, db
}

func TestEntityAdapter_FindEntity(t *testing.T) {
	adapter, mock, db := newMockEntityAdapter(t)
	defer db.Close()

	updatedAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryFindEntity)).
		WithArgs("user", "U1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "updated_at"}).
			AddRow("U1", v1.UserActive, updatedAt))

	entity, err := adapter.FindEntity(context.Background(), v1.KindUser, "U1")
	require.NoError(t, err)
	require.Equal(t, v1.KindUser, entity.Kind)
	require.Equal(t, v1.UserActive, entity.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityAdapter_FindEntity_NotFound(t *testing.T) {
	adapter, mock, db := newMockEntityAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryFindEntity)).
		WithArgs("user", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "state", "updated_at"}))

	_, err := adapter.FindEntity(context.Background(), v1.KindUser, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func blockAuditEntry(createdAt time.Time) *v1.AuditEntry {
	return &v1.AuditEntry{
		ID:         "a1",
		EntityKind: v1.KindUser,
		EntityID:   "U1",
		Event:      "BLOCK",
		FromState:  v1.UserActive,
		ToState:    v1.UserBlocked,
		ActorID:    "system",
		Reason:     "Автоматическая блокировка по правилам",
		Metadata:   map[string]string{"triggeredBy": "rules-engine"},
		CreatedAt:  createdAt,
	}
}

func expectAuditInsert(mock sqlmock.Sqlmock, entry *v1.AuditEntry) *sqlmock.ExpectedExec {
	return mock.ExpectExec(regexp.QuoteMeta(queryAppendAudit)).
		WithArgs(
			entry.ID, "user", entry.EntityID, entry.Event,
			entry.FromState, entry.ToState, entry.ActorID, entry.Reason,
			[]byte(`{"triggeredBy":"rules-engine"}`), entry.CreatedAt,
		)
}

func TestEntityAdapter_ApplyTransition(t *testing.T) {
	createdAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	t.Run("state update and audit commit together", func(t *testing.T) {
		adapter, mock, db := newMockEntityAdapter(t)
		defer db.Close()

		entry := blockAuditEntry(createdAt)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(queryUpdateEntityState)).
			WithArgs("user", "U1", v1.UserActive, v1.UserBlocked, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAuditInsert(mock, entry).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := adapter.ApplyTransition(context.Background(), v1.KindUser, "U1", v1.UserActive, v1.UserBlocked, entry)
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero rows means state conflict and rollback", func(t *testing.T) {
		adapter, mock, db := newMockEntityAdapter(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(queryUpdateEntityState)).
			WithArgs("user", "U1", v1.UserActive, v1.UserBlocked, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := adapter.ApplyTransition(context.Background(), v1.KindUser, "U1", v1.UserActive, v1.UserBlocked, blockAuditEntry(createdAt))
		require.ErrorIs(t, err, storage.ErrStateConflict)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("audit failure rolls the state update back", func(t *testing.T) {
		adapter, mock, db := newMockEntityAdapter(t)
		defer db.Close()

		entry := blockAuditEntry(createdAt)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(queryUpdateEntityState)).
			WithArgs("user", "U1", v1.UserActive, v1.UserBlocked, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAuditInsert(mock, entry).
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := adapter.ApplyTransition(context.Background(), v1.KindUser, "U1", v1.UserActive, v1.UserBlocked, entry)
		require.ErrorContains(t, err, "failed to append audit entry")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEntityAdapter_ListAudit(t *testing.T) {
	adapter, mock, db := newMockEntityAdapter(t)
	defer db.Close()

	createdAt := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	entry := blockAuditEntry(createdAt)

	mock.ExpectQuery(regexp.QuoteMeta(queryListAudit)).
		WithArgs("user", "U1", 50).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "entity_kind", "entity_id", "event",
			"from_state", "to_state", "actor_id", "reason", "metadata", "created_at",
		}).AddRow(
			"a1", "user", "U1", "BLOCK",
			v1.UserActive, v1.UserBlocked, "system", entry.Reason,
			[]byte(`{"triggeredBy":"rules-engine"}`), createdAt,
		)).RowsWillBeClosed()

	entries, err := adapter.ListAudit(context.Background(), v1.KindUser, "U1", 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "BLOCK", entries[0].Event)
	require.Equal(t, "rules-engine", entries[0].Metadata["triggeredBy"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityAdapter_FindUser(t *testing.T) {
	adapter, mock, db := newMockEntityAdapter(t)
	defer db.Close()

	createdAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(queryFindUser)).
		WithArgs("U1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "email", "phone", "telegram_chat_id", "account_id", "state", "created_at",
		}).AddRow("U1", "Ivan", "ivan@example.com", nil, nil, "A1", v1.UserActive, createdAt))

	user, err := adapter.FindUser(context.Background(), "U1")
	require.NoError(t, err)
	require.Equal(t, "ivan@example.com", user.Email)
	require.Empty(t, user.Phone, "null contact columns scan to empty strings")
	require.Equal(t, "A1", user.AccountID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntityAdapter_FindUser_NotFound(t *testing.T) {
	adapter, mock, db := newMockEntityAdapter(t)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(queryFindUser)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "email", "phone", "telegram_chat_id", "account_id", "state", "created_at",
		}))

	_, err := adapter.FindUser(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
