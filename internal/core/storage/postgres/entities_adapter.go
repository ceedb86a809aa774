package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

// EntityAdapter implements storage.EntityStore and storage.Directory for
// PostgreSQL. The workflow engine's compare-and-set write and the audit
// append both go through here.
type EntityAdapter struct {
	db *sql.DB
}

func NewEntityAdapter(db *sql.DB) *EntityAdapter {
	return &EntityAdapter{db: db}
}

func (a *EntityAdapter) FindEntity(ctx context.Context, kind v1.RefKind, id string) (*v1.Entity, error) {
	entity := v1.Entity{Kind: kind}
	err := a.db.QueryRowContext(ctx, queryFindEntity, string(kind), id).
		Scan(&entity.ID, &entity.State, &entity.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %s: %w", kind, id, err)
	}
	return &entity, nil
}

// ApplyTransition runs the guarded state UPDATE and the audit INSERT inside
// one transaction so a failed audit write rolls the state back. Zero affected
// rows on the UPDATE means a concurrent transition already moved the entity
// (or it vanished): storage.ErrStateConflict.
func (a *EntityAdapter) ApplyTransition(ctx context.Context, kind v1.RefKind, id, fromState, toState string, entry *v1.AuditEntry) error {
	metadataJSON, err := marshalJSONMap(entry.Metadata)
	if err != nil {
		return err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transition tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, queryUpdateEntityState,
		string(kind), id, fromState, toState, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update %s %s state: %w", kind, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrStateConflict
	}

	_, err = tx.ExecContext(ctx, queryAppendAudit,
		entry.ID,
		string(entry.EntityKind),
		entry.EntityID,
		entry.Event,
		entry.FromState,
		entry.ToState,
		entry.ActorID,
		entry.Reason,
		metadataJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}
	return nil
}

func (a *EntityAdapter) ListAudit(ctx context.Context, kind v1.RefKind, id string, limit int) ([]*v1.AuditEntry, error) {
	rows, err := a.db.QueryContext(ctx, queryListAudit, string(kind), id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit trail: %w", err)
	}
	defer rows.Close()

	var entries []*v1.AuditEntry
	for rows.Next() {
		var entry v1.AuditEntry
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.EntityKind,
			&entry.EntityID,
			&entry.Event,
			&entry.FromState,
			&entry.ToState,
			&entry.ActorID,
			&entry.Reason,
			&metadataJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (a *EntityAdapter) FindUser(ctx context.Context, id string) (*v1.User, error) {
	var user v1.User
	var email, phone, telegramChatID, accountID sql.NullString
	err := a.db.QueryRowContext(ctx, queryFindUser, id).Scan(
		&user.ID,
		&user.Name,
		&email,
		&phone,
		&telegramChatID,
		&accountID,
		&user.State,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", id, err)
	}
	user.Email = email.String
	user.Phone = phone.String
	user.TelegramChatID = telegramChatID.String
	user.AccountID = accountID.String
	return &user, nil
}

func (a *EntityAdapter) FindListing(ctx context.Context, id string) (*v1.Listing, error) {
	var listing v1.Listing
	var accountID sql.NullString
	err := a.db.QueryRowContext(ctx, queryFindListing, id).Scan(
		&listing.ID,
		&listing.OwnerUserID,
		&accountID,
		&listing.Title,
		&listing.State,
		&listing.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find listing %s: %w", id, err)
	}
	listing.AccountID = accountID.String
	return &listing, nil
}

func (a *EntityAdapter) FindAccount(ctx context.Context, id string) (*v1.Account, error) {
	var account v1.Account
	err := a.db.QueryRowContext(ctx, queryFindAccount, id).Scan(
		&account.ID,
		&account.OwnerUserID,
		&account.Name,
		&account.State,
		&account.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account %s: %w", id, err)
	}
	return &account, nil
}
