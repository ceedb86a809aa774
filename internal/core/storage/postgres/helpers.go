package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"

	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// marshalJSONMap marshals a map field to JSON bytes.
// Nil or empty maps produce nil (SQL NULL) rather than a JSON "null" string.
func marshalJSONMap[V any](m map[string]V) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map field: %w", err)
	}
	return data, nil
}

// scanEventRow scans a database row into an Event struct.
// Handles JSON unmarshalling for the payload and null subject/actor columns.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
func scanEventRow(row scanner) (*v1.Event, error) {
	var evt v1.Event
	var payloadJSON []byte
	var subjectKind, subjectID, actorKind, actorID sql.NullString

	err := row.Scan(
		&evt.ID,
		&evt.Source,
		&evt.Module,
		&evt.Type,
		&subjectKind,
		&subjectID,
		&actorKind,
		&actorID,
		&evt.CorrelationID,
		&payloadJSON,
		&evt.CreatedAt,
		&evt.Seq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}

	evt.Subject = v1.Ref{Kind: v1.RefKind(subjectKind.String), ID: subjectID.String}
	evt.Actor = v1.Ref{Kind: v1.RefKind(actorKind.String), ID: actorID.String}

	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &evt.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	return &evt, nil
}

// nullIfEmpty converts "" to SQL NULL for optional reference columns.
func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanJobRow scans a database row into a DeliveryJob.
func scanJobRow(row scanner) (*v1.DeliveryJob, error) {
	var job v1.DeliveryJob
	var variablesJSON []byte
	var lastError sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Channel,
		&job.RecipientUserID,
		&job.Destination,
		&job.TemplateID,
		&job.Subject,
		&job.Content,
		&variablesJSON,
		&job.EventID,
		&job.RunAt,
		&job.Status,
		&job.Attempts,
		&lastError,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan delivery job row: %w", err)
	}

	job.LastError = lastError.String

	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &job.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job variables: %w", err)
		}
	}

	return &job, nil
}
