package v1

import (
	"fmt"
	"time"
)

// RefKind identifies which entity family a subject or actor reference points at.
// The pipeline switches exhaustively on this type: adding a new kind forces the
// fact builder and the action dispatcher to handle it.
type RefKind string

const (
	KindUser    RefKind = "user"
	KindListing RefKind = "listing"
	KindAccount RefKind = "account"
	KindSystem  RefKind = "system"
)

// Valid reports whether k is one of the known reference kinds.
func (k RefKind) Valid() bool {
	switch k {
	case KindUser, KindListing, KindAccount, KindSystem:
		return true
	}
	return false
}

// Ref identifies one entity: the subject an event concerns, or the actor that
// caused it. The zero value means "no reference".
type Ref struct {
	Kind RefKind `json:"kind,omitempty"`
	ID   string  `json:"id,omitempty"`
}

// IsZero reports whether the reference is absent.
func (r Ref) IsZero() bool {
	return r.Kind == "" && r.ID == ""
}

// Event is the atomic unit of the pipeline.
// It separates the "Envelope" (System Attributes) from the "Letter" (Payload).
type Event struct {
	// --- System Attributes (The Envelope) ---

	// ID is the unique immutable identifier provided by the producing subsystem.
	ID string `json:"id"`

	// Source names the producing subsystem (e.g., "admin-api", "moderation").
	Source string `json:"source"`

	// Module is the functional area within the source (e.g., "reports", "billing").
	Module string `json:"module,omitempty"`

	// Type is the domain-specific event name (e.g., "user.report", "listing.created").
	// The fact-builder allow-list and rule matching key off this field.
	Type string `json:"type"`

	// Subject identifies the entity the event concerns. Optional.
	Subject Ref `json:"subject,omitempty"`

	// Actor identifies who caused the event. Optional.
	Actor Ref `json:"actor,omitempty"`

	// CorrelationID links a causal chain of events and automated actions.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CreatedAt is when the event was recorded by the event log.
	CreatedAt time.Time `json:"created_at"`

	// Seq is a monotonic sequence number assigned on record.
	// Set by database (BIGSERIAL), not exposed in the public API.
	Seq int64 `json:"-"`

	// --- Domain Payload (The Letter) ---

	// Payload is the free-form domain data attached to the event.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Validate ensures the event has all required envelope attributes.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if e.Source == "" {
		return fmt.Errorf("source is required")
	}

	if e.Type == "" {
		return fmt.Errorf("type is required")
	}

	if !e.Subject.IsZero() && !e.Subject.Kind.Valid() {
		return fmt.Errorf("unknown subject kind %q", e.Subject.Kind)
	}

	if !e.Actor.IsZero() && !e.Actor.Kind.Valid() {
		return fmt.Errorf("unknown actor kind %q", e.Actor.Kind)
	}

	return nil
}
