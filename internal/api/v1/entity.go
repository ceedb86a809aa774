package v1

import "time"

// Workflow states per entity kind. Each entity carries exactly one
// authoritative state field, mutated only through the workflow engine.
const (
	// user
	UserActive    = "ACTIVE"
	UserBlocked   = "BLOCKED"
	UserSuspended = "SUSPENDED"
	UserArchived  = "ARCHIVED"

	// listing
	ListingDraft      = "DRAFT"
	ListingActive     = "ACTIVE"
	ListingOnRevision = "ON_REVISION"
	ListingArchived   = "ARCHIVED"

	// account
	AccountActive    = "ACTIVE"
	AccountSuspended = "SUSPENDED"
	AccountArchived  = "ARCHIVED"
)

// Entity is the workflow engine's view of a stateful record: just enough to
// validate and execute a transition. Full records (User, Listing, Account)
// are loaded separately for fact enrichment and notification routing.
type Entity struct {
	Kind      RefKind   `json:"kind"`
	ID        string    `json:"id"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a platform user record as seen by this core: state plus the
// per-channel contact points the notification dispatcher resolves against.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	Phone          string    `json:"phone,omitempty"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty"`
	AccountID      string    `json:"account_id,omitempty"`
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
}

// Listing is a marketplace listing record.
type Listing struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	AccountID   string    `json:"account_id,omitempty"`
	Title       string    `json:"title"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// Account is a tenant/billing account record.
type Account struct {
	ID          string    `json:"id"`
	OwnerUserID string    `json:"owner_user_id"`
	Name        string    `json:"name"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuditEntry records one workflow transition. Exactly one entry is appended
// per successful transition; failed transitions write nothing.
type AuditEntry struct {
	ID         string            `json:"id"`
	EntityKind RefKind           `json:"entity_kind"`
	EntityID   string            `json:"entity_id"`
	Event      string            `json:"event"`
	FromState  string            `json:"from_state"`
	ToState    string            `json:"to_state"`
	ActorID    string            `json:"actor_id"`
	Reason     string            `json:"reason,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
