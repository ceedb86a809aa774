package v1

import "time"

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelTelegram Channel = "telegram"
	// ChannelInApp delivers inside the platform (browser/in-app inbox).
	// It is the default when a rule does not name channels explicitly.
	ChannelInApp Channel = "in-app"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelTelegram, ChannelInApp:
		return true
	}
	return false
}

// Delivery-job lifecycle states.
const (
	JobPending = "PENDING"
	JobRunning = "RUNNING"
	JobDone    = "DONE"
	JobFailed  = "FAILED"
)

// DeliveryJob is one durable delayed delivery: a single channel send scheduled
// for a future time. A notification request with N resolvable channels and a
// positive delay produces N jobs, each tagged with the originating event id.
type DeliveryJob struct {
	ID              string            `json:"id"`
	Channel         Channel           `json:"channel"`
	RecipientUserID string            `json:"recipient_user_id"`
	Destination     string            `json:"destination"`
	TemplateID      string            `json:"template_id,omitempty"`
	Subject         string            `json:"subject,omitempty"`
	Content         string            `json:"content,omitempty"`
	Variables       map[string]string `json:"variables,omitempty"`
	EventID         string            `json:"event_id,omitempty"`
	RunAt           time.Time         `json:"run_at"`
	Status          string            `json:"status"`
	Attempts        int               `json:"attempts"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// InAppNotification is a delivered in-app message. The in-app channel has no
// external address: the recipient user id is the delivery key.
type InAppNotification struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	TemplateID string            `json:"template_id,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Content    string            `json:"content,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	EventID    string            `json:"event_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
