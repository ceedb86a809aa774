package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

// ErrRecipientUnresolved is returned when no resolution step yields a user.
var ErrRecipientUnresolved = errors.New("notification recipient unresolved")

// ErrNoDestination is returned when the recipient resolves but none of the
// requested channels has a destination on file.
var ErrNoDestination = errors.New("no channel destination for recipient")

// Request is one ephemeral notification request, constructed per rule result.
type Request struct {
	Channels        []v1.Channel
	RecipientUserID string // explicit recipient; overrides event-based resolution
	TemplateID      string
	Subject         string
	Content         string
	Variables       map[string]string
	Delay           time.Duration

	// Origin is the event that triggered the notification; recipient
	// resolution falls back to its subject and actor, and deliveries are
	// tagged with its id.
	Origin *v1.Event
}

// Delivery is one resolved per-channel send: the primitive both the immediate
// path and the delayed-queue poller execute.
type Delivery struct {
	Channel         v1.Channel
	RecipientUserID string
	Destination     string
	TemplateID      string
	Subject         string
	Content         string
	Variables       map[string]string
	EventID         string
}

// Result reports one channel's send outcome. Channels without a resolvable
// destination produce no result at all; they are skipped, not failed.
type Result struct {
	Channel     v1.Channel
	Destination string
	Success     bool
	Err         error
}

// JobHandle identifies one enqueued delayed delivery.
type JobHandle struct {
	JobID   string
	Channel v1.Channel
	RunAt   time.Time
}

// Sender delivers on one channel.
type Sender interface {
	Channel() v1.Channel
	Send(ctx context.Context, d Delivery) error
}

// Dispatcher resolves recipients and destinations, then sends immediately or
// enqueues for delayed delivery.
type Dispatcher struct {
	directory storage.Directory
	jobs      storage.JobStore
	senders   map[v1.Channel]Sender
}

func NewDispatcher(directory storage.Directory, jobs storage.JobStore, senders ...Sender) *Dispatcher {
	if directory == nil {
		panic("notify: directory must not be nil")
	}
	d := &Dispatcher{
		directory: directory,
		jobs:      jobs,
		senders:   make(map[v1.Channel]Sender, len(senders)),
	}
	for _, s := range senders {
		d.senders[s.Channel()] = s
	}
	return d
}

// Dispatch routes one request: positive delay enqueues durable jobs, zero
// delay sends across all resolved channels now. Unresolvable requests are
// dropped with a warning, never an error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) ([]Result, []JobHandle, error) {
	if req.Delay > 0 {
		handles, err := d.Enqueue(ctx, req)
		return nil, handles, err
	}
	return d.Send(ctx, []Request{req}), nil, nil
}

// Send dispatches requests immediately and returns one result per channel
// that had a resolvable destination. Individual channel failures are
// aggregated; they never abort sibling channels.
func (d *Dispatcher) Send(ctx context.Context, reqs []Request) []Result {
	var results []Result
	for _, req := range reqs {
		deliveries, err := d.resolve(ctx, req)
		if err != nil {
			d.logDrop(req, err)
			continue
		}

		for _, delivery := range deliveries {
			result := Result{Channel: delivery.Channel, Destination: delivery.Destination}
			if err := d.deliver(ctx, delivery); err != nil {
				result.Err = err
				slog.Error("[Notify] Channel send failed",
					"channel", delivery.Channel,
					"recipient_user_id", delivery.RecipientUserID,
					"event_id", delivery.EventID,
					"error", err,
				)
			} else {
				result.Success = true
			}
			results = append(results, result)
		}
	}

	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	slog.Info("[Notify] Dispatch complete", "succeeded", succeeded, "failed", failed)

	return results
}

// Enqueue builds one durable job per resolved channel and hands them to the
// delayed delivery queue, each tagged with the originating event id.
func (d *Dispatcher) Enqueue(ctx context.Context, req Request) ([]JobHandle, error) {
	if d.jobs == nil {
		return nil, fmt.Errorf("delayed delivery queue is not configured")
	}

	deliveries, err := d.resolve(ctx, req)
	if err != nil {
		d.logDrop(req, err)
		return nil, nil
	}

	runAt := time.Now().UTC().Add(req.Delay)
	var handles []JobHandle
	for _, delivery := range deliveries {
		job := &v1.DeliveryJob{
			ID:              uuid.NewString(),
			Channel:         delivery.Channel,
			RecipientUserID: delivery.RecipientUserID,
			Destination:     delivery.Destination,
			TemplateID:      delivery.TemplateID,
			Subject:         delivery.Subject,
			Content:         delivery.Content,
			Variables:       delivery.Variables,
			EventID:         delivery.EventID,
			RunAt:           runAt,
			Status:          v1.JobPending,
		}
		if err := d.jobs.EnqueueJob(ctx, job); err != nil {
			return handles, fmt.Errorf("enqueue %s delivery: %w", delivery.Channel, err)
		}
		handles = append(handles, JobHandle{JobID: job.ID, Channel: job.Channel, RunAt: runAt})
	}

	slog.Info("[Notify] Delayed deliveries enqueued",
		"jobs", len(handles),
		"run_at", runAt,
		"event_id", eventID(req.Origin),
	)

	return handles, nil
}

// Deliver executes one resolved channel send. The queue poller calls this for
// due jobs.
func (d *Dispatcher) Deliver(ctx context.Context, delivery Delivery) error {
	return d.deliver(ctx, delivery)
}

func (d *Dispatcher) deliver(ctx context.Context, delivery Delivery) error {
	sender, ok := d.senders[delivery.Channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", delivery.Channel)
	}
	return sender.Send(ctx, delivery)
}

// resolve determines the recipient and per-channel destinations for one
// request. Channels without a destination are skipped; a request where no
// channel resolves is dropped via ErrNoDestination.
func (d *Dispatcher) resolve(ctx context.Context, req Request) ([]Delivery, error) {
	recipientID, err := d.resolveRecipient(ctx, req)
	if err != nil {
		return nil, err
	}

	user, err := d.directory.FindUser(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("%w: user %s: %v", ErrRecipientUnresolved, recipientID, err)
	}

	channels := req.Channels
	if len(channels) == 0 {
		channels = []v1.Channel{v1.ChannelInApp}
	}

	var deliveries []Delivery
	for _, channel := range channels {
		destination, ok := destinationFor(user, channel)
		if !ok {
			slog.Debug("[Notify] Channel skipped, no destination on file",
				"channel", channel,
				"recipient_user_id", user.ID,
			)
			continue
		}
		deliveries = append(deliveries, Delivery{
			Channel:         channel,
			RecipientUserID: user.ID,
			Destination:     destination,
			TemplateID:      req.TemplateID,
			Subject:         req.Subject,
			Content:         req.Content,
			Variables:       req.Variables,
			EventID:         eventID(req.Origin),
		})
	}

	if len(deliveries) == 0 {
		return nil, ErrNoDestination
	}

	return deliveries, nil
}

// resolveRecipient applies the precedence chain: explicit user id → event
// subject if it is a user → owning user of a listing/account subject → event
// actor if it is a user → unresolved.
func (d *Dispatcher) resolveRecipient(ctx context.Context, req Request) (string, error) {
	if req.RecipientUserID != "" {
		return req.RecipientUserID, nil
	}

	origin := req.Origin
	if origin == nil {
		return "", ErrRecipientUnresolved
	}

	switch origin.Subject.Kind {
	case v1.KindUser:
		if origin.Subject.ID != "" {
			return origin.Subject.ID, nil
		}
	case v1.KindListing:
		if origin.Subject.ID != "" {
			listing, err := d.directory.FindListing(ctx, origin.Subject.ID)
			if err == nil && listing.OwnerUserID != "" {
				return listing.OwnerUserID, nil
			}
		}
	case v1.KindAccount:
		if origin.Subject.ID != "" {
			account, err := d.directory.FindAccount(ctx, origin.Subject.ID)
			if err == nil && account.OwnerUserID != "" {
				return account.OwnerUserID, nil
			}
		}
	}

	if origin.Actor.Kind == v1.KindUser && origin.Actor.ID != "" {
		return origin.Actor.ID, nil
	}

	return "", ErrRecipientUnresolved
}

func destinationFor(user *v1.User, channel v1.Channel) (string, bool) {
	switch channel {
	case v1.ChannelEmail:
		return user.Email, user.Email != ""
	case v1.ChannelSMS:
		return user.Phone, user.Phone != ""
	case v1.ChannelTelegram:
		return user.TelegramChatID, user.TelegramChatID != ""
	case v1.ChannelInApp:
		// The user id itself is the internal delivery key.
		return user.ID, true
	}
	return "", false
}

func (d *Dispatcher) logDrop(req Request, err error) {
	slog.Warn("[Notify] Request dropped",
		"reason", err,
		"recipient_user_id", req.RecipientUserID,
		"event_id", eventID(req.Origin),
	)
}

func eventID(origin *v1.Event) string {
	if origin == nil {
		return ""
	}
	return origin.ID
}
