package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
)

// InAppSender delivers to the platform's in-app inbox. No external address:
// the recipient user id is the delivery key.
type InAppSender struct {
	store storage.NotificationStore
}

func NewInAppSender(store storage.NotificationStore) *InAppSender {
	return &InAppSender{store: store}
}

func (s *InAppSender) Channel() v1.Channel { return v1.ChannelInApp }

func (s *InAppSender) Send(ctx context.Context, d Delivery) error {
	return s.store.SaveNotification(ctx, &v1.InAppNotification{
		ID:         uuid.NewString(),
		UserID:     d.Destination,
		TemplateID: d.TemplateID,
		Subject:    d.Subject,
		Content:    d.Content,
		Variables:  d.Variables,
		EventID:    d.EventID,
	})
}

// GatewaySender posts deliveries to an external channel gateway (mailer, SMS
// provider bridge, telegram bot relay) as JSON webhooks. One instance per
// channel, each with its own endpoint.
type GatewaySender struct {
	channel  v1.Channel
	endpoint string
	client   *http.Client
}

func NewGatewaySender(channel v1.Channel, endpoint string) *GatewaySender {
	return &GatewaySender{
		channel:  channel,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *GatewaySender) Channel() v1.Channel { return s.channel }

func (s *GatewaySender) Send(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(map[string]interface{}{
		"channel":     string(d.Channel),
		"destination": d.Destination,
		"template_id": d.TemplateID,
		"subject":     d.Subject,
		"content":     d.Content,
		"variables":   d.Variables,
		"event_id":    d.EventID,
	})
	if err != nil {
		return fmt.Errorf("marshal %s delivery: %w", s.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s gateway request: %w", s.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s gateway: %w", s.channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s gateway returned %d", s.channel, resp.StatusCode)
	}

	return nil
}
