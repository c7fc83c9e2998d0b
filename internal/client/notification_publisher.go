package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-ap-threeway/internal/repository"
)

// Claim event types
const (
	EventClaimSubmitted = "claim_submitted"
	EventClaimUpdated   = "claim_updated"
)

// NotificationPublisher publishes claim events to NATS for consumption by
// the notifications service.
//
// Subject convention: notifications.ap.<event_type>
//
// Publishing is best effort. Errors are logged and never returned, so a
// broker outage never fails a save.
type NotificationPublisher struct {
	publish func(subject string, data []byte) error
	log     zerolog.Logger
}

// ClaimEvent is the JSON schema published to NATS
type ClaimEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Severity     string                 `json:"severity"`
	Category     string                 `json:"category"`
	OccurredAt   time.Time              `json:"occurred_at"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection yields a publisher that drops every event.
func NewNotificationPublisher(nc *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	p := &NotificationPublisher{log: log}
	if nc != nil {
		p.publish = nc.Publish
	}
	return p
}

// ConnectNATS dials the broker with reconnects enabled
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// PublishClaimEvent publishes a claim save event.
// Subject: notifications.ap.<eventType>
func (p *NotificationPublisher) PublishClaimEvent(ctx context.Context, eventType string, claim *repository.Claim, actorID string) {
	if p == nil || p.publish == nil {
		return
	}

	severity := "info"
	if !claim.Matching.Overall {
		severity = "warning"
	}

	event := &ClaimEvent{
		EventType:    eventType,
		ActorID:      actorID,
		ResourceType: "claim",
		ResourceID:   claim.ClaimNumber,
		Severity:     severity,
		Category:     "ap_threeway_matching",
		OccurredAt:   claim.UpdatedAt,
		Payload: map[string]interface{}{
			"verdict":    claim.Matching.Verdict,
			"approved":   claim.Status.Approved,
			"visibility": claim.Visibility,
		},
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.ap.%s", eventType)
	if err := p.publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("claim_number", claim.ClaimNumber).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("claim_number", claim.ClaimNumber).
		Msg("notification: event published")
}
