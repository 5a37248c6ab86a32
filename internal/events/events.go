// Package events announces contact request transitions to notifiers.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"contact.broker/internal/models"
)

// Event never carries the payload or the one-time token.
type Event struct {
	RequestID   string             `json:"request_id"`
	ResourceKey models.ResourceKey `json:"resource_key"`
	Status      models.Status      `json:"status"`
	Channel     models.Channel     `json:"channel,omitempty"`
	OccurredAt  time.Time          `json:"occurred_at"`
}

func (e Event) RoutingKey() string {
	return "contact." + strings.ToLower(string(e.Status))
}

func (e Event) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
