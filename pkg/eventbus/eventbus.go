// Package eventbus implements the event-driven dispatch surface of
// spec.md §6 ("Message bus (event-driven mode)"). The pack carries no
// MQTT or STOMP client anywhere; this is a deliberate, documented
// substitution (see SPEC_FULL.md §B.1) of Redis pub/sub, topic-per-
// offering, grounded on the teacher's own alert/escalation event fan-out
// (pkg/escalation/engine.go).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventType distinguishes the four dispatchable events spec.md §6 names.
type EventType string

const (
	EventOrderCreated     EventType = "order-created"
	EventResourceUpdated  EventType = "resource-updated"
	EventUserRoleChanged  EventType = "user-role-changed"
	EventProjectUserSync  EventType = "project-user-sync"
)

// Event is the JSON payload dispatched over one offering's topic.
type Event struct {
	Type         EventType `json:"event_type"`
	ResourceUUID uuid.UUID `json:"resource_uuid,omitempty"`
	ProjectUUID  uuid.UUID `json:"project_uuid,omitempty"`
	UserUUID     uuid.UUID `json:"user_uuid,omitempty"`
	Granted      *bool     `json:"granted,omitempty"`
}

// Bus is the capability the supervisor's event-driven dispatch loop needs:
// one subscription per offering topic.
type Bus interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func() error, error)
	Publish(ctx context.Context, topic string, event Event) error
}

// Topic builds the per-offering topic name.
func Topic(offeringUUID uuid.UUID) string {
	return "sitebridge:offering:" + offeringUUID.String()
}

// RedisBus implements Bus over Redis pub/sub.
type RedisBus struct {
	Client *redis.Client
}

var _ Bus = (*RedisBus)(nil)

// Subscribe opens a pub/sub subscription on topic and returns a channel of
// decoded events alongside a close function. Malformed payloads are
// dropped, not delivered.
func (b *RedisBus) Subscribe(ctx context.Context, topic string) (<-chan Event, func() error, error) {
	sub := b.Client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}

	out := make(chan Event)
	raw := sub.Channel()
	go func() {
		defer close(out)
		for msg := range raw {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, sub.Close, nil
}

// Publish marshals event and publishes it on topic.
func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	return b.Client.Publish(ctx, topic, payload).Err()
}
