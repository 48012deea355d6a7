// Package events carries domain events out of the engine. The engine only
// announces what happened (approved, ready for pickup, rejected); formatting
// and delivery of resident-facing notifications belong to the subscriber.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TypeReservationApproved = "ReservationApproved"
	TypeReservationReady    = "ReservationReady"
	TypeReservationRejected = "ReservationRejected"
	TypePrintApproved       = "PrintRequestApproved"
	TypePrintRejected       = "PrintRequestRejected"
)

type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

// New stamps an event with identity and time; Data keys are the payload the
// notifier needs (reservation ulid, requester id, resource name, ...).
func New(eventType string, data map[string]any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop is used when no broker is configured (tests, minimal deployments).
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
