package ledger

import (
	"time"

	"github.com/openparcel/custodymesh/internal/custody"
)

// EventType names a committed ledger event.
type EventType string

const (
	EventDeliveryCreated       EventType = "delivery.created"
	EventDeliveryStatusChanged EventType = "delivery.statusChanged"
	EventHandoffInitiated      EventType = "handoff.initiated"
	EventHandoffConfirmed      EventType = "handoff.confirmed"
	EventHandoffDisputed       EventType = "handoff.disputed"
)

// EventPayload carries the event fields. Which fields are set depends on the
// event type; unset fields are omitted on the wire.
type EventPayload struct {
	DeliveryID     string         `json:"deliveryId"`
	OrderID        string         `json:"orderId"`
	OldStatus      custody.Status `json:"oldStatus,omitempty"`
	NewStatus      custody.Status `json:"newStatus,omitempty"`
	FromUserID     string         `json:"fromUserId,omitempty"`
	ToUserID       string         `json:"toUserId,omitempty"`
	NewCustodianID string         `json:"newCustodianId,omitempty"`
	DisputedBy     string         `json:"disputedBy,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Event is a committed ledger event as delivered to subscribers.
type Event struct {
	Type          EventType
	TransactionID string
	BlockNumber   uint64
	Payload       EventPayload
}
