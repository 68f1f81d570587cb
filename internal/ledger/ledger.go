// Package ledger defines the boundary to the authoritative delivery ledger.
// Deliveries are never mutated in place; callers propose transitions and the
// ledger commits them, assigns transaction ids, and emits events.
package ledger

import (
	"context"
	"time"

	"github.com/openparcel/custodymesh/internal/custody"
)

// HistoryRecord is one committed transaction affecting a delivery, with the
// full snapshot after the transaction. Append-only.
type HistoryRecord struct {
	TxID      string           `json:"txId"`
	Timestamp time.Time        `json:"timestamp"`
	IsDelete  bool             `json:"isDelete"`
	Delivery  custody.Delivery `json:"delivery"`
}

// Ledger is the write/read authority for deliveries. GetDelivery returns the
// snapshot together with its version; SubmitTransition commits only when the
// version still matches, otherwise it fails with LEDGER_CONFLICT so the
// caller can re-read and retry.
type Ledger interface {
	CreateDelivery(ctx context.Context, d custody.Delivery) error
	GetDelivery(ctx context.Context, deliveryID string) (custody.Delivery, uint64, error)
	SubmitTransition(ctx context.Context, deliveryID string, expectedVersion uint64, act custody.Action, actor custody.Actor) (custody.Delivery, error)
	ListByActor(ctx context.Context, actor custody.Actor) ([]custody.Delivery, error)
	History(ctx context.Context, deliveryID string) ([]HistoryRecord, error)
}

// Stream delivers committed events in order. The returned cancel func
// releases the subscription; the channel closes afterwards.
type Stream interface {
	Subscribe(ctx context.Context) (<-chan Event, func())
}
