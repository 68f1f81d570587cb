// Package memledger is an in-process ledger implementation. It executes the
// custody state machine on every submitted transition, keeps an append-only
// history per delivery, and fans committed events out to subscribers. It
// backs tests and the single-process dev stack; production deployments point
// the same interfaces at the external ledger gateway.
package memledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openparcel/custodymesh/internal/custody"
	"github.com/openparcel/custodymesh/internal/ledger"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

const subscriberBuffer = 64

type entry struct {
	delivery custody.Delivery
	version  uint64
}

// Ledger is a mutex-guarded world state with optimistic concurrency.
// Versions increase by one per committed transaction; a submit against a
// stale version fails with LEDGER_CONFLICT.
type Ledger struct {
	now func() time.Time

	mu          sync.Mutex
	entries     map[string]*entry
	history     map[string][]ledger.HistoryRecord
	block       uint64
	nextSubID   int
	subscribers map[int]chan ledger.Event
}

// New returns an empty ledger. A nil now falls back to time.Now.
func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		now:         now,
		entries:     make(map[string]*entry),
		history:     make(map[string][]ledger.HistoryRecord),
		subscribers: make(map[int]chan ledger.Event),
	}
}

// CreateDelivery commits the initial snapshot and emits delivery.created.
func (l *Ledger) CreateDelivery(ctx context.Context, d custody.Delivery) error {
	if err := d.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[d.DeliveryID]; ok {
		return apperrors.WithMetadata(apperrors.CodeAlreadyExists,
			"delivery already exists",
			map[string]string{"deliveryId": d.DeliveryID})
	}

	now := l.now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	l.entries[d.DeliveryID] = &entry{delivery: d, version: 1}

	txID := uuid.NewString()
	l.appendHistory(d.DeliveryID, txID, now, d)
	l.emit(ledger.Event{
		Type:          ledger.EventDeliveryCreated,
		TransactionID: txID,
		BlockNumber:   l.nextBlock(),
		Payload: ledger.EventPayload{
			DeliveryID: d.DeliveryID,
			OrderID:    d.OrderID,
			NewStatus:  d.Status,
			Timestamp:  now,
		},
	})
	return nil
}

// GetDelivery returns the current snapshot and its version.
func (l *Ledger) GetDelivery(ctx context.Context, deliveryID string) (custody.Delivery, uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[deliveryID]
	if !ok {
		return custody.Delivery{}, 0, notFound(deliveryID)
	}
	return e.delivery, e.version, nil
}

// SubmitTransition runs the custody state machine against the current
// snapshot and commits the result as one transaction. The expected version
// must match the version the caller observed.
func (l *Ledger) SubmitTransition(ctx context.Context, deliveryID string, expectedVersion uint64, act custody.Action, actor custody.Actor) (custody.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[deliveryID]
	if !ok {
		return custody.Delivery{}, notFound(deliveryID)
	}
	if e.version != expectedVersion {
		return custody.Delivery{}, apperrors.WithMetadata(apperrors.CodeLedgerConflict,
			"delivery changed since it was read",
			map[string]string{"deliveryId": deliveryID})
	}

	now := l.now().UTC()
	prev := e.delivery
	next, err := custody.Decide(prev, act, actor, now)
	if err != nil {
		return custody.Delivery{}, err
	}

	e.delivery = next
	e.version++

	txID := uuid.NewString()
	l.appendHistory(deliveryID, txID, now, next)
	for _, ev := range transitionEvents(prev, next, act, actor, now) {
		ev.TransactionID = txID
		ev.BlockNumber = l.nextBlock()
		l.emit(ev)
	}
	return next, nil
}

// ListByActor returns the deliveries visible to the actor: admins see all,
// sellers and customers their own, delivery persons what they hold plus
// handoffs addressed to them.
func (l *Ledger) ListByActor(ctx context.Context, actor custody.Actor) ([]custody.Delivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []custody.Delivery
	for _, e := range l.entries {
		d := e.delivery
		switch actor.Role {
		case custody.RoleAdmin:
			out = append(out, d)
		case custody.RoleSeller:
			if d.SellerID == actor.ID {
				out = append(out, d)
			}
		case custody.RoleCustomer:
			if d.CustomerID == actor.ID {
				out = append(out, d)
			}
		case custody.RoleDeliveryPerson:
			if d.CurrentCustodianID == actor.ID ||
				(d.PendingHandoff != nil && d.PendingHandoff.ToUserID == actor.ID) {
				out = append(out, d)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeliveryID < out[j].DeliveryID })
	return out, nil
}

// History returns the append-only transaction log for a delivery.
func (l *Ledger) History(ctx context.Context, deliveryID string) ([]ledger.HistoryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[deliveryID]; !ok {
		return nil, notFound(deliveryID)
	}
	records := l.history[deliveryID]
	out := make([]ledger.HistoryRecord, len(records))
	copy(out, records)
	return out, nil
}

// Subscribe registers an event channel. Events committed after the call are
// delivered in commit order; a slow subscriber that fills its buffer misses
// events rather than blocking commits.
func (l *Ledger) Subscribe(ctx context.Context) (<-chan ledger.Event, func()) {
	l.mu.Lock()
	id := l.nextSubID
	l.nextSubID++
	ch := make(chan ledger.Event, subscriberBuffer)
	l.subscribers[id] = ch
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subscribers, id)
			l.mu.Unlock()
			close(ch)
		})
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel
}

func (l *Ledger) appendHistory(deliveryID, txID string, ts time.Time, d custody.Delivery) {
	l.history[deliveryID] = append(l.history[deliveryID], ledger.HistoryRecord{
		TxID:      txID,
		Timestamp: ts,
		Delivery:  d,
	})
}

func (l *Ledger) nextBlock() uint64 {
	l.block++
	return l.block
}

func (l *Ledger) emit(ev ledger.Event) {
	for _, ch := range l.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// transitionEvents derives the committed events for an applied action.
func transitionEvents(prev, next custody.Delivery, act custody.Action, actor custody.Actor, ts time.Time) []ledger.Event {
	base := ledger.EventPayload{
		DeliveryID: next.DeliveryID,
		OrderID:    next.OrderID,
		Timestamp:  ts,
	}

	var events []ledger.Event
	switch act.(type) {
	case custody.Initiate, custody.Reinitiate:
		p := base
		p.FromUserID = next.PendingHandoff.FromUserID
		p.ToUserID = next.PendingHandoff.ToUserID
		events = append(events, ledger.Event{Type: ledger.EventHandoffInitiated, Payload: p})
	case custody.Confirm:
		p := base
		p.NewCustodianID = next.CurrentCustodianID
		events = append(events, ledger.Event{Type: ledger.EventHandoffConfirmed, Payload: p})
	case custody.Dispute:
		p := base
		p.DisputedBy = actor.ID
		events = append(events, ledger.Event{Type: ledger.EventHandoffDisputed, Payload: p})
	}

	if prev.Status != next.Status {
		p := base
		p.OldStatus = prev.Status
		p.NewStatus = next.Status
		events = append(events, ledger.Event{Type: ledger.EventDeliveryStatusChanged, Payload: p})
	}
	return events
}

func notFound(deliveryID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound,
		"delivery does not exist",
		map[string]string{"deliveryId": deliveryID})
}
