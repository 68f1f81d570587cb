package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/openparcel/custodymesh/internal/ledger"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
)

// eventPayload is the outbound event shape: the ledger payload augmented
// with the transaction id and the block number. Block numbers travel as
// strings so clients never lose precision to floating-point JSON numbers.
type eventPayload struct {
	ledger.EventPayload
	TransactionID string `json:"transactionId"`
	BlockNumber   string `json:"blockNumber"`
}

// startPump consumes the ledger event stream and fans events out to
// subscribers until the context ends. It returns a channel closed when the
// pump has drained.
func startPump(ctx context.Context, stream ledger.Stream, registry *Registry) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		events, cancel := stream.Subscribe(ctx)
		defer cancel()
		for event := range events {
			dispatch(registry, event)
		}
	}()
	return done
}

// dispatch sends one event to the delivery's subscribers, and for handoff
// events also to the private channels of every user the payload names.
func dispatch(registry *Registry, event ledger.Event) {
	frame := wsFrame{
		Type: string(event.Type),
		Payload: mustJSON(eventPayload{
			EventPayload:  event.Payload,
			TransactionID: event.TransactionID,
			BlockNumber:   strconv.FormatUint(event.BlockNumber, 10),
		}),
	}

	recipients := make(map[*Peer]struct{})
	for _, p := range registry.DeliveryMembers(event.Payload.DeliveryID) {
		recipients[p] = struct{}{}
	}
	if strings.HasPrefix(string(event.Type), "handoff.") {
		for _, userID := range payloadUsers(event.Payload) {
			for _, p := range registry.UserMembers(userID) {
				recipients[p] = struct{}{}
			}
		}
	}

	for p := range recipients {
		_ = p.writeFrame(frame)
	}
	metrics.RelayEventsDispatched.WithLabelValues(string(event.Type)).Inc()
}

func payloadUsers(payload ledger.EventPayload) []string {
	seen := make(map[string]struct{}, 4)
	var users []string
	for _, id := range []string{payload.FromUserID, payload.ToUserID, payload.NewCustodianID, payload.DisputedBy} {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	return users
}
