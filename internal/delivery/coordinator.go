// Package delivery orchestrates custody transitions: it resolves and
// verifies the acting identity, pre-validates the transition with the
// custody state machine, and submits it to the ledger with a bounded retry
// on version conflicts.
package delivery

import (
	"context"
	"time"

	"github.com/openparcel/custodymesh/internal/custody"
	"github.com/openparcel/custodymesh/internal/ledger"
	"github.com/openparcel/custodymesh/internal/orgs"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
	"github.com/openparcel/custodymesh/internal/verify"
)

// LocalIdentity is a user record from the local organization's store.
type LocalIdentity struct {
	ID       string
	Username string
	Role     custody.Role
	Active   bool
}

// IdentitySource is the local user store view the coordinator consults for
// roles whose home organization is the local one.
type IdentitySource interface {
	LocalUser(ctx context.Context, userID string) (LocalIdentity, error)
}

// Verifier confirms identities against their home organization. A nil result
// means the identity could not be verified and the operation must fail
// closed.
type Verifier interface {
	Verify(ctx context.Context, userID string, role custody.Role) *verify.VerifiedUser
}

// Coordinator is the write-side authority surfaced to the API layer.
type Coordinator struct {
	ledger    ledger.Ledger
	directory orgs.Directory
	verifier  Verifier
	users     IdentitySource
	now       func() time.Time
}

// New builds a coordinator. A nil now falls back to time.Now.
func New(l ledger.Ledger, directory orgs.Directory, verifier Verifier, users IdentitySource, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	return &Coordinator{
		ledger:    l,
		directory: directory,
		verifier:  verifier,
		users:     users,
		now:       now,
	}
}

// CreateDeliveryInput is the validated request to open a delivery.
type CreateDeliveryInput struct {
	OrderID    string
	CustomerID string
	Weight     float64
	Dimensions custody.PackageDimensions
	Origin     custody.Location
}

// CreateDelivery opens a delivery for a seller. Both the seller and the
// referenced customer must resolve to verified, active identities.
func (c *Coordinator) CreateDelivery(ctx context.Context, actor custody.Actor, in CreateDeliveryInput) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	if err := c.resolveParty(ctx, in.CustomerID, custody.RoleCustomer); err != nil {
		return custody.Delivery{}, err
	}

	d, err := custody.NewDelivery(NewDeliveryID(c.now()), in.OrderID, in.CustomerID, actor,
		in.Weight, in.Dimensions, in.Origin, c.now().UTC())
	if err != nil {
		return custody.Delivery{}, err
	}
	if err := c.ledger.CreateDelivery(ctx, d); err != nil {
		return custody.Delivery{}, err
	}
	return d, nil
}

// InitiateHandoff opens a handoff after verifying the designated receiver's
// identity with their home organization.
func (c *Coordinator) InitiateHandoff(ctx context.Context, actor custody.Actor, deliveryID, toUserID string, toRole custody.Role) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	if err := c.resolveParty(ctx, toUserID, toRole); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.Initiate{ToUserID: toUserID, ToRole: toRole}, actor)
}

// ConfirmHandoff accepts an open handoff as the designated receiver.
func (c *Coordinator) ConfirmHandoff(ctx context.Context, actor custody.Actor, deliveryID string, loc custody.Location, weight *float64, dims *custody.PackageDimensions) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.Confirm{Location: loc, Weight: weight, Dimensions: dims}, actor)
}

// DisputeHandoff rejects an open handoff with a reason.
func (c *Coordinator) DisputeHandoff(ctx context.Context, actor custody.Actor, deliveryID, reason string) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.Dispute{Reason: reason}, actor)
}

// ReinitiateHandoff returns a disputed handoff to its pending state.
func (c *Coordinator) ReinitiateHandoff(ctx context.Context, actor custody.Actor, deliveryID, note string) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.Reinitiate{Note: note}, actor)
}

// CancelHandoff withdraws a handoff the actor initiated.
func (c *Coordinator) CancelHandoff(ctx context.Context, actor custody.Actor, deliveryID string) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.CancelHandoff{}, actor)
}

// CancelDelivery cancels the delivery outright.
func (c *Coordinator) CancelDelivery(ctx context.Context, actor custody.Actor, deliveryID string) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.CancelDelivery{}, actor)
}

// UpdateLocation records the package's position while in transit.
func (c *Coordinator) UpdateLocation(ctx context.Context, actor custody.Actor, deliveryID string, loc custody.Location) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	return c.submit(ctx, deliveryID, custody.UpdateLocation{Location: loc}, actor)
}

// GetDelivery returns a delivery the actor is involved in. Admins read any.
func (c *Coordinator) GetDelivery(ctx context.Context, actor custody.Actor, deliveryID string) (custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return custody.Delivery{}, err
	}
	d, _, err := c.ledger.GetDelivery(ctx, deliveryID)
	if err != nil {
		return custody.Delivery{}, err
	}
	if actor.Role != custody.RoleAdmin && !d.Involves(actor.ID) {
		return custody.Delivery{}, apperrors.New(apperrors.CodeForbidden,
			"not a party to this delivery")
	}
	return d, nil
}

// ListDeliveries returns the deliveries visible to the actor.
func (c *Coordinator) ListDeliveries(ctx context.Context, actor custody.Actor) ([]custody.Delivery, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return nil, err
	}
	return c.ledger.ListByActor(ctx, actor)
}

// GetHistory returns the transaction log of a delivery. Restricted to the
// delivery's seller, its customer, and admins; couriers see only current
// state.
func (c *Coordinator) GetHistory(ctx context.Context, actor custody.Actor, deliveryID string) ([]ledger.HistoryRecord, error) {
	if err := c.resolveActor(ctx, actor); err != nil {
		return nil, err
	}
	d, _, err := c.ledger.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if actor.Role != custody.RoleAdmin && d.SellerID != actor.ID && d.CustomerID != actor.ID {
		return nil, apperrors.New(apperrors.CodeForbidden,
			"history is visible to the seller, the customer, and admins")
	}
	return c.ledger.History(ctx, deliveryID)
}

// submit pre-validates the action against the current snapshot so invalid
// transitions never reach the ledger, then submits with the observed version.
// One retry against fresh state on a version conflict, then the conflict is
// surfaced.
func (c *Coordinator) submit(ctx context.Context, deliveryID string, act custody.Action, actor custody.Actor) (custody.Delivery, error) {
	for attempt := 0; ; attempt++ {
		d, version, err := c.ledger.GetDelivery(ctx, deliveryID)
		if err != nil {
			return custody.Delivery{}, err
		}
		if _, err := custody.Decide(d, act, actor, c.now().UTC()); err != nil {
			return custody.Delivery{}, err
		}

		next, err := c.ledger.SubmitTransition(ctx, deliveryID, version, act, actor)
		if err == nil {
			return next, nil
		}
		if !apperrors.IsCode(err, apperrors.CodeLedgerConflict) || attempt >= 1 {
			return custody.Delivery{}, err
		}
		metrics.LedgerConflicts.Inc()
	}
}

// resolveActor confirms the acting identity. Local-home roles are checked
// against the local user store; everything else goes through cross-org
// verification and fails closed on a nil result.
func (c *Coordinator) resolveActor(ctx context.Context, actor custody.Actor) error {
	if actor.ID == "" || !actor.Role.Valid() {
		return apperrors.New(apperrors.CodeUnauthorized, "actor identity is incomplete")
	}
	return c.resolveParty(ctx, actor.ID, actor.Role)
}

func (c *Coordinator) resolveParty(ctx context.Context, userID string, role custody.Role) error {
	if c.directory.IsLocal(role) {
		u, err := c.users.LocalUser(ctx, userID)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				return unverified(userID)
			}
			return err
		}
		if !u.Active || u.Role != role {
			return unverified(userID)
		}
		return nil
	}
	if c.verifier.Verify(ctx, userID, role) == nil {
		return unverified(userID)
	}
	return nil
}

func unverified(userID string) error {
	return apperrors.WithMetadata(apperrors.CodeVerificationFailed,
		"identity could not be verified",
		map[string]string{"userId": userID})
}
