package custody

import (
	"fmt"
	"time"

	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

// Decide applies a custody action to a delivery snapshot and returns the next
// snapshot. It is a pure function: callers pass the clock, no I/O happens,
// and the input delivery is never mutated. Errors carry the domain codes the
// API layer maps to HTTP statuses.
func Decide(d Delivery, act Action, actor Actor, now time.Time) (Delivery, error) {
	if d.Status.Terminal() {
		return d, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			fmt.Sprintf("delivery is %s, no further transitions accepted", d.Status),
			map[string]string{"deliveryId": d.DeliveryID, "status": string(d.Status)})
	}

	var (
		next Delivery
		err  error
	)
	switch a := act.(type) {
	case Initiate:
		next, err = decideInitiate(d, a, actor, now)
	case Confirm:
		next, err = decideConfirm(d, a, actor, now)
	case Dispute:
		next, err = decideDispute(d, a, actor, now)
	case Reinitiate:
		next, err = decideReinitiate(d, a, actor, now)
	case CancelHandoff:
		next, err = decideCancelHandoff(d, actor, now)
	case CancelDelivery:
		next, err = decideCancelDelivery(d, actor, now)
	case UpdateLocation:
		next, err = decideUpdateLocation(d, a, actor, now)
	default:
		return d, apperrors.New(apperrors.CodeInvalidArgument, "unknown custody action")
	}
	if err != nil {
		return d, err
	}
	if err := next.Validate(); err != nil {
		return d, err
	}
	return next, nil
}

func decideInitiate(d Delivery, a Initiate, actor Actor, now time.Time) (Delivery, error) {
	if err := ValidateUserID(a.ToUserID, "toUserId"); err != nil {
		return d, err
	}
	if a.ToRole != RoleDeliveryPerson && a.ToRole != RoleCustomer {
		return d, apperrors.New(apperrors.CodeInvalidArgument,
			"handoff target must be DELIVERY_PERSON or CUSTOMER")
	}
	if actor.Role != RoleSeller && actor.Role != RoleDeliveryPerson {
		return d, apperrors.New(apperrors.CodeForbidden,
			"only sellers and delivery persons initiate handoffs")
	}
	if actor.Role == RoleSeller && a.ToRole == RoleCustomer {
		return d, apperrors.New(apperrors.CodeForbidden,
			"sellers hand off to delivery persons, not directly to customers")
	}
	if d.CurrentCustodianID != actor.ID {
		return d, apperrors.New(apperrors.CodeForbidden,
			"only the current custodian initiates a handoff")
	}
	if d.PendingHandoff != nil {
		return d, apperrors.WithMetadata(apperrors.CodeAlreadyPending,
			"a handoff is already open for this delivery",
			map[string]string{"deliveryId": d.DeliveryID})
	}
	if d.Status != StatusPendingPickup && d.Status != StatusInTransit {
		return d, invalidFrom(d, "initiate handoff")
	}
	if a.ToRole == RoleCustomer && a.ToUserID != d.CustomerID {
		return d, apperrors.New(apperrors.CodeForbidden,
			"final delivery must target the delivery's customer")
	}

	next := d
	next.PendingHandoff = &PendingHandoff{
		FromUserID:  actor.ID,
		FromRole:    actor.Role,
		ToUserID:    a.ToUserID,
		ToRole:      a.ToRole,
		InitiatedAt: now,
	}
	switch {
	case a.ToRole == RoleCustomer:
		next.Status = StatusPendingDeliveryConfirmation
	case d.Status == StatusPendingPickup:
		next.Status = StatusPendingPickupHandoff
	default:
		next.Status = StatusPendingTransitHandoff
	}
	next.UpdatedAt = now
	return next, nil
}

func decideConfirm(d Delivery, a Confirm, actor Actor, now time.Time) (Delivery, error) {
	if err := ValidateLocation(a.Location); err != nil {
		return d, err
	}
	if a.Weight != nil {
		if err := ValidateWeight(*a.Weight); err != nil {
			return d, err
		}
	}
	if a.Dimensions != nil {
		if err := ValidateDimensions(*a.Dimensions); err != nil {
			return d, err
		}
	}
	if d.Status.Disputed() {
		return d, apperrors.New(apperrors.CodeInvalidTransition,
			"disputed handoff must be re-initiated before it can be confirmed")
	}
	if d.PendingHandoff == nil || !d.Status.HandoffOpen() {
		return d, invalidFrom(d, "confirm handoff")
	}
	if err := requireReceiver(d, actor); err != nil {
		return d, err
	}

	next := d
	handoff := *d.PendingHandoff
	next.PendingHandoff = nil
	next.CurrentCustodianID = handoff.ToUserID
	next.CurrentCustodianRole = handoff.ToRole
	next.LastLocation = a.Location
	if a.Weight != nil {
		next.PackageWeight = *a.Weight
	}
	if a.Dimensions != nil {
		next.PackageDimensions = *a.Dimensions
	}
	if handoff.ToRole == RoleCustomer {
		next.Status = StatusConfirmedDelivery
	} else {
		next.Status = StatusInTransit
	}
	next.UpdatedAt = now
	return next, nil
}

func decideDispute(d Delivery, a Dispute, actor Actor, now time.Time) (Delivery, error) {
	if err := ValidateReason(a.Reason); err != nil {
		return d, err
	}
	if d.Status.Disputed() {
		return d, apperrors.New(apperrors.CodeInvalidTransition,
			"handoff is already disputed")
	}
	if d.PendingHandoff == nil || !d.Status.HandoffOpen() {
		return d, invalidFrom(d, "dispute handoff")
	}
	if err := requireReceiver(d, actor); err != nil {
		return d, err
	}

	next := d
	handoff := *d.PendingHandoff
	handoff.DisputeReason = a.Reason
	next.PendingHandoff = &handoff
	switch d.Status {
	case StatusPendingPickupHandoff:
		next.Status = StatusDisputedPickupHandoff
	case StatusPendingTransitHandoff:
		next.Status = StatusDisputedTransitHandoff
	case StatusPendingDeliveryConfirmation:
		next.Status = StatusDisputedDelivery
	}
	next.UpdatedAt = now
	return next, nil
}

func decideReinitiate(d Delivery, a Reinitiate, actor Actor, now time.Time) (Delivery, error) {
	if len(a.Note) > maxReasonLength {
		return d, invalidArgument("note", fmt.Sprintf("exceeds %d characters", maxReasonLength))
	}
	if !d.Status.Disputed() || d.PendingHandoff == nil {
		return d, invalidFrom(d, "re-initiate handoff")
	}
	if d.PendingHandoff.FromUserID != actor.ID || d.PendingHandoff.FromRole != actor.Role {
		return d, apperrors.New(apperrors.CodeForbidden,
			"only the original initiator can re-initiate a disputed handoff")
	}

	next := d
	handoff := *d.PendingHandoff
	handoff.InitiatedAt = now
	handoff.Annotation = a.Note
	next.PendingHandoff = &handoff
	switch d.Status {
	case StatusDisputedPickupHandoff:
		next.Status = StatusPendingPickupHandoff
	case StatusDisputedTransitHandoff:
		next.Status = StatusPendingTransitHandoff
	case StatusDisputedDelivery:
		next.Status = StatusPendingDeliveryConfirmation
	}
	next.UpdatedAt = now
	return next, nil
}

func decideCancelHandoff(d Delivery, actor Actor, now time.Time) (Delivery, error) {
	if d.PendingHandoff == nil || !d.Status.HandoffOpen() {
		return d, invalidFrom(d, "cancel handoff")
	}
	if d.PendingHandoff.FromUserID != actor.ID {
		return d, apperrors.New(apperrors.CodeForbidden,
			"only the handoff initiator can cancel it")
	}

	next := d
	next.PendingHandoff = nil
	switch d.Status {
	case StatusPendingPickupHandoff, StatusDisputedPickupHandoff:
		next.Status = StatusPendingPickup
	default:
		next.Status = StatusInTransit
	}
	next.UpdatedAt = now
	return next, nil
}

func decideCancelDelivery(d Delivery, actor Actor, now time.Time) (Delivery, error) {
	if actor.Role != RoleAdmin {
		if actor.Role != RoleSeller || d.SellerID != actor.ID {
			return d, apperrors.New(apperrors.CodeForbidden,
				"only the seller or an admin can cancel a delivery")
		}
	}

	next := d
	next.PendingHandoff = nil
	next.Status = StatusCancelled
	next.UpdatedAt = now
	return next, nil
}

func decideUpdateLocation(d Delivery, a UpdateLocation, actor Actor, now time.Time) (Delivery, error) {
	if err := ValidateLocation(a.Location); err != nil {
		return d, err
	}
	if actor.Role != RoleDeliveryPerson || d.CurrentCustodianID != actor.ID {
		return d, apperrors.New(apperrors.CodeForbidden,
			"only the delivery person holding the package updates its location")
	}
	if d.Status != StatusInTransit {
		return d, invalidFrom(d, "update location")
	}

	next := d
	next.LastLocation = a.Location
	next.UpdatedAt = now
	return next, nil
}

// requireReceiver checks the actor is the designated handoff target by both
// id and role.
func requireReceiver(d Delivery, actor Actor) error {
	h := d.PendingHandoff
	if h.ToUserID != actor.ID || h.ToRole != actor.Role {
		return apperrors.WithMetadata(apperrors.CodeForbidden,
			"only the designated receiver can act on this handoff",
			map[string]string{"deliveryId": d.DeliveryID})
	}
	return nil
}

func invalidFrom(d Delivery, action string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
		fmt.Sprintf("cannot %s while delivery is %s", action, d.Status),
		map[string]string{"deliveryId": d.DeliveryID, "status": string(d.Status)})
}
