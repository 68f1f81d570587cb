// Package custody models package deliveries and the custody handoff state
// machine. Decide is a pure function over delivery snapshots; the ledger
// applies its results, nothing here performs I/O.
package custody

import "time"

// Role identifies what a user is to the delivery mesh.
type Role string

const (
	RoleCustomer       Role = "CUSTOMER"
	RoleSeller         Role = "SELLER"
	RoleDeliveryPerson Role = "DELIVERY_PERSON"
	RoleAdmin          Role = "ADMIN"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleSeller, RoleDeliveryPerson, RoleAdmin:
		return true
	}
	return false
}

// Status is the custody state of a delivery.
type Status string

const (
	StatusPendingPickup               Status = "PENDING_PICKUP"
	StatusPendingPickupHandoff        Status = "PENDING_PICKUP_HANDOFF"
	StatusDisputedPickupHandoff       Status = "DISPUTED_PICKUP_HANDOFF"
	StatusInTransit                   Status = "IN_TRANSIT"
	StatusPendingTransitHandoff       Status = "PENDING_TRANSIT_HANDOFF"
	StatusDisputedTransitHandoff      Status = "DISPUTED_TRANSIT_HANDOFF"
	StatusPendingDeliveryConfirmation Status = "PENDING_DELIVERY_CONFIRMATION"
	StatusDisputedDelivery            Status = "DISPUTED_DELIVERY"
	StatusConfirmedDelivery           Status = "CONFIRMED_DELIVERY"
	StatusCancelled                   Status = "CANCELLED"
)

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusConfirmedDelivery || s == StatusCancelled
}

// HandoffOpen reports whether the status requires a pending handoff record.
func (s Status) HandoffOpen() bool {
	switch s {
	case StatusPendingPickupHandoff, StatusDisputedPickupHandoff,
		StatusPendingTransitHandoff, StatusDisputedTransitHandoff,
		StatusPendingDeliveryConfirmation, StatusDisputedDelivery:
		return true
	}
	return false
}

// Disputed reports whether the status is a disputed handoff variant.
func (s Status) Disputed() bool {
	switch s {
	case StatusDisputedPickupHandoff, StatusDisputedTransitHandoff, StatusDisputedDelivery:
		return true
	}
	return false
}

// Location is a coarse package position. No street-level data crosses orgs.
type Location struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

// PackageDimensions are the physical dimensions of a package in centimeters.
type PackageDimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Actor is the authenticated party requesting a transition.
type Actor struct {
	ID   string
	Role Role
}

// PendingHandoff tracks an open two-party custody transfer. While a handoff
// is disputed the record stays in place so the original sender can
// re-initiate; DisputeReason holds the receiver's objection, Annotation the
// sender's note on re-initiation.
type PendingHandoff struct {
	FromUserID    string    `json:"fromUserId"`
	FromRole      Role      `json:"fromRole"`
	ToUserID      string    `json:"toUserId"`
	ToRole        Role      `json:"toRole"`
	InitiatedAt   time.Time `json:"initiatedAt"`
	DisputeReason string    `json:"disputeReason,omitempty"`
	Annotation    string    `json:"annotation,omitempty"`
}

// Delivery is the authoritative custody record. The service layer never
// mutates one in place; it proposes transitions through Decide and the
// ledger stores the result.
type Delivery struct {
	DeliveryID           string            `json:"deliveryId"`
	OrderID              string            `json:"orderId"`
	SellerID             string            `json:"sellerId"`
	CustomerID           string            `json:"customerId"`
	PackageWeight        float64           `json:"packageWeight"`
	PackageDimensions    PackageDimensions `json:"packageDimensions"`
	Status               Status            `json:"deliveryStatus"`
	LastLocation         Location          `json:"lastLocation"`
	CurrentCustodianID   string            `json:"currentCustodianId"`
	CurrentCustodianRole Role              `json:"currentCustodianRole"`
	PendingHandoff       *PendingHandoff   `json:"pendingHandoff,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// Involves reports whether the actor is a party to the delivery: seller,
// customer, current custodian, or either side of an open handoff. Admins
// bypass involvement checks at the call sites, not here.
func (d Delivery) Involves(actorID string) bool {
	if d.SellerID == actorID || d.CustomerID == actorID || d.CurrentCustodianID == actorID {
		return true
	}
	if d.PendingHandoff != nil {
		return d.PendingHandoff.FromUserID == actorID || d.PendingHandoff.ToUserID == actorID
	}
	return false
}
