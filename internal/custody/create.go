package custody

import (
	"time"

	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

// NewDelivery builds the initial snapshot for a seller-created delivery. The
// seller starts as custodian and the package waits for pickup.
func NewDelivery(deliveryID, orderID, customerID string, seller Actor, weight float64, dims PackageDimensions, origin Location, now time.Time) (Delivery, error) {
	if err := ValidateDeliveryID(deliveryID); err != nil {
		return Delivery{}, err
	}
	if err := ValidateOrderID(orderID); err != nil {
		return Delivery{}, err
	}
	if err := ValidateUserID(customerID, "customerId"); err != nil {
		return Delivery{}, err
	}
	if err := ValidateWeight(weight); err != nil {
		return Delivery{}, err
	}
	if err := ValidateDimensions(dims); err != nil {
		return Delivery{}, err
	}
	if err := ValidateLocation(origin); err != nil {
		return Delivery{}, err
	}
	if seller.Role != RoleSeller {
		return Delivery{}, apperrors.New(apperrors.CodeForbidden, "only sellers create deliveries")
	}

	return Delivery{
		DeliveryID:           deliveryID,
		OrderID:              orderID,
		SellerID:             seller.ID,
		CustomerID:           customerID,
		PackageWeight:        weight,
		PackageDimensions:    dims,
		Status:               StatusPendingPickup,
		LastLocation:         origin,
		CurrentCustodianID:   seller.ID,
		CurrentCustodianRole: RoleSeller,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}
