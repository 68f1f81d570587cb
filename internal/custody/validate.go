package custody

import (
	"fmt"
	"strings"

	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

// Input limits. Weight is kilograms, dimensions centimeters.
const (
	maxUserIDLength    = 100
	maxOrderIDLength   = 50
	maxLocationLength  = 100
	maxReasonLength    = 1000
	maxPackageWeightKg = 10000
	maxDimensionCm     = 1000

	deliveryIDLength = 21 // DEL-YYYYMMDD-XXXXXXXX
	deliveryIDPrefix = "DEL-"
)

func invalidArgument(field, message string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
		fmt.Sprintf("%s %s", field, message),
		map[string]string{"field": field})
}

// ValidateDeliveryID checks the DEL-YYYYMMDD-XXXXXXXX format.
func ValidateDeliveryID(deliveryID string) error {
	if deliveryID == "" {
		return invalidArgument("deliveryId", "is required")
	}
	if !strings.HasPrefix(deliveryID, deliveryIDPrefix) || len(deliveryID) != deliveryIDLength {
		return invalidArgument("deliveryId", "must be in format DEL-YYYYMMDD-XXXXXXXX")
	}
	return nil
}

// ValidateOrderID checks order identifier bounds.
func ValidateOrderID(orderID string) error {
	if orderID == "" {
		return invalidArgument("orderId", "is required")
	}
	if len(orderID) > maxOrderIDLength {
		return invalidArgument("orderId", fmt.Sprintf("exceeds %d characters", maxOrderIDLength))
	}
	return nil
}

// ValidateUserID checks user identifier bounds; field names the DTO field.
func ValidateUserID(userID, field string) error {
	if userID == "" {
		return invalidArgument(field, "is required")
	}
	if len(userID) > maxUserIDLength {
		return invalidArgument(field, fmt.Sprintf("exceeds %d characters", maxUserIDLength))
	}
	return nil
}

// ValidateWeight checks the package weight is positive and within transport limits.
func ValidateWeight(weight float64) error {
	if weight <= 0 {
		return invalidArgument("packageWeight", "must be greater than 0")
	}
	if weight > maxPackageWeightKg {
		return invalidArgument("packageWeight", fmt.Sprintf("exceeds %d kg", maxPackageWeightKg))
	}
	return nil
}

// ValidateDimensions checks each package dimension is positive and bounded.
func ValidateDimensions(dims PackageDimensions) error {
	for _, d := range []struct {
		field string
		value float64
	}{
		{"packageLength", dims.Length},
		{"packageWidth", dims.Width},
		{"packageHeight", dims.Height},
	} {
		if d.value <= 0 {
			return invalidArgument(d.field, "must be greater than 0")
		}
		if d.value > maxDimensionCm {
			return invalidArgument(d.field, fmt.Sprintf("exceeds %d cm", maxDimensionCm))
		}
	}
	return nil
}

// ValidateLocation checks all three location fields are present and bounded.
func ValidateLocation(loc Location) error {
	for _, f := range []struct {
		field string
		value string
	}{
		{"city", loc.City},
		{"state", loc.State},
		{"country", loc.Country},
	} {
		if f.value == "" {
			return invalidArgument(f.field, "is required")
		}
		if len(f.value) > maxLocationLength {
			return invalidArgument(f.field, fmt.Sprintf("exceeds %d characters", maxLocationLength))
		}
	}
	return nil
}

// ValidateReason checks a dispute reason is present and bounded.
func ValidateReason(reason string) error {
	if reason == "" {
		return invalidArgument("reason", "is required")
	}
	if len(reason) > maxReasonLength {
		return invalidArgument("reason", fmt.Sprintf("exceeds %d characters", maxReasonLength))
	}
	return nil
}

// Validate checks the delivery's internal consistency. The pending handoff
// record must be present exactly when the status is a pending or disputed
// handoff state; every Decide result satisfies this.
func (d Delivery) Validate() error {
	if d.Status.HandoffOpen() && d.PendingHandoff == nil {
		return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			"handoff status without pending handoff record",
			map[string]string{"deliveryId": d.DeliveryID, "status": string(d.Status)})
	}
	if !d.Status.HandoffOpen() && d.PendingHandoff != nil {
		return apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			"pending handoff record outside handoff status",
			map[string]string{"deliveryId": d.DeliveryID, "status": string(d.Status)})
	}
	return nil
}
