package api

import (
	"encoding/json"
	"net/http"

	"github.com/openparcel/custodymesh/internal/custody"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
)

const maxRequestBodyBytes = 64 << 10

// decodeBody parses a JSON request body into a DTO, rejecting unknown fields.
func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed request body", err)
	}
	return nil
}

type createDeliveryRequest struct {
	OrderID       string  `json:"orderId"`
	CustomerID    string  `json:"customerId"`
	PackageWeight float64 `json:"packageWeight"`
	PackageLength float64 `json:"packageLength"`
	PackageWidth  float64 `json:"packageWidth"`
	PackageHeight float64 `json:"packageHeight"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	Country       string  `json:"country"`
}

type initiateHandoffRequest struct {
	ToUserID string `json:"toUserId"`
	ToRole   string `json:"toRole"`
}

func (req initiateHandoffRequest) validate() error {
	if err := custody.ValidateUserID(req.ToUserID, "toUserId"); err != nil {
		return err
	}
	role := custody.Role(req.ToRole)
	if role != custody.RoleDeliveryPerson && role != custody.RoleCustomer {
		return apperrors.New(apperrors.CodeInvalidArgument,
			"toRole must be DELIVERY_PERSON or CUSTOMER")
	}
	return nil
}

type confirmHandoffRequest struct {
	City          string   `json:"city"`
	State         string   `json:"state"`
	Country       string   `json:"country"`
	PackageWeight *float64 `json:"packageWeight,omitempty"`
	PackageLength *float64 `json:"packageLength,omitempty"`
	PackageWidth  *float64 `json:"packageWidth,omitempty"`
	PackageHeight *float64 `json:"packageHeight,omitempty"`
}

// dimensions folds the optional re-measured dimensions into one value. All
// three must be present together.
func (req confirmHandoffRequest) dimensions() (*custody.PackageDimensions, error) {
	set := 0
	for _, v := range []*float64{req.PackageLength, req.PackageWidth, req.PackageHeight} {
		if v != nil {
			set++
		}
	}
	switch set {
	case 0:
		return nil, nil
	case 3:
		return &custody.PackageDimensions{
			Length: *req.PackageLength,
			Width:  *req.PackageWidth,
			Height: *req.PackageHeight,
		}, nil
	default:
		return nil, apperrors.New(apperrors.CodeInvalidArgument,
			"packageLength, packageWidth, and packageHeight must be supplied together")
	}
}

type disputeHandoffRequest struct {
	Reason string `json:"reason"`
}

type reinitiateHandoffRequest struct {
	Note string `json:"note,omitempty"`
}

type updateLocationRequest struct {
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}
