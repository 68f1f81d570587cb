package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/openparcel/custodymesh/internal/custody"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage"
)

// SeedUser describes one account to provision for the dev stack.
type SeedUser struct {
	ID          string
	Username    string
	Password    string
	Role        custody.Role
	FullName    string
	VehicleInfo string
	Address     string
}

// DevSeedUsers is the fixture roster the single-process dev stack provisions
// across all three organizations.
func DevSeedUsers() []SeedUser {
	return []SeedUser{
		{ID: "seller-1", Username: "acme", Password: "acme-dev", Role: custody.RoleSeller, FullName: "Acme Outfitters"},
		{ID: "driver-1", Username: "driver1", Password: "driver-dev", Role: custody.RoleDeliveryPerson, FullName: "Dana Driver", VehicleInfo: "Van TX-4821"},
		{ID: "driver-2", Username: "driver2", Password: "driver-dev", Role: custody.RoleDeliveryPerson, FullName: "Devon Driver", VehicleInfo: "Bike ATX-07"},
		{ID: "cust-42", Username: "cust42", Password: "customer-dev", Role: custody.RoleCustomer, FullName: "Casey Customer", Address: "12 Oak Ln, Austin TX"},
		{ID: "admin-1", Username: "admin", Password: "admin-dev", Role: custody.RoleAdmin, FullName: "Platform Admin"},
	}
}

// Seed provisions accounts idempotently: existing ids are updated in place.
func Seed(ctx context.Context, store storage.UserStore, users []SeedUser, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	for _, seed := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", seed.ID, err)
		}
		created := now().UTC()
		if existing, err := store.UserByID(ctx, seed.ID); err == nil {
			created = existing.CreatedAt
		} else if !apperrors.IsCode(err, apperrors.CodeNotFound) {
			return fmt.Errorf("lookup seed user %s: %w", seed.ID, err)
		}
		u := storage.User{
			ID:           seed.ID,
			Username:     seed.Username,
			PasswordHash: string(hash),
			Role:         seed.Role,
			FullName:     seed.FullName,
			IsActive:     true,
			VehicleInfo:  seed.VehicleInfo,
			Address:      seed.Address,
			CreatedAt:    created,
			UpdatedAt:    now().UTC(),
		}
		if err := store.PutUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %s: %w", seed.ID, err)
		}
	}
	return nil
}
