// Package storage defines persistence for an organization's local users.
// Each org's store is authoritative only for the roles homed there; peers
// confirm identities through the internal verification endpoints instead of
// reading each other's databases.
package storage

import (
	"context"
	"time"

	"github.com/openparcel/custodymesh/internal/custody"
)

// User is a local account record. VehicleInfo is set for couriers, Address
// for customers; both are empty otherwise.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Role         custody.Role
	FullName     string
	IsActive     bool
	VehicleInfo  string
	Address      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserStore is the persistence surface the org API needs.
type UserStore interface {
	PutUser(ctx context.Context, u User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	ActiveUsersByRole(ctx context.Context, role custody.Role) ([]User, error)
	Close() error
}
