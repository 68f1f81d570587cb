package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/openparcel/custodymesh/internal/custody"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orgapi.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutAndGetUser(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	u := storage.User{
		ID:           "driver-1",
		Username:     "sam",
		PasswordHash: "hash",
		Role:         custody.RoleDeliveryPerson,
		FullName:     "Sam Ortiz",
		IsActive:     true,
		VehicleInfo:  "van",
	}
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.UserByID(ctx, "driver-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.Username != "sam" || got.Role != custody.RoleDeliveryPerson || !got.IsActive {
		t.Fatalf("user = %+v", got)
	}
	if got.VehicleInfo != "van" {
		t.Fatalf("vehicle info = %q", got.VehicleInfo)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	byName, err := s.UserByUsername(ctx, "sam")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName.ID != "driver-1" {
		t.Fatalf("id = %q", byName.ID)
	}
}

func TestUserNotFound(t *testing.T) {
	s := openTempStore(t)

	_, err := s.UserByID(context.Background(), "missing")
	if !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestPutUserUpdatesExisting(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	u := storage.User{ID: "cust-42", Username: "pat", PasswordHash: "h1",
		Role: custody.RoleCustomer, IsActive: true, Address: "12 Main St"}
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}

	u.IsActive = false
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.UserByID(ctx, "cust-42")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.IsActive {
		t.Fatal("deactivation not persisted")
	}
	if got.Address != "12 Main St" {
		t.Fatalf("address = %q", got.Address)
	}
}

func TestActiveUsersByRole(t *testing.T) {
	s := openTempStore(t)
	ctx := context.Background()

	seed := []storage.User{
		{ID: "driver-1", Username: "sam", Role: custody.RoleDeliveryPerson, IsActive: true, PasswordHash: "h"},
		{ID: "driver-2", Username: "alex", Role: custody.RoleDeliveryPerson, IsActive: true, PasswordHash: "h"},
		{ID: "driver-3", Username: "kim", Role: custody.RoleDeliveryPerson, IsActive: false, PasswordHash: "h"},
		{ID: "seller-1", Username: "ana", Role: custody.RoleSeller, IsActive: true, PasswordHash: "h"},
	}
	for _, u := range seed {
		if err := s.PutUser(ctx, u); err != nil {
			t.Fatalf("seed %s: %v", u.ID, err)
		}
	}

	drivers, err := s.ActiveUsersByRole(ctx, custody.RoleDeliveryPerson)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(drivers) != 2 {
		t.Fatalf("drivers = %d, want 2", len(drivers))
	}
	// Ordered by username.
	if drivers[0].Username != "alex" || drivers[1].Username != "sam" {
		t.Fatalf("order = %s, %s", drivers[0].Username, drivers[1].Username)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orgapi.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = s.Close()
}
