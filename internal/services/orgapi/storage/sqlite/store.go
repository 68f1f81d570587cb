// Package sqlite implements the org user store over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openparcel/custodymesh/internal/custody"
	apperrors "github.com/openparcel/custodymesh/internal/platform/errors"
	"github.com/openparcel/custodymesh/internal/platform/storage/sqlitemigrate"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage/sqlite/migrations"
)

// Store implements storage.UserStore over a single SQLite file.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const putUserQuery = `
INSERT INTO users (id, username, password_hash, role, full_name, is_active, vehicle_info, address, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    username = excluded.username,
    password_hash = excluded.password_hash,
    role = excluded.role,
    full_name = excluded.full_name,
    is_active = excluded.is_active,
    vehicle_info = excluded.vehicle_info,
    address = excluded.address,
    updated_at = excluded.updated_at;
`

// PutUser inserts or updates a user record.
func (s *Store) PutUser(ctx context.Context, u storage.User) error {
	if u.ID == "" || u.Username == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "user id and username are required")
	}
	now := time.Now().UTC()
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.sqlDB.ExecContext(ctx, putUserQuery,
		u.ID, u.Username, u.PasswordHash, string(u.Role), u.FullName,
		boolToInt(u.IsActive), u.VehicleInfo, u.Address,
		createdAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

const selectUserColumns = `
SELECT id, username, password_hash, role, full_name, is_active, vehicle_info, address, created_at, updated_at
FROM users
`

// UserByID fetches a user by id.
func (s *Store) UserByID(ctx context.Context, id string) (storage.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, selectUserColumns+"WHERE id = ?;", id)
	return scanUser(row)
}

// UserByUsername fetches a user by username.
func (s *Store) UserByUsername(ctx context.Context, username string) (storage.User, error) {
	row := s.sqlDB.QueryRowContext(ctx, selectUserColumns+"WHERE username = ?;", username)
	return scanUser(row)
}

// ActiveUsersByRole lists active users holding a role, ordered by username.
func (s *Store) ActiveUsersByRole(ctx context.Context, role custody.Role) ([]storage.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		selectUserColumns+"WHERE role = ? AND is_active = 1 ORDER BY username;", string(role))
	if err != nil {
		return nil, fmt.Errorf("query users by role: %w", err)
	}
	defer rows.Close()

	var users []storage.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (storage.User, error) {
	var (
		u         storage.User
		role      string
		isActive  int64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.FullName,
		&isActive, &u.VehicleInfo, &u.Address, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.User{}, apperrors.New(apperrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return storage.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role = custody.Role(role)
	u.IsActive = isActive != 0
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	u.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return u, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
