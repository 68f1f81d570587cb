// Package server composes one organization's API: SQLite user store, custody
// coordinator, cross-org verification client, and the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openparcel/custodymesh/internal/delivery"
	"github.com/openparcel/custodymesh/internal/ledger"
	"github.com/openparcel/custodymesh/internal/orgs"
	"github.com/openparcel/custodymesh/internal/services/orgapi/api"
	"github.com/openparcel/custodymesh/internal/services/orgapi/storage"
	orgsqlite "github.com/openparcel/custodymesh/internal/services/orgapi/storage/sqlite"
	"github.com/openparcel/custodymesh/internal/verify"
)

// Config holds one organization's API configuration.
type Config struct {
	Org         string
	HTTPAddr    string
	DBPath      string
	JWTSecret   string
	InternalKey string

	// Peer org API base URLs for cross-org identity verification.
	SellersBaseURL   string
	LogisticsBaseURL string
	PlatformBaseURL  string
}

// Directory builds the mesh directory this org operates under.
func (c Config) Directory() (orgs.Directory, error) {
	local, err := orgs.ParseOrg(c.Org)
	if err != nil {
		return orgs.Directory{}, err
	}
	return orgs.Directory{
		Local: local,
		Roles: orgs.DefaultRoles(),
		Endpoints: map[orgs.Org]string{
			orgs.OrgSellers:   c.SellersBaseURL,
			orgs.OrgLogistics: c.LogisticsBaseURL,
			orgs.OrgPlatform:  c.PlatformBaseURL,
		},
		InternalKey: c.InternalKey,
	}, nil
}

// Server hosts one organization's API.
type Server struct {
	org      orgs.Org
	listener net.Listener
	http     *http.Server
	store    storage.UserStore
}

// New creates a configured org API server. The ledger is passed in so the
// dev stack can share one across services.
func New(cfg Config, l ledger.Ledger) (*Server, error) {
	directory, err := cfg.Directory()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	if strings.TrimSpace(cfg.InternalKey) == "" {
		return nil, errors.New("internal key is required")
	}

	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
	}
	store, err := openUserStore(cfg.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	verifier := verify.NewClient(directory)
	coordinator := delivery.New(l, directory, verifier, identitySource{store}, nil)
	handler := api.NewHandler(coordinator, store, verifier, directory, []byte(cfg.JWTSecret))

	return &Server{
		org:      directory.Local,
		listener: listener,
		http:     &http.Server{Handler: handler.Routes()},
		store:    store,
	}, nil
}

// Addr returns the listener address for the org API server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Store exposes the user store for dev-stack seeding.
func (s *Server) Store() storage.UserStore {
	return s.store
}

// Run creates and serves an org API server until the context ends.
func Run(ctx context.Context, cfg Config, l ledger.Ledger) error {
	srv, err := New(cfg, l)
	if err != nil {
		return err
	}
	return srv.Serve(ctx)
}

// Serve starts the org API server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("%s org API listening at %v", s.org, s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.http.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve org API: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

func openUserStore(path string) (storage.UserStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "org.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := orgsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open org sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close org store: %v", err)
	}
}

// identitySource adapts the user store to the coordinator's local identity
// lookups.
type identitySource struct {
	users storage.UserStore
}

func (s identitySource) LocalUser(ctx context.Context, userID string) (delivery.LocalIdentity, error) {
	u, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return delivery.LocalIdentity{}, err
	}
	return delivery.LocalIdentity{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
		Active:   u.IsActive,
	}, nil
}
