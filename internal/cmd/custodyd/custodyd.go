// Package custodyd parses dev stack flags and runs all three org APIs plus
// the event relay in one process, sharing a single in-memory ledger.
package custodyd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/openparcel/custodymesh/internal/ledger/memledger"
	"github.com/openparcel/custodymesh/internal/orgs"
	entrypoint "github.com/openparcel/custodymesh/internal/platform/cmd"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
	orgserver "github.com/openparcel/custodymesh/internal/services/orgapi/app"
	relayserver "github.com/openparcel/custodymesh/internal/services/relay/app"
)

// Config holds dev stack configuration. Defaults are development-only
// credentials; the stack is not meant to face a network.
type Config struct {
	SellersHTTPAddr   string `env:"CUSTODYMESH_SELLERS_HTTP_ADDR"   envDefault:"localhost:8081"`
	LogisticsHTTPAddr string `env:"CUSTODYMESH_LOGISTICS_HTTP_ADDR" envDefault:"localhost:8082"`
	PlatformHTTPAddr  string `env:"CUSTODYMESH_PLATFORM_HTTP_ADDR"  envDefault:"localhost:8083"`
	RelayHTTPAddr     string `env:"CUSTODYMESH_RELAY_HTTP_ADDR"     envDefault:"localhost:8090"`
	JWTSecret         string `env:"CUSTODYMESH_JWT_SECRET"          envDefault:"custodymesh-dev-secret"`
	InternalKey       string `env:"CUSTODYMESH_INTERNAL_KEY"        envDefault:"custodymesh-dev-internal"`
	DataDir           string `env:"CUSTODYMESH_DATA_DIR"            envDefault:"data"`
	Seed              bool   `env:"CUSTODYMESH_SEED"                envDefault:"true"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.SellersHTTPAddr, "sellers-http-addr", cfg.SellersHTTPAddr, "sellers org API listen address")
	fs.StringVar(&cfg.LogisticsHTTPAddr, "logistics-http-addr", cfg.LogisticsHTTPAddr, "logistics org API listen address")
	fs.StringVar(&cfg.PlatformHTTPAddr, "platform-http-addr", cfg.PlatformHTTPAddr, "platform org API listen address")
	fs.StringVar(&cfg.RelayHTTPAddr, "relay-http-addr", cfg.RelayHTTPAddr, "event relay listen address")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "shared HS256 access token secret")
	fs.StringVar(&cfg.InternalKey, "internal-key", cfg.InternalKey, "pre-shared key for mesh-internal endpoints")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for per-org SQLite databases")
	fs.BoolVar(&cfg.Seed, "seed", cfg.Seed, "provision dev fixture accounts on startup")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the full dev stack until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceCustodyd, func(context.Context) error {
		metrics.Register()
		return runStack(ctx, cfg)
	})
}

func runStack(ctx context.Context, cfg Config) error {
	shared := memledger.New(nil)

	orgConfigs := map[orgs.Org]orgserver.Config{
		orgs.OrgSellers:   orgConfig(cfg, "sellers", cfg.SellersHTTPAddr),
		orgs.OrgLogistics: orgConfig(cfg, "logistics", cfg.LogisticsHTTPAddr),
		orgs.OrgPlatform:  orgConfig(cfg, "platform", cfg.PlatformHTTPAddr),
	}

	servers := make(map[orgs.Org]*orgserver.Server, len(orgConfigs))
	for org, orgCfg := range orgConfigs {
		srv, err := orgserver.New(orgCfg, shared)
		if err != nil {
			return fmt.Errorf("init %s org API: %w", org, err)
		}
		servers[org] = srv
	}

	if cfg.Seed {
		if err := seedOrgs(ctx, servers); err != nil {
			return err
		}
	}

	relay, err := relayserver.New(relayserver.Config{
		HTTPAddr:  cfg.RelayHTTPAddr,
		JWTSecret: cfg.JWTSecret,
	}, shared)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}

	stackCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, len(servers)+1)
	for org, srv := range servers {
		go func() {
			if err := srv.Serve(stackCtx); err != nil {
				serveErr <- fmt.Errorf("%s org API: %w", org, err)
				return
			}
			serveErr <- nil
		}()
	}
	go func() {
		if err := relay.Serve(stackCtx); err != nil {
			serveErr <- fmt.Errorf("relay: %w", err)
			return
		}
		serveErr <- nil
	}()

	// First failure stops the stack; then drain the rest.
	var firstErr error
	for i := 0; i < len(servers)+1; i++ {
		err := <-serveErr
		if err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func orgConfig(cfg Config, org, addr string) orgserver.Config {
	return orgserver.Config{
		Org:              org,
		HTTPAddr:         addr,
		DBPath:           filepath.Join(cfg.DataDir, org+".db"),
		JWTSecret:        cfg.JWTSecret,
		InternalKey:      cfg.InternalKey,
		SellersBaseURL:   "http://" + cfg.SellersHTTPAddr,
		LogisticsBaseURL: "http://" + cfg.LogisticsHTTPAddr,
		PlatformBaseURL:  "http://" + cfg.PlatformHTTPAddr,
	}
}

// seedOrgs provisions each fixture account in the store of its home org.
func seedOrgs(ctx context.Context, servers map[orgs.Org]*orgserver.Server) error {
	roles := orgs.DefaultRoles()
	byOrg := make(map[orgs.Org][]orgserver.SeedUser)
	for _, seed := range orgserver.DevSeedUsers() {
		home, ok := roles[seed.Role]
		if !ok {
			continue
		}
		byOrg[home] = append(byOrg[home], seed)
	}
	for org, users := range byOrg {
		srv, ok := servers[org]
		if !ok {
			continue
		}
		if err := orgserver.Seed(ctx, srv.Store(), users, time.Now); err != nil {
			return fmt.Errorf("seed %s org: %w", org, err)
		}
		log.Printf("seeded %d dev accounts at %s org", len(users), org)
	}
	return nil
}
