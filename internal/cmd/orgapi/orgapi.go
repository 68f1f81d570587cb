// Package orgapi parses org API command flags and starts one organization's
// HTTP service.
package orgapi

import (
	"context"
	"flag"
	"fmt"

	"github.com/openparcel/custodymesh/internal/ledger/memledger"
	entrypoint "github.com/openparcel/custodymesh/internal/platform/cmd"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
	orgserver "github.com/openparcel/custodymesh/internal/services/orgapi/app"
)

// Config holds org API command configuration.
type Config struct {
	Org              string `env:"CUSTODYMESH_ORG"                 envDefault:"sellers"`
	HTTPAddr         string `env:"CUSTODYMESH_ORGAPI_HTTP_ADDR"    envDefault:":8081"`
	DBPath           string `env:"CUSTODYMESH_ORGAPI_DB_PATH"      envDefault:"data/org.db"`
	JWTSecret        string `env:"CUSTODYMESH_JWT_SECRET"`
	InternalKey      string `env:"CUSTODYMESH_INTERNAL_KEY"`
	SellersBaseURL   string `env:"CUSTODYMESH_SELLERS_BASE_URL"    envDefault:"https://localhost:8081"`
	LogisticsBaseURL string `env:"CUSTODYMESH_LOGISTICS_BASE_URL"  envDefault:"https://localhost:8082"`
	PlatformBaseURL  string `env:"CUSTODYMESH_PLATFORM_BASE_URL"   envDefault:"https://localhost:8083"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Org, "org", cfg.Org, "organization this API serves (sellers, logistics, platform)")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "org API HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "org user SQLite database path")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "shared HS256 access token secret")
	fs.StringVar(&cfg.InternalKey, "internal-key", cfg.InternalKey, "pre-shared key for mesh-internal endpoints")
	fs.StringVar(&cfg.SellersBaseURL, "sellers-base-url", cfg.SellersBaseURL, "sellers org API base URL")
	fs.StringVar(&cfg.LogisticsBaseURL, "logistics-base-url", cfg.LogisticsBaseURL, "logistics org API base URL")
	fs.StringVar(&cfg.PlatformBaseURL, "platform-base-url", cfg.PlatformBaseURL, "platform org API base URL")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the org API service with a process-local ledger.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceOrgAPI, func(context.Context) error {
		metrics.Register()
		if err := orgserver.Run(ctx, serverConfig(cfg), memledger.New(nil)); err != nil {
			return fmt.Errorf("serve org API: %w", err)
		}
		return nil
	})
}

func serverConfig(cfg Config) orgserver.Config {
	return orgserver.Config{
		Org:              cfg.Org,
		HTTPAddr:         cfg.HTTPAddr,
		DBPath:           cfg.DBPath,
		JWTSecret:        cfg.JWTSecret,
		InternalKey:      cfg.InternalKey,
		SellersBaseURL:   cfg.SellersBaseURL,
		LogisticsBaseURL: cfg.LogisticsBaseURL,
		PlatformBaseURL:  cfg.PlatformBaseURL,
	}
}
