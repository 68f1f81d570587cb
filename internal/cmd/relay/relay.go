// Package relay parses relay command flags and starts the event relay
// service.
package relay

import (
	"context"
	"flag"
	"fmt"

	"github.com/openparcel/custodymesh/internal/ledger/memledger"
	entrypoint "github.com/openparcel/custodymesh/internal/platform/cmd"
	"github.com/openparcel/custodymesh/internal/platform/metrics"
	relayserver "github.com/openparcel/custodymesh/internal/services/relay/app"
)

// Config holds relay command configuration.
type Config struct {
	HTTPAddr  string `env:"CUSTODYMESH_RELAY_HTTP_ADDR" envDefault:":8090"`
	JWTSecret string `env:"CUSTODYMESH_JWT_SECRET"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "relay HTTP listen address")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "shared HS256 access token secret")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the relay with a process-local ledger stream. A standalone
// relay only sees events committed in its own process; the dev stack wires
// the shared stream instead.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRelay, func(context.Context) error {
		metrics.Register()
		if err := relayserver.Run(ctx, relayserver.Config{
			HTTPAddr:  cfg.HTTPAddr,
			JWTSecret: cfg.JWTSecret,
		}, memledger.New(nil)); err != nil {
			return fmt.Errorf("serve relay: %w", err)
		}
		return nil
	})
}
