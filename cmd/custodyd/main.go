// Package main starts the single-process dev stack: all three org APIs and
// the event relay sharing one in-memory ledger.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	custodydcmd "github.com/openparcel/custodymesh/internal/cmd/custodyd"
)

func main() {
	cfg, err := custodydcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[CUSTODYD] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := custodydcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
