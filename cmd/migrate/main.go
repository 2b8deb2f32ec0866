// Package main applies the embedded profile store migrations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/hur-delivery/otpauth/internal/config"
	"github.com/hur-delivery/otpauth/internal/postgres"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	if err := run(context.Background(), postgres.Direction(*direction)); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dir postgres.Direction) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Postgres.URL == "" {
		return errors.New("postgres.url is not set (OTPAUTH_POSTGRES__URL)")
	}
	return postgres.Migrate(cfg.Postgres.URL, dir)
}
