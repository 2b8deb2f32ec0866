// Package main is the entrypoint for the otpauth service. It serves the
// phone login action endpoint: code issuing, code checks and identity
// reconciliation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hur-delivery/otpauth/internal/server"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:  "otpauth",
		Setup: setup,
	}, nil)
}
