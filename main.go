// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/verityscan/verity-cli/cmd"
)

// main is the entry point for the verity CLI application.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.Execute(ctx)
}
