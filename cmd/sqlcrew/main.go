package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sqlcrew/sqlcrew/internal/cli/sqlcrew"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := sqlcrew.Run(ctx, os.Args[1:], sqlcrew.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(int(code))
}
