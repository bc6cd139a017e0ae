// Command yukactl is the operator CLI: schema migrations, usage stats, a
// preview of the adaptive model order, and management of the stored chat token.
//
// Usage:
//
//	yukactl migrate up|down|version
//	yukactl stats
//	yukactl order
//	yukactl token set --access TOKEN [--refresh TOKEN] [--expires-in 4h] [--validate]
//	yukactl token seal [--dry-run]
//
// Environment Variables:
//
//	DB_DSN: Database connection string
//	ENCRYPTION_KEY: Base64-encoded 32-byte key; tokens are sealed when set
//	MODELS_FILE: optional model catalog used by "order"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultEnv()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
