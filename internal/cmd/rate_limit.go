package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pcroast/pcroast/internal/config"
	"github.com/pcroast/pcroast/internal/store"
)

var rateLimitCmd = &cobra.Command{
	Use:   "rate-limit",
	Short: "Inspect and reset persisted per-IP rate limit windows",
	Long: `Inspect and reset the per-IP windows kept by the libsql rate limit backend.

These commands read the same database the server uses when
rate_limit.backend is "libsql". The in-memory backend has no state to inspect.`,
}

// openRateLimitStore loads config and opens the libsql store backing the limiter.
func openRateLimitStore(ctx context.Context) (*config.Config, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func init() {
	rateLimitCmd.AddCommand(rateLimitListCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}
