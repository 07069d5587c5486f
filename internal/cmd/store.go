package cmd

import (
	"context"

	"github.com/pcroast/pcroast/internal/config"
	"github.com/pcroast/pcroast/internal/store"
)

// openStore opens the libsql store named by cfg and applies migrations.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	db, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
