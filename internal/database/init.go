package database

import (
	"context"
	"fmt"

	"github.com/yourusername/backtest-cache/internal/config"
)

// Initialize overlays secrets from AWS when configured and opens the pool.
func Initialize(ctx context.Context, cfg *config.Config) (*DB, error) {
	if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to load database secrets: %w", err)
	}
	return NewDB(ctx, &cfg.Database)
}
