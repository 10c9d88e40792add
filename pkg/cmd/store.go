// Package cmd provides provider factories shared by the binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/relancehq/relance/pkg/store"
	"github.com/relancehq/relance/pkg/store/memory"
	"github.com/relancehq/relance/pkg/store/postgresql"
)

// NewStore creates a store from a database URL. A postgres:// URL selects
// the PostgreSQL store; anything else falls back to the in-memory store for
// local development.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) store.Store {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		pgStore, err := postgresql.NewStore(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL store: %w", err))
		}

		return pgStore
	default:
		return memory.NewStore()
	}
}

func parseProvider(url string) string {
	parts := strings.SplitN(url, "://", 2)

	return parts[0]
}
