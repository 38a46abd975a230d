// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// NewDeviceContainer opens the whatsmeow device store and applies its
// migrations. The database type doubles as the database/sql driver name.
func NewDeviceContainer(ctx context.Context, cfg DatabaseConfig, log zerolog.Logger) (*sqlstore.Container, error) {
	if !supportedDatabaseTypes[cfg.Type] {
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	dbLog := waLog.Zerolog(log.With().Str("component", "device_store").Logger())
	container, err := sqlstore.New(ctx, cfg.Type, cfg.URI, dbLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device store: %w", cfg.Type, err)
	}
	return container, nil
}
