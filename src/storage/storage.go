package storage

import (
	"fmt"
	"strings"

	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"
)

// New returns the store selected by cfg.DBType ("sqlite" or "postgres").
// It is not initialized.
func New(cfg models.MStorageConfig, log *logger.Logger) (interfaces.IEventStore, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "sqlite":
		return NewSQLiteDB(cfg, log), nil
	case "postgres", "postgresql":
		return NewPostgresDB(cfg, log)
	default:
		return nil, fmt.Errorf("unknown db_type %q", cfg.DBType)
	}
}
