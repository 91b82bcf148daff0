package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"market-feed/src/logger"
	"market-feed/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

// PostgresDB records events in a Postgres schema named after the executable.
type PostgresDB struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
	Clock  func() time.Time
	events *eventTable
}

// -----------------------------------------------------------------------------

func NewPostgresDB(cfg models.MStorageConfig, log *logger.Logger) (*PostgresDB, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresDB{
		Config: cfg,
		Schema: SchemaName(name),
		Logger: log,
		Clock:  time.Now,
	}, nil
}

// SchemaName keeps letters, digits and underscores of name, lowercased.
func SchemaName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == '.':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "market_feed"
	}
	return b.String()
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Initialize() error {
	db, err := sql.Open("postgres", d.Config.DBConnectionString)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	d.events = d.eventTable()
	if err := d.events.create(context.Background()); err != nil {
		return err
	}
	if err := d.createSymbolsTable(); err != nil {
		return err
	}

	d.Logger.Info("PostgresDB initialized successfully (Schema: %s)", d.Schema)
	return nil
}

func (d *PostgresDB) eventTable() *eventTable {
	return &eventTable{
		db:          d.DB,
		name:        fmt.Sprintf(`"%s"."events"`, d.Schema),
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		intType:     "BIGINT",
		logger:      d.Logger,
	}
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) SaveEvents(ctx context.Context, events []*models.MEventRecord) error {
	return d.events.save(ctx, events)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) LoadEvents(ctx context.Context, eventType, symbol string, fromTime int64) ([]*models.MEventRecord, error) {
	return d.events.load(ctx, eventType, symbol, fromTime)
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) CleanupOldData(ctx context.Context) error {
	return d.events.cleanup(ctx, d.Config.RetentionDays, d.Clock())
}

// -----------------------------------------------------------------------------

func (d *PostgresDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
