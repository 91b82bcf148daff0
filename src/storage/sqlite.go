package storage

import (
	"context"
	"database/sql"
	"time"

	"market-feed/src/logger"
	"market-feed/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

// SQLiteDB records events in a local SQLite file.
type SQLiteDB struct {
	Config models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
	Clock  func() time.Time
	events *eventTable
}

// -----------------------------------------------------------------------------

func NewSQLiteDB(cfg models.MStorageConfig, log *logger.Logger) *SQLiteDB {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &SQLiteDB{Config: cfg, Logger: log, Clock: time.Now}
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.DBPath)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}
	// one writer; modernc serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	d.events = &eventTable{
		db:          db,
		name:        "events",
		placeholder: func(int) string { return "?" },
		intType:     "INTEGER",
		logger:      d.Logger,
	}
	if err := d.events.create(context.Background()); err != nil {
		return err
	}
	d.Logger.Info("SQLiteDB initialized (%s)", d.Config.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) SaveEvents(ctx context.Context, events []*models.MEventRecord) error {
	return d.events.save(ctx, events)
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) LoadEvents(ctx context.Context, eventType, symbol string, fromTime int64) ([]*models.MEventRecord, error) {
	return d.events.load(ctx, eventType, symbol, fromTime)
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) CleanupOldData(ctx context.Context) error {
	return d.events.cleanup(ctx, d.Config.RetentionDays, d.Clock())
}

// -----------------------------------------------------------------------------

func (d *SQLiteDB) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
