package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"market-feed/src/logger"
	"market-feed/src/models"

	"github.com/google/uuid"
)

// eventTable holds the SQL shared by the SQLite and Postgres stores. Every
// record is one row keyed by (event_type, symbol, event_key); time-series
// records use their index as the key so a newer version replaces the row,
// other records get a fresh uuid.
type eventTable struct {
	db          *sql.DB
	name        string // possibly schema-qualified, already quoted
	placeholder func(n int) string
	intType     string
	logger      *logger.Logger
}

// -----------------------------------------------------------------------------

func (t *eventTable) create(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			event_type TEXT NOT NULL,
			symbol TEXT NOT NULL,
			event_key TEXT NOT NULL,
			time %s NOT NULL,
			fields TEXT NOT NULL,
			PRIMARY KEY (event_type, symbol, event_key)
		);
	`, t.name, t.intType)
	if _, err := t.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s: %w", t.name, err)
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (event_type, symbol, time)`,
		indexName(t.name), t.name)
	if _, err := t.db.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("failed to index %s: %w", t.name, err)
	}
	return nil
}

// indexName derives an unqualified index name from a table name.
func indexName(table string) string {
	name := table[strings.LastIndex(table, ".")+1:]
	return strings.Trim(name, `"`) + "_by_time"
}

// -----------------------------------------------------------------------------

func (t *eventTable) insertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (event_type, symbol, event_key, time, fields)
		VALUES (%s, %s, %s, %s, %s)
		ON CONFLICT (event_type, symbol, event_key) DO UPDATE SET
			time = excluded.time,
			fields = excluded.fields
	`, t.name, t.placeholder(1), t.placeholder(2), t.placeholder(3), t.placeholder(4), t.placeholder(5))
}

// eventKey is the row key of a record within its (type, symbol).
func eventKey(e *models.MEventRecord) string {
	if _, ok := e.Fields[models.FieldIndex]; ok {
		return fmt.Sprintf("i:%d", e.Index)
	}
	return uuid.NewString()
}

// -----------------------------------------------------------------------------

func (t *eventTable) save(ctx context.Context, events []*models.MEventRecord) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, t.insertQuery())
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		fields, err := json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", e.Type, e.Symbol, err)
		}
		if _, err := stmt.ExecContext(ctx, e.Type, e.Symbol, eventKey(e), e.Time, string(fields)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// -----------------------------------------------------------------------------

func (t *eventTable) load(ctx context.Context, eventType, symbol string, fromTime int64) ([]*models.MEventRecord, error) {
	query := fmt.Sprintf(`
		SELECT time, fields FROM %s
		WHERE event_type = %s AND symbol = %s AND time >= %s
		ORDER BY time, event_key
	`, t.name, t.placeholder(1), t.placeholder(2), t.placeholder(3))

	rows, err := t.db.QueryContext(ctx, query, eventType, symbol, fromTime)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.MEventRecord
	for rows.Next() {
		var ts int64
		var raw string
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, err
		}
		fields := make(map[string]any)
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", eventType, symbol, err)
		}
		rec := models.NewEventRecord(eventType, fields)
		rec.Time = ts
		out = append(out, rec)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

// cleanup deletes rows older than retentionDays. Zero keeps everything.
func (t *eventTable) cleanup(ctx context.Context, retentionDays int, now time.Time) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := now.UTC().AddDate(0, 0, -retentionDays).UnixMilli()
	t.logger.Info("Cleaning up events older than %d days (time < %d)...", retentionDays, cutoff)

	res, err := t.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE time < %s`, t.name, t.placeholder(1)), cutoff)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", t.name, err)
	}
	n, _ := res.RowsAffected()
	t.logger.Info("Cleanup completed (%d rows)", n)
	return nil
}
