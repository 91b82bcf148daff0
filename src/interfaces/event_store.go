package interfaces

import (
	"context"

	"market-feed/src/models"
)

// -----------------------------------------------------------------------------
// IEventStore records delivered events.
// -----------------------------------------------------------------------------

type IEventStore interface {

	// Initialize sets up the database schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// SaveEvents inserts a batch of records; time-series records replace an
	// earlier row with the same (type, symbol, index).
	SaveEvents(ctx context.Context, events []*models.MEventRecord) error

	// -----------------------------------------------------------------------------

	// LoadEvents returns records of eventType/symbol with time >= fromTime, oldest first.
	LoadEvents(ctx context.Context, eventType, symbol string, fromTime int64) ([]*models.MEventRecord, error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes data older than the retention policy.
	CleanupOldData(ctx context.Context) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}

// -----------------------------------------------------------------------------
// ISymbolResolver expands symbol references held by a store into symbols.
// -----------------------------------------------------------------------------

type ISymbolResolver interface {
	ResolveSymbols(ctx context.Context, owner string, rawSymbols []string) ([]string, error)
}
