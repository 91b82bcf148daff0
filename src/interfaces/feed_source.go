package interfaces

import (
	"context"
	"sync"

	"market-feed/src/models"
)

// -----------------------------------------------------------------------------
// IFeedSource produces events for the push server.
// -----------------------------------------------------------------------------

type IFeedSource interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// Schemas lists the event types the source emits.
	Schemas() []models.MEventSchema

	// -----------------------------------------------------------------------------

	// IsRealTime returns true if the source provides real-time data
	IsRealTime() bool

	// -----------------------------------------------------------------------------

	// UpdateSymbols updates the list of symbols being produced
	UpdateSymbols(symbols []string) error

	// -----------------------------------------------------------------------------

	// Start begins producing until ctx is cancelled; wg is released on exit.
	Start(ctx context.Context, out chan<- []*models.MEventRecord, wg *sync.WaitGroup) error

	// -----------------------------------------------------------------------------

	// Stop terminates the source (cancelling the Start context is enough).
	Stop() error
}
