package interfaces

import (
	"context"
	"time"

	"market-feed/src/models"
)

// -----------------------------------------------------------------------------
// IFeedControl is what remote control surfaces (gRPC) may do to a running feed.
// -----------------------------------------------------------------------------

type IFeedControl interface {
	Replay(from time.Time, speed float64)
	SetSpeed(speed float64)
	Pause()
	StopAndResume()
	StopAndClear()
	State() models.MFeedState

	// SetSymbols replaces the symbols of every observed subscription.
	SetSymbols(ctx context.Context, symbols []string) error
}
