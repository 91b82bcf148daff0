package interfaces

import "market-feed/src/models"

// -----------------------------------------------------------------------------
// IDataExchanger is the outbound side of the push server.
// -----------------------------------------------------------------------------

type IDataExchanger interface {

	// Broadcast stores events in history and pushes them to subscribed sessions.
	Broadcast(events []*models.MEventRecord)

	// -----------------------------------------------------------------------------

	// Start the server
	Start() error

	// -----------------------------------------------------------------------------

	// Stop the server gracefully
	Stop() error
}
