package interfaces

// -----------------------------------------------------------------------------
// ITransport is the push-bus session the feed engine talks through.
// -----------------------------------------------------------------------------

type ITransport interface {

	// SetHandler installs the receiver of connection and message notifications.
	// Notifications arrive on the transport's own goroutine.
	SetHandler(h ITransportHandler)

	// -----------------------------------------------------------------------------

	// Connect records url and starts connecting. Repeated calls with the same
	// url while connected or connecting are no-ops.
	Connect(url string) error

	// -----------------------------------------------------------------------------

	// ConnectIfNeeded starts a connection with the last known url unless one
	// was already requested.
	ConnectIfNeeded()

	// -----------------------------------------------------------------------------

	// Disconnect closes the session; a later Connect starts a new one.
	Disconnect()

	// -----------------------------------------------------------------------------

	// IsConnected reports whether Publish may be called.
	IsConnected() bool

	// -----------------------------------------------------------------------------

	// Publish sends data on channel. Fails when not connected.
	Publish(channel string, data interface{}) error
}

// -----------------------------------------------------------------------------

// ITransportHandler receives transport notifications.
type ITransportHandler interface {
	OnConnectedChange(connected bool)
	OnMessage(channel string, payload IPayload)
}

// -----------------------------------------------------------------------------

// IPayload is a received message body not yet decoded; the codec in use
// (json or cbor) decides how.
type IPayload interface {
	Decode(v interface{}) error
}
