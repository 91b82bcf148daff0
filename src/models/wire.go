package models

// -----------------------------------------------------------------------------
// Channels of the push bus
// -----------------------------------------------------------------------------

const (
	ChannelHandshake      = "/meta/handshake"
	ChannelDisconnect     = "/meta/disconnect"
	ChannelState          = "/service/state"
	ChannelData           = "/service/data"
	ChannelTimeSeriesData = "/service/timeSeriesData"
	ChannelSchema         = "/service/schema"
	ChannelSub            = "/service/sub"
	ChannelControl        = "/service/onDemand"
)

// AuthTokenExt is the handshake extension key carrying the auth token.
const AuthTokenExt = "com.devexperts.auth.AuthToken"

// -----------------------------------------------------------------------------
// Control operations
// -----------------------------------------------------------------------------

const (
	OpReplay        = "replay"
	OpSetSpeed      = "setSpeed"
	OpStopAndResume = "stopAndResume"
	OpStopAndClear  = "stopAndClear"
)

// -----------------------------------------------------------------------------

// MEnvelope frames every message on the bus.
type MEnvelope struct {
	Channel string `json:"channel"`
	Data    any    `json:"data,omitempty"`
}

// MHandshake is sent by the client right after the socket opens.
type MHandshake struct {
	Ext map[string]any `json:"ext,omitempty"`
}

// MHandshakeReply acknowledges a handshake.
type MHandshakeReply struct {
	Successful bool   `json:"successful"`
	ClientID   string `json:"clientId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// -----------------------------------------------------------------------------

// MTimeSeriesSymbol is one entry of an addTimeSeries list.
type MTimeSeriesSymbol struct {
	EventSymbol string `json:"eventSymbol"`
	FromTime    int64  `json:"fromTime"`
}

// MSubMessage is the outbound subscription diff (or full reset).
type MSubMessage struct {
	Reset            bool                           `json:"reset,omitempty"`
	Add              map[string][]string            `json:"add,omitempty"`
	Remove           map[string][]string            `json:"remove,omitempty"`
	AddTimeSeries    map[string][]MTimeSeriesSymbol `json:"addTimeSeries,omitempty"`
	RemoveTimeSeries map[string][]string            `json:"removeTimeSeries,omitempty"`
}

// IsEmpty reports whether the message carries nothing worth sending.
func (m *MSubMessage) IsEmpty() bool {
	return !m.Reset && len(m.Add) == 0 && len(m.Remove) == 0 &&
		len(m.AddTimeSeries) == 0 && len(m.RemoveTimeSeries) == 0
}

// MControlMessage is the outbound replay/speed control command.
type MControlMessage struct {
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

// MSchemaMessage announces the field list of an event type.
type MSchemaMessage struct {
	Type   string   `json:"type"`
	Fields []string `json:"fields"`
}
