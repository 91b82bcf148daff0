package models

// ReplayMode is the client-side view of the replay/speed state machine.
type ReplayMode string

const (
	ModeLive      ReplayMode = "LIVE"
	ModeReplaying ReplayMode = "REPLAYING"
	ModePaused    ReplayMode = "PAUSED"
	ModeCleared   ReplayMode = "CLEARED"
)

// MFeedState is the observable feed state.
type MFeedState struct {
	Connected       bool    `json:"connected"`
	ReplaySupported *bool   `json:"replaySupported,omitempty"` // unknown until the server says so
	Replay          bool    `json:"replay"`
	Clear           bool    `json:"clear"`
	Time            int64   `json:"time"`
	Speed           float64 `json:"speed"`
}

// Mode derives the replay state machine position.
func (s MFeedState) Mode() ReplayMode {
	switch {
	case s.Clear:
		return ModeCleared
	case s.Replay && s.Speed == 0:
		return ModePaused
	case s.Replay:
		return ModeReplaying
	default:
		return ModeLive
	}
}

// -----------------------------------------------------------------------------

// MStatePatch is a partial state update: present keys overwrite, absent keys are retained.
type MStatePatch struct {
	Connected       *bool    `json:"connected,omitempty"`
	ReplaySupported *bool    `json:"replaySupported,omitempty"`
	Replay          *bool    `json:"replay,omitempty"`
	Clear           *bool    `json:"clear,omitempty"`
	Time            *int64   `json:"time,omitempty"`
	Speed           *float64 `json:"speed,omitempty"`
}

// Apply merges the patch into s.
func (p MStatePatch) Apply(s *MFeedState) {
	if p.Connected != nil {
		s.Connected = *p.Connected
	}
	if p.ReplaySupported != nil {
		v := *p.ReplaySupported
		s.ReplaySupported = &v
	}
	if p.Replay != nil {
		s.Replay = *p.Replay
	}
	if p.Clear != nil {
		s.Clear = *p.Clear
	}
	if p.Time != nil {
		s.Time = *p.Time
	}
	if p.Speed != nil {
		s.Speed = *p.Speed
	}
}

// Ptr returns a pointer to v, handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
