package server

import (
	"time"

	"market-feed/src/helpers"
	"market-feed/src/models"
)

// replayTick is how often a replaying session advances its clock.
const replayTick = 100 * time.Millisecond

// replayState is the virtual clock of a replaying session. Events with
// Time < cursor were already delivered.
type replayState struct {
	time   int64
	cursor int64
	speed  float64
	carry  float64 // sub-millisecond remainder of the last advance
	last   time.Time
	stop   chan struct{}
}

// -----------------------------------------------------------------------------
// OnDemand operations
// -----------------------------------------------------------------------------

func (s *Session) onDemand(msg models.MControlMessage) error {
	switch msg.Op {
	case models.OpReplay:
		from, err := timeArg(msg.Args, 0)
		if err != nil {
			return err
		}
		speed, err := speedArg(msg.Args, 1)
		if err != nil {
			return err
		}
		if !s.server.Config.Server.ReplaySupported {
			return helpers.NewValidationError("replay is not supported by this server")
		}
		s.server.Logger.Info("onDemandReplay[session=%s](%s, %v)", s.ID, time.UnixMilli(from).UTC().Format(time.RFC3339), speed)
		s.startReplay(from, speed)

	case models.OpSetSpeed:
		speed, err := speedArg(msg.Args, 0)
		if err != nil {
			return err
		}
		s.server.Logger.Debug("onDemandSetSpeed[session=%s](%v)", s.ID, speed)
		s.setSpeed(speed)

	case models.OpStopAndResume:
		s.server.Logger.Info("onDemandStopAndResume[session=%s]()", s.ID)
		s.stopAndResume()

	case models.OpStopAndClear:
		s.server.Logger.Info("onDemandStopAndClear[session=%s]()", s.ID)
		s.stopAndClear()

	default:
		return helpers.NewValidationError("unsupported onDemand operation %q", msg.Op)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *Session) startReplay(from int64, speed float64) {
	rs := &replayState{
		time:   from,
		cursor: from,
		speed:  speed,
		last:   time.Now(),
		stop:   make(chan struct{}),
	}

	s.mu.Lock()
	s.stopReplayLocked()
	s.replay = rs
	s.mode = modeReplay
	s.updateCountsLocked()
	s.mu.Unlock()

	s.deliverState(map[string]interface{}{"time": from})
	go s.runReplay(rs)
}

func (s *Session) setSpeed(speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replay != nil {
		s.replay.speed = speed
	}
}

// stopAndResume leaves replay and re-attaches the session to live data.
func (s *Session) stopAndResume() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopReplayLocked()
	s.mode = modeLive
	s.updateCountsLocked()
	s.enqueueLocked(s.framesLocked(s.snapshotLocked())...)
}

// stopAndClear stops both replay and live delivery.
func (s *Session) stopAndClear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopReplayLocked()
	s.mode = modeCleared
	s.updateCountsLocked()
}

func (s *Session) stopReplayLocked() {
	if s.replay != nil {
		close(s.replay.stop)
		s.replay = nil
	}
}

// -----------------------------------------------------------------------------
// Replay clock
// -----------------------------------------------------------------------------

// runReplay advances rs until it is stopped or the session closes. The
// virtual clock never runs ahead of the wall clock.
func (s *Session) runReplay(rs *replayState) {
	ticker := time.NewTicker(replayTick)
	defer ticker.Stop()

	for {
		select {
		case <-rs.stop:
			return
		case <-s.done:
			return
		case now := <-ticker.C:
			s.advanceReplay(rs, now)
		}
	}
}

func (s *Session) advanceReplay(rs *replayState, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replay != rs {
		return
	}
	elapsed := now.Sub(rs.last)
	rs.last = now

	advance := float64(elapsed)/float64(time.Millisecond)*rs.speed + rs.carry
	step := int64(advance)
	rs.carry = advance - float64(step)
	if step <= 0 {
		return
	}

	next := rs.time + step
	if wall := now.UnixMilli(); next > wall {
		next = wall
	}
	if next <= rs.time {
		return
	}

	events := s.server.History.Between(s.keysLocked(), rs.cursor, next+1)
	rs.time = next
	rs.cursor = next + 1

	regular, ts := s.routeLocked(events)
	s.enqueueLocked(s.framesLocked(regular, ts)...)

	frame, err := s.server.codec.Encode(models.ChannelState, map[string]interface{}{"time": next})
	if err != nil {
		s.server.Logger.Error("session=%s: encode state: %v", s.ID, err)
		return
	}
	s.enqueueLocked(frame)
}
