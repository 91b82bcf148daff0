package server

import (
	"sort"

	"market-feed/src/interfaces"
	"market-feed/src/models"
)

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// subRequest is the server view of a subscription message. Time-series
// entries stay untyped so a broken fromTime can be skipped per symbol.
type subRequest struct {
	Reset            bool                                `json:"reset"`
	Add              map[string][]string                 `json:"add"`
	Remove           map[string][]string                 `json:"remove"`
	AddTimeSeries    map[string][]map[string]interface{} `json:"addTimeSeries"`
	RemoveTimeSeries map[string][]string                 `json:"removeTimeSeries"`
}

// dispatch handles one inbound message. It returns false when the session
// asked to go away.
func (s *PushServer) dispatch(sess *Session, channel string, payload interfaces.IPayload) bool {
	switch channel {
	case models.ChannelSub:
		var req subRequest
		if err := payload.Decode(&req); err != nil {
			s.Logger.Warning("sub[session=%s]: %v", sess.ID, err)
			return true
		}
		sess.sub(req)

	case models.ChannelControl:
		var msg models.MControlMessage
		if err := payload.Decode(&msg); err != nil {
			s.Logger.Warning("onDemand[session=%s]: %v", sess.ID, err)
			return true
		}
		if err := sess.onDemand(msg); err != nil {
			s.Logger.Warning("onDemand[session=%s]: failed to invoke %s with %v: %v", sess.ID, msg.Op, msg.Args, err)
		}

	case models.ChannelDisconnect:
		s.Logger.Info("session=%s disconnecting", sess.ID)
		return false

	default:
		s.Logger.Debug("session=%s: ignoring message on %s", sess.ID, channel)
	}
	return true
}

// -----------------------------------------------------------------------------
// Subscription processing
// -----------------------------------------------------------------------------

// sub applies a subscription message: reset first, then remove before add,
// regular before time-series.
func (s *Session) sub(req subRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.server.Logger.Debug("sub[session=%s]: reset=%v add=%v remove=%v addTimeSeries=%v removeTimeSeries=%v",
		s.ID, req.Reset, req.Add, req.Remove, req.AddTimeSeries, req.RemoveTimeSeries)

	if req.Reset {
		s.regular = make(map[subKey]struct{})
		s.timeSeries = make(map[subKey]int64)
	}
	for eventType, symbols := range req.Remove {
		for _, sym := range symbols {
			delete(s.regular, subKey{eventType, sym})
		}
	}

	var regular, ts []*models.MEventRecord
	for _, eventType := range sortedKeys(req.Add) {
		if _, ok := s.server.schema(eventType); !ok {
			s.server.Logger.Warning("sub[session=%s]: unknown event type %s", s.ID, eventType)
			continue
		}
		for _, sym := range req.Add[eventType] {
			key := subKey{eventType, sym}
			if _, dup := s.regular[key]; dup {
				continue
			}
			s.regular[key] = struct{}{}
			if s.mode == modeLive {
				if ev := s.server.History.Latest(eventType, sym); ev != nil {
					regular = append(regular, ev)
				}
			}
		}
	}

	for eventType, symbols := range req.RemoveTimeSeries {
		for _, sym := range symbols {
			delete(s.timeSeries, subKey{eventType, sym})
		}
	}
	for _, eventType := range sortedKeys(req.AddTimeSeries) {
		schema, ok := s.server.schema(eventType)
		if !ok || !schema.TimeSeries {
			s.server.Logger.Warning("sub[session=%s]: %s is not a time-series event type", s.ID, eventType)
			continue
		}
		for _, entry := range req.AddTimeSeries[eventType] {
			sym, _ := entry[models.FieldEventSymbol].(string)
			fromTime, numeric := models.AsInt64(entry["fromTime"])
			if sym == "" || !numeric {
				// broken entry, ignore it
				continue
			}
			key := subKey{eventType, sym}
			s.timeSeries[key] = fromTime
			ts = append(ts, s.historyLocked(key, fromTime)...)
		}
	}

	s.updateCountsLocked()
	s.enqueueLocked(s.framesLocked(regular, ts)...)
}

// historyLocked returns the stored time-series events of key the session
// has not seen yet in its current mode.
func (s *Session) historyLocked(key subKey, fromTime int64) []*models.MEventRecord {
	switch s.mode {
	case modeLive:
		return s.server.History.Since(key.eventType, key.symbol, fromTime)
	case modeReplay:
		if s.replay == nil || fromTime >= s.replay.cursor {
			return nil
		}
		return s.server.History.Between(map[string][]string{key.eventType: {key.symbol}}, fromTime, s.replay.cursor)
	default:
		return nil
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
