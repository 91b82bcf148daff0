package server

import (
	"sync"
	"time"

	"market-feed/src/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	handshakeWait  = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBuffer     = 256
)

type sessionMode int

const (
	modeLive sessionMode = iota
	modeReplay
	modeCleared
)

type subKey struct {
	eventType string
	symbol    string
}

// -----------------------------------------------------------------------------
// Session Structure
// -----------------------------------------------------------------------------

// Session is one connected feed. Everything below mu is guarded by it;
// frames are queued while holding mu so live data, history and state
// changes keep their order on the wire.
type Session struct {
	ID     string
	server *PushServer
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	mu         sync.Mutex
	regular    map[subKey]struct{}
	timeSeries map[subKey]int64 // fromTime per key
	announced  map[string]bool  // types whose schema was sent
	mode       sessionMode
	replay     *replayState
	stats      models.MSessionStats
}

// -----------------------------------------------------------------------------

func newSession(s *PushServer, conn *websocket.Conn, remoteAddr string) *Session {
	now := time.Now()
	id := uuid.NewString()
	return &Session{
		ID:         id,
		server:     s,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		regular:    make(map[subKey]struct{}),
		timeSeries: make(map[subKey]int64),
		announced:  make(map[string]bool),
		stats: models.MSessionStats{
			SessionID:  id,
			RemoteAddr: remoteAddr,
			CreatedAt:  now,
			LastActive: now,
		},
	}
}

// -----------------------------------------------------------------------------

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() models.MSessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from the feed
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (s *Session) readPump() {
	defer func() {
		select {
		case s.server.unregister <- s:
		case <-s.server.quit:
		}
		s.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.server.Logger.Info("WebSocket error: %v", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		s.mu.Lock()
		s.stats.MessagesRead++
		s.stats.LastActive = time.Now()
		s.mu.Unlock()

		channel, payload, err := s.server.codec.Decode(frame)
		if err != nil {
			s.server.Logger.Warning("session=%s: dropping frame: %v", s.ID, err)
			continue
		}
		if !s.server.dispatch(s, channel, payload) {
			return
		}
	}
}

// -----------------------------------------------------------------------------
// writePump - sends queued frames to the feed
// -----------------------------------------------------------------------------

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	frameType := s.server.codec.FrameType()
	for {
		select {
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(frameType, frame); err != nil {
				s.server.Logger.Info("session=%s: write error: %v", s.ID, err)
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

// enqueueLocked queues frames without blocking. A session whose buffer is
// full is closed so it cannot stall the hub.
func (s *Session) enqueueLocked(frames ...[]byte) {
	for _, f := range frames {
		select {
		case s.send <- f:
			s.stats.MessagesWritten++
			s.stats.LastActive = time.Now()
		case <-s.done:
			return
		default:
			s.server.Logger.Warning("session=%s: send buffer full, closing", s.ID)
			s.Close()
			return
		}
	}
}

// -----------------------------------------------------------------------------

// deliverLive pushes freshly broadcast events to a live session.
func (s *Session) deliverLive(events []*models.MEventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode != modeLive {
		return
	}
	regular, ts := s.routeLocked(events)
	s.enqueueLocked(s.framesLocked(regular, ts)...)
}

// -----------------------------------------------------------------------------

// deliverState pushes a partial state change on the state channel.
func (s *Session) deliverState(change map[string]interface{}) {
	frame, err := s.server.codec.Encode(models.ChannelState, change)
	if err != nil {
		s.server.Logger.Error("session=%s: encode state: %v", s.ID, err)
		return
	}
	s.mu.Lock()
	s.enqueueLocked(frame)
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

// routeLocked splits events into what this session receives on the data
// channel and on the time-series channel. An event may go to both.
func (s *Session) routeLocked(events []*models.MEventRecord) (regular, ts []*models.MEventRecord) {
	for _, ev := range events {
		key := subKey{ev.Type, ev.Symbol}
		if _, ok := s.regular[key]; ok {
			regular = append(regular, ev)
		}
		if from, ok := s.timeSeries[key]; ok && ev.Time >= from {
			ts = append(ts, ev)
		}
	}
	return regular, ts
}

// -----------------------------------------------------------------------------

// framesLocked encodes records as one data message per event type, preceded
// by the type's schema the first time this session sees it.
func (s *Session) framesLocked(regular, ts []*models.MEventRecord) [][]byte {
	var frames [][]byte
	for _, part := range []struct {
		channel string
		records []*models.MEventRecord
	}{
		{models.ChannelData, regular},
		{models.ChannelTimeSeriesData, ts},
	} {
		for _, b := range groupByType(part.records) {
			schema, ok := s.server.schema(b.eventType)
			if !ok {
				continue
			}
			if !s.announced[schema.Name] {
				frame, err := s.server.codec.Encode(models.ChannelSchema, models.MSchemaMessage{Type: schema.Name, Fields: schema.Fields})
				if err != nil {
					s.server.Logger.Error("session=%s: encode schema %s: %v", s.ID, schema.Name, err)
					continue
				}
				frames = append(frames, frame)
				s.announced[schema.Name] = true
			}
			frame, err := s.server.codec.Encode(part.channel, dataMessage(schema, b.records))
			if err != nil {
				s.server.Logger.Error("session=%s: encode %s batch: %v", s.ID, schema.Name, err)
				continue
			}
			frames = append(frames, frame)
			s.stats.EventsWritten += int64(len(b.records))
		}
	}
	return frames
}

// -----------------------------------------------------------------------------

// snapshotLocked collects what a freshly (re)attached session should see:
// the latest event of every regular key and the history of every
// time-series key.
func (s *Session) snapshotLocked() (regular, ts []*models.MEventRecord) {
	for key := range s.regular {
		if ev := s.server.History.Latest(key.eventType, key.symbol); ev != nil {
			regular = append(regular, ev)
		}
	}
	for key, from := range s.timeSeries {
		ts = append(ts, s.server.History.Since(key.eventType, key.symbol, from)...)
	}
	return regular, ts
}

// keysLocked lists subscribed symbols per type across both sets.
func (s *Session) keysLocked() map[string][]string {
	seen := make(map[subKey]bool)
	keys := make(map[string][]string)
	add := func(k subKey) {
		if !seen[k] {
			seen[k] = true
			keys[k.eventType] = append(keys[k.eventType], k.symbol)
		}
	}
	for k := range s.regular {
		add(k)
	}
	for k := range s.timeSeries {
		add(k)
	}
	return keys
}

func (s *Session) updateCountsLocked() {
	s.stats.RegularSymbols = len(s.regular)
	s.stats.TimeSeriesSymbols = len(s.timeSeries)
	s.stats.Replaying = s.mode == modeReplay
	s.stats.Cleared = s.mode == modeCleared
}
