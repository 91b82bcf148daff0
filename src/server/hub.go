package server

import (
	"net/http"
	"time"

	"market-feed/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleSessions is the main Hub loop
func (s *PushServer) handleSessions() {
	for {
		select {
		case sess := <-s.register:
			s.sessionsMu.Lock()
			s.sessions[sess.ID] = sess
			s.sessionsMu.Unlock()
			s.Logger.Info("Create session=%s", sess.ID)

		case sess := <-s.unregister:
			s.sessionsMu.Lock()
			_, ok := s.sessions[sess.ID]
			delete(s.sessions, sess.ID)
			s.sessionsMu.Unlock()
			if ok {
				sess.Close()
				s.Logger.Info("Close session=%s", sess.ID)
			}

		case events := <-s.broadcast:
			for _, sess := range s.Sessions() {
				// Slow sessions close themselves instead of blocking the Hub
				sess.deliverLive(events)
			}

		case <-s.quit:
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast stores events in the history and queues them for live sessions.
func (s *PushServer) Broadcast(events []*models.MEventRecord) {
	if len(events) == 0 {
		return
	}
	s.History.Add(events...)

	select {
	case s.broadcast <- events:
	case <-s.quit:
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *PushServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	sess := newSession(s, conn, c.ClientIP())
	if err := s.handshake(sess); err != nil {
		s.Logger.Info("Handshake from %s rejected: %v", c.ClientIP(), err)
		_ = conn.Close()
		return
	}

	select {
	case s.register <- sess:
	case <-s.quit:
		_ = conn.Close()
		return
	}

	// Start goroutines for reading/writing
	go sess.writePump()
	go sess.readPump()

	sess.deliverState(map[string]interface{}{"replaySupported": s.Config.Server.ReplaySupported})
}

// -----------------------------------------------------------------------------

// handshake reads the first frame of a session, which must be a handshake,
// checks the auth token when one is configured and answers it.
func (s *PushServer) handshake(sess *Session) error {
	_ = sess.conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, frame, err := sess.conn.ReadMessage()
	if err != nil {
		return err
	}
	_ = sess.conn.SetReadDeadline(time.Time{})

	channel, payload, err := s.codec.Decode(frame)
	if err != nil {
		return err
	}
	if channel != models.ChannelHandshake {
		return errUnexpected(channel)
	}
	var hs models.MHandshake
	if err := payload.Decode(&hs); err != nil {
		// A handshake without data is still a handshake
		hs = models.MHandshake{}
	}

	reply := models.MHandshakeReply{Successful: true, ClientID: sess.ID}
	if want := s.Config.Server.AuthToken; want != "" {
		if got, _ := hs.Ext[models.AuthTokenExt].(string); got != want {
			reply = models.MHandshakeReply{Successful: false, Error: "403::Authentication failed"}
		}
	}

	out, err := s.codec.Encode(models.ChannelHandshake, reply)
	if err != nil {
		return err
	}
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := sess.conn.WriteMessage(s.codec.FrameType(), out); err != nil {
		return err
	}
	if !reply.Successful {
		return errRejected
	}
	return nil
}
