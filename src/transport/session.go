package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"market-feed/src/helpers"
	"market-feed/src/interfaces"
	"market-feed/src/logger"
	"market-feed/src/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait               = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

// -----------------------------------------------------------------------------
// WebSocketSession
// -----------------------------------------------------------------------------

// WebSocketSession is a push-bus session over one websocket connection.
// It never reconnects on its own: a dropped connection is reported as
// connected=false and the owner decides what to do.
type WebSocketSession struct {
	log              *logger.Logger
	codec            Codec
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration

	mu               sync.Mutex
	handler          interfaces.ITransportHandler
	url              string
	token            string
	maxSendSize      int
	connectRequested bool
	generation       int
	active           bool // a run goroutine owns the current generation
	conn             *websocket.Conn
	connected        bool
	clientID         string

	writeMu sync.Mutex
}

// -----------------------------------------------------------------------------

// NewWebSocketSession builds a session from the feed section of the config.
func NewWebSocketSession(cfg models.MFeedConfig, log *logger.Logger) (*WebSocketSession, error) {
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	timeout := defaultHandshakeTimeout
	if cfg.HandshakeTimeout > 0 {
		timeout = time.Duration(cfg.HandshakeTimeout) * time.Second
	}
	return &WebSocketSession{
		log:              log,
		codec:            codec,
		dialer:           &websocket.Dialer{HandshakeTimeout: timeout, Proxy: http.ProxyFromEnvironment},
		handshakeTimeout: timeout,
		url:              cfg.URL,
		token:            cfg.AuthToken,
		maxSendSize:      cfg.MaxSendMessageSize,
	}, nil
}

// -----------------------------------------------------------------------------

func (s *WebSocketSession) SetHandler(h interfaces.ITransportHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// SetAuthToken sets the token sent in the handshake ext of the next connection.
func (s *WebSocketSession) SetAuthToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// SetMaxSendMessageSize rejects outbound frames larger than size bytes (0 = unlimited).
func (s *WebSocketSession) SetMaxSendMessageSize(size int) {
	s.mu.Lock()
	s.maxSendSize = size
	s.mu.Unlock()
}

// ClientID is the id the server assigned in the last successful handshake.
func (s *WebSocketSession) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

func (s *WebSocketSession) Connect(url string) error {
	s.mu.Lock()
	if url == "" {
		url = s.url
	}
	if url == "" {
		s.mu.Unlock()
		return helpers.NewConfigurationError("no feed url configured", nil)
	}
	s.connectRequested = true
	if url == s.url && s.active {
		s.mu.Unlock()
		return nil
	}
	s.url = url
	old, wasConnected := s.detachLocked()
	s.generation++
	s.active = true
	gen := s.generation
	s.mu.Unlock()

	s.closeConn(old)
	if wasConnected {
		s.notifyConnected(false)
	}
	s.log.Info("Connecting with url: %s", url)
	go s.run(gen, url)
	return nil
}

func (s *WebSocketSession) ConnectIfNeeded() {
	s.mu.Lock()
	requested := s.connectRequested
	s.mu.Unlock()
	if requested {
		return
	}
	if err := s.Connect(""); err != nil {
		s.log.Warning("connect: %v", err)
	}
}

func (s *WebSocketSession) Disconnect() {
	s.mu.Lock()
	old, wasConnected := s.detachLocked()
	s.generation++
	s.mu.Unlock()

	if old == nil {
		return
	}
	s.log.Info("Disconnecting")
	if wasConnected {
		_ = s.writeFrame(old, models.ChannelDisconnect, struct{}{})
	}
	s.closeConn(old)
	if wasConnected {
		s.notifyConnected(false)
	}
}

func (s *WebSocketSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// detachLocked forgets the current connection; the caller closes it.
func (s *WebSocketSession) detachLocked() (*websocket.Conn, bool) {
	old, wasConnected := s.conn, s.connected
	s.conn = nil
	s.connected = false
	s.active = false
	return old, wasConnected
}

func (s *WebSocketSession) closeConn(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

// -----------------------------------------------------------------------------

// run dials, performs the handshake and then reads until the connection dies
// or a newer generation replaces it.
func (s *WebSocketSession) run(gen int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.handshakeTimeout)
	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	cancel()
	if err != nil {
		s.log.Warning("Connection to %s failed: %v", url, err)
		s.mu.Lock()
		if gen == s.generation {
			s.active = false
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	token := s.token
	s.mu.Unlock()

	reply, err := s.handshake(conn, token)
	if err != nil || !reply.Successful {
		if err == nil {
			err = fmt.Errorf("%s", reply.Error)
		}
		s.log.Info("Authentication failed or no token provided: %v", err)
		s.drop(gen, conn)
		return
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.connected = true
	s.clientID = reply.ClientID
	s.mu.Unlock()

	s.log.Info("Connection established (client %s)", reply.ClientID)
	s.notifyConnected(true)
	s.readLoop(gen, conn)
}

func (s *WebSocketSession) handshake(conn *websocket.Conn, token string) (*models.MHandshakeReply, error) {
	hs := models.MHandshake{}
	if token != "" {
		s.log.Debug("Using auth token")
		hs.Ext = map[string]interface{}{models.AuthTokenExt: token}
	}
	if err := s.writeFrame(conn, models.ChannelHandshake, hs); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return nil, helpers.NewTransportError("handshake reply", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	channel, payload, err := s.codec.Decode(frame)
	if err != nil {
		return nil, err
	}
	if channel != models.ChannelHandshake {
		return nil, helpers.NewTransportError("expected handshake reply, got "+channel, nil)
	}
	var reply models.MHandshakeReply
	if err := payload.Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (s *WebSocketSession) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("WebSocket error: %v", err)
			}
			s.drop(gen, conn)
			return
		}
		channel, payload, err := s.codec.Decode(frame)
		if err != nil {
			s.log.Warning("Dropping frame: %v", err)
			continue
		}
		s.log.Debug("Received %s", channel)
		if h := s.currentHandler(); h != nil {
			h.OnMessage(channel, payload)
		}
	}
}

// drop tears down conn if it still belongs to generation gen.
func (s *WebSocketSession) drop(gen int, conn *websocket.Conn) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	_, wasConnected := s.detachLocked()
	s.mu.Unlock()

	_ = conn.Close()
	if wasConnected {
		s.log.Info("Connection lost")
		s.notifyConnected(false)
	}
}

// -----------------------------------------------------------------------------
// Outbound
// -----------------------------------------------------------------------------

func (s *WebSocketSession) Publish(channel string, data interface{}) error {
	s.mu.Lock()
	conn, connected, limit := s.conn, s.connected, s.maxSendSize
	s.mu.Unlock()
	if !connected || conn == nil {
		return helpers.NewTransportError("publish "+channel, fmt.Errorf("not connected"))
	}

	frame, err := s.codec.Encode(channel, data)
	if err != nil {
		return err
	}
	if limit > 0 && len(frame) > limit {
		return helpers.NewValidationError("%s message of %d bytes exceeds limit %d", channel, len(frame), limit)
	}
	s.log.Debug("Publishing to %s (%d bytes)", channel, len(frame))
	return s.write(conn, frame)
}

func (s *WebSocketSession) writeFrame(conn *websocket.Conn, channel string, data interface{}) error {
	frame, err := s.codec.Encode(channel, data)
	if err != nil {
		return err
	}
	return s.write(conn, frame)
}

func (s *WebSocketSession) write(conn *websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(s.codec.FrameType(), frame); err != nil {
		return helpers.NewTransportError("write", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *WebSocketSession) currentHandler() interfaces.ITransportHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

func (s *WebSocketSession) notifyConnected(connected bool) {
	if h := s.currentHandler(); h != nil {
		h.OnConnectedChange(connected)
	}
}
