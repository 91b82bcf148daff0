package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"market-feed/src/logger"
	"market-feed/src/models"
	"market-feed/src/transport"
	"market-feed/src/utils"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// PushServer
// -----------------------------------------------------------------------------

// PushServer is a reference push bus: it accepts feed sessions over
// websocket, tracks what each of them subscribed to and fans source events
// out to them. It also answers time-series history and replay requests from
// its HistoryStore.
type PushServer struct {
	Config  *models.MConfig
	Logger  *logger.Logger
	History *utils.HistoryStore
	engine  *gin.Engine
	codec   transport.Codec
	httpSrv *http.Server

	schemasMu sync.RWMutex
	schemas   map[string]models.MEventSchema

	// Sessions are added and removed by the hub goroutine only.
	sessionsMu sync.RWMutex
	sessions   map[string]*Session

	broadcast  chan []*models.MEventRecord
	register   chan *Session
	unregister chan *Session
	quit       chan struct{}
	stopOnce   sync.Once
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewPushServer(cfg *models.MConfig, history *utils.HistoryStore, l *logger.Logger) (*PushServer, error) {
	if l == nil {
		l = logger.NewNopLogger()
	}
	codec, err := transport.NewCodec(cfg.Server.Codec)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = utils.NewHistoryStore(cfg.Server.HistorySize, 0, l.Named("history"))
	}

	// Set Gin mode
	if cfg.LogLevel != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &PushServer{
		Config:     cfg,
		Logger:     l,
		History:    history,
		engine:     gin.New(),
		codec:      codec,
		schemas:    models.KnownSchemas(),
		sessions:   make(map[string]*Session),
		broadcast:  make(chan []*models.MEventRecord, 256),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		quit:       make(chan struct{}),
	}
	s.engine.Use(gin.Recovery())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	s.setupRoutes()
	go s.handleSessions()
	return s, nil
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *PushServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/sessions", s.getSessions)
	s.engine.GET("/api/schemas", s.getSchemas)

	// Push bus endpoint
	s.engine.GET("/feed", s.handleWebSocket)
}

// Handler exposes the routes, e.g. for httptest.
func (s *PushServer) Handler() http.Handler {
	return s.engine
}

// RegisterSchema makes an event type publishable. Sources announce their
// types through it before the first Broadcast.
func (s *PushServer) RegisterSchema(schema models.MEventSchema) {
	s.schemasMu.Lock()
	s.schemas[schema.Name] = schema
	s.schemasMu.Unlock()
}

func (s *PushServer) schema(eventType string) (models.MEventSchema, bool) {
	s.schemasMu.RLock()
	defer s.schemasMu.RUnlock()
	sc, ok := s.schemas[eventType]
	return sc, ok
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start listens on the configured address until Stop is called.
func (s *PushServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.Logger.Info("Starting push server on %s (codec %s)", addr, s.codec.Name())

	s.httpSrv = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop closes every session and the listener.
func (s *PushServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)
		for _, sess := range s.Sessions() {
			sess.Close()
		}
		if s.httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(ctx)
		}
	})
	return err
}

// Sessions returns the live sessions.
func (s *PushServer) Sessions() []*Session {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *PushServer) getHealth(c *gin.Context) {
	s.sessionsMu.RLock()
	connections := len(s.sessions)
	s.sessionsMu.RUnlock()

	earliest, _ := s.History.EarliestTime()
	c.JSON(http.StatusOK, gin.H{
		"status":           "ok",
		"connections":      connections,
		"streams":          s.History.StreamCount(),
		"earliest_history": earliest,
		"replay_supported": s.Config.Server.ReplaySupported,
	})
}

// -----------------------------------------------------------------------------

func (s *PushServer) getSessions(c *gin.Context) {
	sessions := s.Sessions()
	stats := make([]models.MSessionStats, 0, len(sessions))
	for _, sess := range sessions {
		stats = append(stats, sess.Stats())
	}
	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------

func (s *PushServer) getSchemas(c *gin.Context) {
	s.schemasMu.RLock()
	defer s.schemasMu.RUnlock()

	out := make([]models.MEventSchema, 0, len(s.schemas))
	for _, sc := range s.schemas {
		out = append(out, sc)
	}
	c.JSON(http.StatusOK, out)
}
