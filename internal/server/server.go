// Package server exposes a running session over HTTP: state and history as
// JSON, a WebSocket event stream and a remote interrupt.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"autoloom/internal/logging"
	"autoloom/internal/observability"
	"autoloom/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// Source is the session the server reports on.
type Source interface {
	SessionID() string
	Snapshot() session.Snapshot
	History() *session.History
	Hub() *session.Hub
	Interrupt() *session.Interrupt
	Resume()
}

// Config configures the server.
type Config struct {
	Listen     string
	EnableCORS bool
	Debug      bool
}

// Server serves one session.
type Server struct {
	source   Source
	metrics  *observability.MetricsCollector
	logger   logging.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
	started  time.Time

	httpServer *http.Server
	closing    chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// New builds the router for source. metrics may be nil.
func New(cfg Config, source Source, metrics *observability.MetricsCollector, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	logger = logging.OrNop(logger)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		source:  source,
		metrics: metrics,
		logger:  logger,
		engine:  engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return cfg.EnableCORS || sameOrigin(r) },
		},
		started: time.Now(),
		closing: make(chan struct{}),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/state", s.handleState)
	s.engine.GET("/history", s.handleHistory)
	s.engine.POST("/interrupt", s.handleInterrupt)
	s.engine.POST("/resume", s.handleResume)
	s.engine.GET("/events", s.handleEvents)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the listener and closes every event stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	return err
}

type healthResponse struct {
	Status      string `json:"status"`
	SessionID   string `json:"session_id"`
	Uptime      string `json:"uptime"`
	Subscribers int    `json:"subscribers"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "ok",
		SessionID:   s.source.SessionID(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Subscribers: s.source.Hub().Subscribers(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Snapshot())
}

type historyResponse struct {
	SessionID string                 `json:"session_id"`
	Original  string                 `json:"original"`
	Entries   []session.HistoryEntry `json:"entries"`
}

func (s *Server) handleHistory(c *gin.Context) {
	history := s.source.History()
	format := strings.TrimSpace(c.Query("format"))
	if format == "" || format == "json" {
		c.JSON(http.StatusOK, historyResponse{
			SessionID: s.source.SessionID(),
			Original:  history.Original(),
			Entries:   history.Entries(),
		})
		return
	}
	out, err := history.Export(format)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, out)
}

func (s *Server) handleInterrupt(c *gin.Context) {
	s.source.Interrupt().Raise()
	s.logger.Info("Interrupt raised from %s", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"interrupted": true})
}

func (s *Server) handleResume(c *gin.Context) {
	s.source.Resume()
	c.JSON(http.StatusAccepted, gin.H{"resumed": true})
}

// handleEvents replays the recent backlog, then streams live events.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed: %v", err)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	defer conn.Close()

	events, unsubscribe := s.source.Hub().Subscribe()
	defer unsubscribe()

	if c.Query("replay") != "false" {
		for _, ev := range s.source.Hub().Recent() {
			if err := writeJSON(conn, ev); err != nil {
				return
			}
		}
	}

	// The read loop only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := writeJSON(conn, ev); err != nil {
				s.logger.Debug("WebSocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host
}
