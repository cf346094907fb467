package core

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chatrelay/store"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Server wires the relay engine together: the session registry, the relay
// orchestrator, the auth gate, and the HTTP handlers around them.
type Server struct {
	config   *Config
	db       *store.Store
	registry *SessionRegistry
	relay    *Relay
	logger   *logrus.Logger
}

// NewServer creates a new server instance with all dependencies initialized.
func NewServer(config *Config, db *store.Store, logger *logrus.Logger) (*Server, error) {
	logger.Info("Starting server initialization")

	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT secret is required. Set JWT_SECRET environment variable")
	}
	if config.ProviderURL == "" {
		logger.Warn("PROVIDER_URL is not set; chat turns will fail until it is configured")
	}

	registry := NewSessionRegistry(logger)
	provider := NewProviderClient(config, logger)
	relay := NewRelay(registry, provider, db, config.UpstreamTimeout, logger)

	logger.Info("Server initialization completed successfully")
	return &Server{
		config:   config,
		db:       db,
		registry: registry,
		relay:    relay,
		logger:   logger,
	}, nil
}

// handleRoot reports that the service is up.
func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": "chatrelay server running",
		"status":  "active",
	})
}

// handleStream opens a push connection: it sends the connected handshake as
// the first record, registers the session, and then holds the response open,
// writing heartbeat frames until the peer disconnects or the session is
// closed from elsewhere.
func (s *Server) handleStream(c echo.Context) error {
	claims := authClaims(c)

	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/chat/stream",
		"method":   "GET",
		"clientIP": c.RealIP(),
		"userId":   claims.UserID,
	})
	requestLogger.Info("Push connection requested")

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	session := NewPushSession(c.Response(), s.logger)
	s.registry.Register(session)

	if err := session.Open(); err != nil {
		requestLogger.WithError(err).Error("Push handshake failed")
		session.Close()
		return nil
	}

	// The handler goroutine doubles as the heartbeat writer; session writes
	// from concurrent relays are serialized against it inside the session.
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			requestLogger.WithField("clientId", session.ID).Info("Peer disconnected")
			session.Close()
			return nil
		case <-session.Done():
			return nil
		case <-ticker.C:
			if err := session.Heartbeat(); err != nil {
				// Heartbeat failure already tore the session down
				return nil
			}
		}
	}
}

// handleMessage accepts one chat message and kicks off the relay turn
// asynchronously; the relayed output appears on the caller's push connection.
func (s *Server) handleMessage(c echo.Context) error {
	claims := authClaims(c)

	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/chat/message",
		"method":   "POST",
		"clientIP": c.RealIP(),
		"userId":   claims.UserID,
	})

	var req MessageRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse message request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	if req.Message == "" || req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message and clientId are required"})
	}

	requestLogger.WithFields(logrus.Fields{
		"clientId":      req.ClientID,
		"messageLength": len(req.Message),
	}).Info("Message accepted for relay")

	// Detached from the request context: the turn outlives this response
	go s.relay.Run(context.Background(), claims.UserID, req.ClientID, req.Message)

	return c.JSON(http.StatusOK, map[string]any{"success": true})
}

// handleHistory returns the caller's persisted chat history, newest first.
func (s *Server) handleHistory(c echo.Context) error {
	claims := authClaims(c)

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val > 0 && val <= 500 {
			limit = val
		}
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		if val, err := strconv.Atoi(raw); err == nil && val >= 0 {
			offset = val
		}
	}

	messages, err := s.db.UserMessages(c.Request().Context(), claims.UserID, limit, offset)
	if err != nil {
		s.logger.WithError(err).WithField("userId", claims.UserID).Error("Failed to load chat history")
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
	}

	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// handleStatus is the health endpoint: open-session count plus store totals.
func (s *Server) handleStatus(c echo.Context) error {
	requestLogger := s.logger.WithFields(logrus.Fields{
		"endpoint": "/status",
		"method":   "GET",
		"clientIP": c.RealIP(),
	})
	requestLogger.Debug("Health check requested")

	stats, err := s.db.Stats(c.Request().Context())
	if err != nil {
		requestLogger.WithError(err).Warn("Failed to read store stats")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":       "healthy",
		"openSessions": s.registry.Count(),
		"store":        stats,
	})
}

// Shutdown closes every open push session so clients reconnect promptly
// after a restart.
func (s *Server) Shutdown() {
	s.logger.WithField("openSessions", s.registry.Count()).Info("Closing push sessions")
	s.registry.CloseAll()
}

// RegisterRoutes registers all HTTP routes for the server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.GET("/", s.handleRoot)
	e.GET("/status", s.handleStatus)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Auth routes sit outside the gate
	e.POST("/auth/register", s.handleRegister)
	e.POST("/auth/login", s.handleLogin)

	// Everything touching the relay engine is gated
	e.GET("/chat/stream", s.handleStream, s.requireAuth)
	e.POST("/chat/message", s.handleMessage, s.requireAuth)
	e.GET("/chat/history", s.handleHistory, s.requireAuth)

	s.logger.Info("Routes registered successfully")
}
