package transport

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/observability"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBuffer     = 256
)

// Config tunes the WebSocket endpoint
type Config struct {
	TrustProxy     bool
	AllowedOrigins []string
	// PingInterval must be shorter than PongWait. Zero derives it from PongWait.
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	GuardInterval  time.Duration
	MaxMessageSize int64
	SendBuffer     int
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = defaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = defaultPongWait
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = (c.PongWait * 9) / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	return c
}

// Server admits WebSocket connections through the gateway and serves their
// events
type Server struct {
	ctx      context.Context
	gw       *gateway.Gateway
	hub      *Hub
	registry *Registry
	cfg      Config
	upgrader websocket.Upgrader
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewServer creates a server. ctx bounds the lifetime of every connection it
// accepts.
func NewServer(ctx context.Context, gw *gateway.Gateway, hub *Hub, registry *Registry, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	cfg = cfg.withDefaults()
	s := &Server{
		ctx:      ctx,
		gw:       gw,
		hub:      hub,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{Subprotocol},
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the connection hub
func (s *Server) Hub() *Hub { return s.hub }

// checkOrigin allows requests without an Origin header (non-browser clients)
// and otherwise requires an exact match. An empty allow list admits any origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// ServeHTTP runs admission before the upgrade so refused clients get a plain
// HTTP status and the public refusal message
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	h, scope := HandshakeFromRequest(r, s.cfg.TrustProxy)
	conn := gateway.NewConn(h)
	conn.Attributes = scope
	logger := s.logger.WithFields(map[string]interface{}{
		"conn_id":     conn.ID,
		"remote_addr": conn.RemoteAddr,
	})

	if err := s.gw.Admit(r.Context(), conn); err != nil {
		if r.Context().Err() != nil {
			return
		}
		logger.WithError(err).Info("Connection refused")
		writeRefusal(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client
		logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := newClient(s, ws, conn, logger.WithField("user_id", conn.UserID()))
	s.hub.register(client)
	s.metrics.ConnectionOpened()
	logger.WithField("user_id", conn.UserID()).Info("Connection admitted")

	client.start()
}

// Shutdown closes every open connection with a going-away frame
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll(websocket.CloseGoingAway, "server shutting down")
	return s.hub.Wait(ctx)
}

func (s *Server) closed(c *Client) {
	s.hub.unregister(c)
	s.metrics.ConnectionClosed()
}
