package wsserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	realtime "github.com/NemoZon/real-time-framework"
	"github.com/NemoZon/real-time-framework/internal/logger"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 7070
	DefaultHeartbeatInterval = 30 * time.Second
)

// RateLimitConfig defines optional per-client inbound rate limiting using a
// token bucket. A nil config (or Enabled=false) disables limiting; a client
// exceeding its bucket is disconnected.
type RateLimitConfig struct {
	MessagesPerSecond rate.Limit
	Burst             int
	Enabled           bool
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// Config configures the WebSocket transport.
type Config struct {
	// Host and Port select the listen address (default 0.0.0.0:7070).
	// Ignored when Server is provided.
	Host string
	Port int

	// Path, when non-empty, rejects upgrade requests whose URL does not
	// start with it.
	Path string

	// HeartbeatInterval is the ping cadence (default 30s). A connection
	// that produced no data between two ticks is closed.
	HeartbeatInterval time.Duration

	// Server, when provided, is an externally managed HTTP server whose
	// handler is wrapped to intercept upgrade requests. Its lifecycle stays
	// with the caller.
	Server *http.Server

	// RateLimit optionally enables per-client inbound limiting.
	RateLimit *RateLimitConfig

	// LogLevel is one of silent, error, info, debug (default info).
	LogLevel string
}

// Server is the WebSocket transport. It accepts HTTP upgrade requests,
// performs the RFC 6455 handshake on the hijacked connection and registers
// one Hub client per socket.
type Server struct {
	cfg Config
	log *logger.Logger
	hub realtime.Hub

	mu      sync.Mutex
	running bool
	ln      net.Listener
	httpSrv *http.Server
	owned   bool
	conns   map[string]*conn
}

// New creates the transport with defaults applied.
func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Server{
		cfg:   cfg,
		log:   logger.New(logger.ParseLevel(cfg.LogLevel), "ws"),
		conns: make(map[string]*conn),
	}
}

// Name implements realtime.Transport.
func (s *Server) Name() string {
	return realtime.TransportWebSocket
}

// Start binds the listener (or wraps the external server's handler) and
// begins accepting upgrades. Bind failures propagate to the caller.
func (s *Server) Start(ctx context.Context, hub realtime.Hub) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("websocket transport already started")
	}
	s.hub = hub

	if s.cfg.Server != nil {
		next := s.cfg.Server.Handler
		s.cfg.Server.Handler = s.intercept(next)
		s.httpSrv = s.cfg.Server
		s.owned = false
		s.running = true
		s.log.Infof("attached to external http server")
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.httpSrv = &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}
	s.owned = true
	s.running = true

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server stopped: %v", err)
		}
	}()

	s.log.Infof("listening on %s", addr)
	return nil
}

// Stop closes every connection (unregistering each client) and shuts the
// owned HTTP server down. Externally provided servers are left running.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close("server stopped")
	}

	if s.owned && s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound listener address, useful when Port 0 was requested.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// intercept routes upgrade requests to the handshake and everything else to
// the external server's original handler.
func (s *Server) intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			s.handleUpgrade(w, r)
			return
		}
		if next != nil {
			next.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// handleUpgrade validates the handshake, hijacks the TCP connection, writes
// the 101 response and hands the socket to a new conn.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.destroy(w)
		return
	}
	if s.cfg.Path != "" && !strings.HasPrefix(r.URL.Path, s.cfg.Path) {
		s.destroy(w)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		s.destroy(w)
		return
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		s.destroy(w)
		return
	}
	netConn, brw, err := hj.Hijack()
	if err != nil {
		s.log.Errorf("hijack failed: %v", err)
		return
	}

	response := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	if _, err := brw.WriteString(response); err != nil {
		netConn.Close()
		return
	}
	if err := brw.Flush(); err != nil {
		netConn.Close()
		return
	}

	var limiter *rate.Limiter
	if s.cfg.RateLimit != nil && s.cfg.RateLimit.Enabled {
		limiter = rate.NewLimiter(s.cfg.RateLimit.MessagesPerSecond, s.cfg.RateLimit.Burst)
	}

	id := uuid.New().String()
	// Reads must go through the hijack reader: it may already hold frames
	// the client sent right after the handshake.
	c := newConn(s, netConn, brw.Reader, id, limiter)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		netConn.Close()
		return
	}
	s.conns[id] = c
	s.mu.Unlock()

	client := &realtime.ClientContext{
		ID:          id,
		Transport:   realtime.TransportWebSocket,
		Metadata:    map[string]any{"remoteAddr": netConn.RemoteAddr().String()},
		ConnectedAt: time.Now().UnixMilli(),
		SendFunc:    c.send,
		CloseFunc: func(reason string) error {
			c.close(reason)
			return nil
		},
	}
	s.hub.RegisterClient(client)

	go c.writePump(s.cfg.HeartbeatInterval)
	go c.readLoop()
}

// destroy terminates a failed handshake without a response body.
func (s *Server) destroy(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if netConn, _, err := hj.Hijack(); err == nil {
			netConn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusBadRequest)
}

func (s *Server) removeConn(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}
