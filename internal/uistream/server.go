package uistream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmoreno/subastas-monitor/internal/event"
	"github.com/nmoreno/subastas-monitor/internal/queue"
)

// Config holds WebSocket server settings.
type Config struct {
	Listen string
	Path   string

	// ClientBuffer is the per-client outbound queue. A client whose buffer
	// fills is dropped.
	ClientBuffer int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Listen:       "127.0.0.1:8765",
		Path:         "/ws",
		ClientBuffer: 256,
		WriteTimeout: 5 * time.Second,
		PingInterval: 15 * time.Second,
	}
}

// Server broadcasts processed events to WebSocket clients.
type Server struct {
	cfg    Config
	in     *queue.Bounded[event.Event]
	logger *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	listener net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// NewServer creates a server draining the given processed queue.
func NewServer(cfg Config, in *queue.Bounded[event.Event], logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.ClientBuffer == 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = def.PingInterval
	}

	return &Server{
		cfg:    cfg,
		in:     in,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Local tool: the UI connects from file:// or localhost.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Start binds the listener and launches the broadcast loop.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	s.httpSrv = &http.Server{Handler: mux}

	s.wg.Add(2)
	go s.serve()
	go s.broadcastLoop()

	s.logger.Info("ui stream listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Stop shuts the HTTP server down and disconnects every client.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Shutdown(ctx)
	}

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("ui stream stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the bound address, useful when Listen used port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) serve() {
	defer s.wg.Done()
	if err := s.httpSrv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("ui stream server failed", "err", err)
	}
}

// broadcastLoop drains the processed queue and fans each event out to all
// connected clients. Exits when the queue closes (engine shutdown).
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		ev, ok := s.in.Receive(s.ctx)
		if !ok {
			s.closeAll()
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("marshal event for ui", "err", err, "type", ev.Type)
			continue
		}

		s.mu.Lock()
		for c := range s.clients {
			select {
			case c.send <- data:
			default:
				// Slow client: drop it instead of blocking the pipeline.
				s.logger.Warn("dropping slow ui client")
				delete(s.clients, c)
				c.close()
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		c.close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, s.cfg.ClientBuffer),
	}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debug("ui client connected", "clients", n)

	s.wg.Add(2)
	go s.writePump(c)
	go s.readPump(c)
}

// writePump serializes all writes to one client: queued events plus
// keepalive pings.
func (s *Server) writePump(c *client) {
	defer s.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second),
				)
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.drop(c)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.drop(c)
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to process control frames
// and to notice when the client goes away.
func (s *Server) readPump(c *client) {
	defer s.wg.Done()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			s.drop(c)
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if present {
		c.close()
	}
}
