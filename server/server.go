// Package server exposes a janus host over HTTP and streams its state to
// WebSocket clients.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/janus/errors"
	"github.com/teranos/janus/host"
	"github.com/teranos/janus/logger"
)

// Config configures the API server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// CreatePerMinute limits surface creation. Zero means unlimited.
	CreatePerMinute int
	AutoSyncDefault bool
}

// Server serves the API for one host.
type Server struct {
	host     *host.Host
	cfg      Config
	logger   *zap.SugaredLogger
	limiter  *rate.Limiter
	mux      *http.ServeMux
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	httpServer *http.Server
}

// New creates a server and starts its state broadcaster. Call Shutdown to
// stop it.
func New(h *host.Host, cfg Config, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = logger.ComponentLogger("server")
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		host:    h,
		cfg:     cfg,
		logger:  log,
		limiter: rate.NewLimiter(rate.Inf, 0),
		mux:     http.NewServeMux(),
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.CreatePerMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.CreatePerMinute)/60.0), cfg.CreatePerMinute)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()

	updates, unsubscribe := h.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		s.runBroadcaster(updates)
	}()
	return s
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Infow("Server ready", logger.FieldAddress, ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server failed")
	}
	return nil
}

// ListenAndServe listens on the configured address and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.Addr)
	}
	return s.Serve(ln)
}

// Shutdown closes client connections, stops the broadcaster and drains the
// HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("Initiating server shutdown")
	s.cancel()

	s.mu.Lock()
	toClose := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		toClose = append(toClose, c)
		delete(s.clients, c)
	}
	srv := s.httpServer
	s.mu.Unlock()

	for _, c := range toClose {
		c.close()
	}
	if len(toClose) > 0 {
		s.logger.Infow("Closed client connections", logger.FieldCount, len(toClose))
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// stateMessage is what every WebSocket client receives on change.
type stateMessage struct {
	Type string     `json:"type"`
	Data host.State `json:"data"`
}

func (s *Server) runBroadcaster(updates <-chan struct{}) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			s.broadcastState()
		}
	}
}

// broadcastState sends the current state to every client. A client whose
// queue is full loses its oldest queued state, never this one.
func (s *Server) broadcastState() {
	payload, err := s.encodeState()
	if err != nil {
		s.logger.Debugw("Skipping state broadcast", logger.FieldError, err)
		return
	}

	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(payload)
	}
}

func (s *Server) encodeState() ([]byte, error) {
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	st, err := s.host.State(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stateMessage{Type: "state", Data: st})
}

func (s *Server) register(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.logger.Debugw("Client connected", "client_id", c.id, logger.FieldCount, n)
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.close()
		s.logger.Debugw("Client disconnected", "client_id", c.id)
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
