// Package server exposes the reel pipeline over HTTP and WebSocket:
// a small JSON API for triggering and inspecting reel jobs, and a push
// channel that forwards every job-record update to connected clients.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/shopreel/ai/tracker"
	"github.com/teranos/shopreel/am"
	"github.com/teranos/shopreel/errors"
	"github.com/teranos/shopreel/pipeline"
	"github.com/teranos/shopreel/pipeline/budget"
)

const (
	// MaxClients caps concurrent WebSocket connections
	MaxClients = 100

	// HTTP server timeouts
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second

	shutdownTimeout = 10 * time.Second
)

// Server wires the job queue, the worker pool, and the budget tracker
// behind an HTTP API with WebSocket push.
type Server struct {
	db            *sql.DB
	cfg           *am.Config
	queue         *pipeline.Queue
	pool          *pipeline.WorkerPool
	budgetTracker *budget.Tracker
	usageTracker  *tracker.UsageTracker

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	httpServer     *http.Server
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64

	logger *zap.SugaredLogger
}

// NewServer creates a server. The worker pool and trackers may be nil
// when the daemon is disabled; the corresponding endpoints degrade to
// 503 rather than panic.
func NewServer(db *sql.DB, cfg *am.Config, queue *pipeline.Queue, pool *pipeline.WorkerPool, budgetTracker *budget.Tracker, usageTracker *tracker.UsageTracker, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:            db,
		cfg:           cfg,
		queue:         queue,
		pool:          pool,
		budgetTracker: budgetTracker,
		usageTracker:  usageTracker,
		clients:       make(map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
}

// run is the hub loop: it owns the clients map through the register and
// unregister channels.
func (s *Server) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		}
	}
}

func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)
}

func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
}

// Start blocks serving HTTP on the configured port until Shutdown is
// called or the listener fails.
func (s *Server) Start(port int) error {
	s.wg.Add(1)
	go s.run()

	if s.queue != nil {
		s.startJobUpdateBroadcaster()
	}
	if s.pool != nil {
		s.startStatusBroadcaster()
	}

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	s.logger.Infow("Server ready", "url", fmt.Sprintf("http://localhost:%d", port))

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return errors.Wrap(err, "server failed")
}

// Shutdown stops accepting connections, closes the push channels, and
// waits for the background goroutines to exit.
func (s *Server) Shutdown() error {
	s.logger.Infow("Server shutting down")

	var httpErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		httpErr = s.httpServer.Shutdown(ctx)
	}

	s.cancel()

	s.mu.Lock()
	for client := range s.clients {
		client.close()
	}
	s.clients = make(map[*Client]bool)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warnw("Shutdown timed out waiting for goroutines")
	}

	return errors.Wrap(httpErr, "http shutdown")
}
