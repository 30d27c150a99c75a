// Package server exposes the pipeline over HTTP: claim intake and status,
// slot reservation and heartbeats, evidence submission, and a WebSocket
// feed of claim transitions.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veridict/veridict/am"
	"github.com/veridict/veridict/claim"
	"github.com/veridict/veridict/errors"
	"github.com/veridict/veridict/evidence"
	"github.com/veridict/veridict/pipeline"
	"github.com/veridict/veridict/slot"
)

// Server hosts the HTTP API and the transition WebSocket feed.
type Server struct {
	db          *sql.DB
	coordinator *pipeline.Coordinator
	registry    *slot.Registry
	collector   *evidence.Collector
	monitor     *slot.Monitor
	ticker      *pipeline.Ticker
	config      *am.Config
	logger      *zap.SugaredLogger

	limiter *ipLimiter

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// New assembles a server around an already-wired pipeline.
func New(db *sql.DB, coordinator *pipeline.Coordinator, registry *slot.Registry,
	collector *evidence.Collector, monitor *slot.Monitor, ticker *pipeline.Ticker,
	config *am.Config, logger *zap.SugaredLogger) *Server {

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		db:          db,
		coordinator: coordinator,
		registry:    registry,
		collector:   collector,
		monitor:     monitor,
		ticker:      ticker,
		config:      config,
		logger:      logger.Named("server"),
		limiter:     newIPLimiter(config.Server.SubmitRatePerMinute, config.Server.SubmitBurst),
		clients:     make(map[*wsClient]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start runs the background machinery and serves HTTP until Shutdown. It
// blocks; http.ErrServerClosed is swallowed as a normal exit.
func (s *Server) Start(port int) error {
	s.monitor.Start()
	s.ticker.Start(s.ctx)

	s.wg.Add(1)
	go s.forwardTransitions()

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Infow("Server listening", "port", port, "stages", s.registry.StageCount())

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ApplyConfig applies hot-reloadable settings from a validated config.
// Stage definitions, the listen port, and allowed origins stay pinned for
// the run; only submission throttling is retuned in place.
func (s *Server) ApplyConfig(cfg *am.Config) error {
	s.limiter.SetRate(cfg.Server.SubmitRatePerMinute, cfg.Server.SubmitBurst)
	s.logger.Infow("Applied reloaded settings",
		"submit_rate_per_minute", cfg.Server.SubmitRatePerMinute,
		"submit_burst", cfg.Server.SubmitBurst)
	return nil
}

// Shutdown stops background loops, closes WebSocket clients, and drains
// in-flight HTTP requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.ticker.Stop()
	s.monitor.Stop()

	s.mu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clients = make(map[*wsClient]struct{})
	s.mu.Unlock()

	s.wg.Wait()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "http shutdown failed")
		}
	}

	s.logger.Info("Server stopped")
	return nil
}

// forwardTransitions fans pipeline transitions out to connected clients.
func (s *Server) forwardTransitions() {
	defer s.wg.Done()

	events := s.coordinator.Subscribe()
	defer s.coordinator.Unsubscribe(events)

	for {
		select {
		case <-s.ctx.Done():
			return
		case tr, ok := <-events:
			if !ok {
				return
			}
			s.mu.Lock()
			for c := range s.clients {
				c.send(tr)
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debugw("WebSocket client connected", "clients", count)
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	count := len(s.clients)
	s.mu.Unlock()
	s.logger.Debugw("WebSocket client disconnected", "clients", count)
}

// statusCounts converts coordinator stats for JSON output.
func statusCounts(stats map[claim.Status]int) map[string]int {
	out := make(map[string]int, len(stats))
	for status, n := range stats {
		out[string(status)] = n
	}
	return out
}
