package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/you/chatscoop/internal/core"
	"github.com/you/chatscoop/internal/store"
)

// Store is the read side the API serves from.
type Store interface {
	Count(ctx context.Context, filters store.Filters) (int64, error)
	List(ctx context.Context, filters store.Filters) ([]core.ChatRecord, error)
}

// StatusFunc reports the engine state for /status.
type StatusFunc func() string

type Options struct {
	Addr            string
	CORSOrigins     []string
	RateLimitRPS    int
	RateLimitBurst  int
	EnableMetrics   bool
	EnableAccessLog bool
	Status          StatusFunc
}

// Server is the read-only inspection API consumed by the external launcher
// and viewer while the engine writes.
type Server struct {
	httpServer *http.Server
	store      Store
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy

	mu      sync.Mutex
	clients map[chan core.ChatRecord]struct{}
	closed  bool
}

func New(st Store, opts Options) *Server {
	srv := &Server{
		store:   st,
		opts:    opts,
		metrics: newMetrics(),
		limiter: newIPRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		clients: make(map[chan core.ChatRecord]struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.Handle("/status", srv.wrap("/status", srv.handleStatus))
	mux.Handle("/count", srv.wrap("/count", srv.handleCount))
	mux.Handle("/messages", srv.wrap("/messages", srv.handleMessages))
	mux.Handle("/stream", srv.wrap("/stream", srv.handleStream))
	mux.Handle("/ws", srv.wrap("/ws", srv.handleWS))
	if opts.EnableMetrics {
		mux.Handle("/metrics", srv.metrics.Handler())
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Registry exposes the API's metrics registry so other collectors (the
// engine's counters) can share the /metrics endpoint.
func (s *Server) Registry() *MetricsRegistry { return s.metrics.registry }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := "unknown"
	if s.opts.Status != nil {
		status = s.opts.Status()
	}
	writeJSON(w, map[string]string{"status": status})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.store.Count(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"count": count})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.List(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []core.ChatRecord{}
	}
	writeJSON(w, rows)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	clientCh, ok := s.subscribe()
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(clientCh)
	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case rec, ok := <-clientCh:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
			s.metrics.IncRecordsSent("sse")
		}
	}
}

// Broadcast delivers a freshly stored record to all connected stream clients.
// Slow clients drop records rather than blocking the writer.
func (s *Server) Broadcast(rec core.ChatRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- rec:
		default:
			s.metrics.IncBroadcastDrops()
		}
	}
}

func (s *Server) subscribe() (chan core.ChatRecord, bool) {
	ch := make(chan core.ChatRecord, 256)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *Server) unsubscribe(ch chan core.ChatRecord) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func (s *Server) Start() error {
	log.Printf("httpapi: listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.clients = make(map[chan core.ChatRecord]struct{})
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
