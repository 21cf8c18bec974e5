// Package httpserver exposes the conversational webhook, feedback intake, admin operations,
// health and metrics over HTTP.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"funnel-bot/internal/convo"
	"funnel-bot/internal/domain"
	"funnel-bot/internal/email"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/repo"
)

// Conversation answers one inbound chat message.
type Conversation interface {
	Handle(ctx context.Context, msg domain.InboundMessage) (convo.Reply, error)
}

// Fulfillment approves orders and emails the purchased book.
type Fulfillment interface {
	Approve(ctx context.Context, orderID string) (*repo.Order, error)
	Deliver(ctx context.Context, orderID string) (*email.Result, error)
}

// Knowledge stores new retrievable snippets.
type Knowledge interface {
	Ingest(ctx context.Context, content, source, category string) (*repo.KnowledgeChunk, error)
}

// Store is the persistence the handlers read and write directly.
type Store interface {
	Ping(ctx context.Context) error
	GetLead(ctx context.Context, subscriberID string) (*repo.Lead, error)
	InsertEvent(ctx context.Context, event repo.Event) error
	ListEvents(ctx context.Context, subscriberID string, limit int) ([]repo.Event, error)
}

// Dependencies wires handlers to the core services. Nil services disable their routes.
type Dependencies struct {
	Conversation Conversation
	Fulfillment  Fulfillment
	Knowledge    Knowledge
	Store        Store
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer   prometheus.Gatherer
	AdminToken string
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	metrics    *metrics.Metrics
	deps       Dependencies
	basePath   string
	now        func() time.Time
}

// New creates a server listening on addr. Routes are mounted under basePath when set.
func New(addr string, logger *slog.Logger, m *metrics.Metrics, deps Dependencies, basePath string) *Server {
	s := &Server{
		logger:   logger.With("component", "http"),
		metrics:  m,
		deps:     deps,
		basePath: normaliseBasePath(basePath),
		now:      time.Now,
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(s.basePath, s.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.basePath != "" {
		s.logger.Info("http server configured with base path", "base_path", s.basePath)
	}
	return s
}

// Handler exposes the routed handler, base path included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	if s.deps.Conversation != nil {
		mux.HandleFunc("POST /webhook/message", s.handleMessage)
	}
	if s.deps.Store != nil {
		mux.HandleFunc("POST /feedback", s.handleFeedback)
		mux.Handle("GET /admin/leads/{subscriber_id}", s.admin(s.handleLead))
	}
	if s.deps.Fulfillment != nil {
		mux.Handle("POST /admin/orders/{id}/approve", s.admin(s.handleApprove))
		mux.Handle("POST /admin/orders/{id}/deliver", s.admin(s.handleDeliver))
	}
	if s.deps.Knowledge != nil {
		mux.Handle("POST /admin/knowledge", s.admin(s.handleIngest))
	}
	return mux
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": "database unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

const maxBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		r2 := r.Clone(r.Context())
		r2.URL.Path = orRoot(strings.TrimPrefix(r.URL.Path, basePath))
		if r.URL.RawPath != "" {
			r2.URL.RawPath = orRoot(strings.TrimPrefix(r.URL.RawPath, basePath))
		}
		handler.ServeHTTP(w, r2)
	})
}

func orRoot(p string) string {
	if p == "" {
		return "/"
	}
	return p
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
