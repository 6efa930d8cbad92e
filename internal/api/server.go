// Package api exposes the operational HTTP surface of the relay: health
// and readiness probes, Prometheus metrics, the SNS event webhook, and
// read/write access to the routing documents.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/metrics"
	"github.com/lampions/lampions-go/internal/recipients"
	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
)

// Handler relays one inbound message by id.
type Handler interface {
	HandleMessage(ctx context.Context, messageID string) error
}

// Deduper remembers which message ids were already relayed.
type Deduper interface {
	Seen(ctx context.Context, messageID string) bool
	Mark(ctx context.Context, messageID string)
}

// Config carries the server's own settings; collaborators are passed to
// NewServer separately.
type Config struct {
	// Domain is the mail domain the relay serves.
	Domain string
	// AllowedOrigins enables CORS for the given origins when non-empty.
	AllowedOrigins []string
}

// Server is the operational HTTP server.
type Server struct {
	domain     string
	handler    http.Handler
	server     *http.Server
	relay      Handler
	routes     *routes.Table
	recipients *recipients.Map
	blob       store.Blob
	dedup      Deduper
	metrics    *metrics.Relay
}

// NewServer wires the HTTP surface. relay is required; dedup and m may be
// nil.
func NewServer(
	cfg Config,
	relay Handler,
	table *routes.Table,
	recips *recipients.Map,
	blob store.Blob,
	dedup Deduper,
	m *metrics.Relay,
) *Server {
	s := &Server{
		domain:     cfg.Domain,
		relay:      relay,
		routes:     table,
		recipients: recips,
		blob:       blob,
		dedup:      dedup,
		metrics:    m,
	}
	s.handler = s.setupRoutes(cfg.AllowedOrigins)
	return s
}

func (s *Server) setupRoutes(origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(logRequests)

	if len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/events/sns", s.handleSNSEvent)

	r.Route("/api", func(r chi.Router) {
		r.Get("/routes", s.handleListRoutes)
		r.Post("/routes", s.handleAddRoute)
		r.Get("/routes/{alias}", s.handleGetRoute)
		r.Put("/routes/{alias}", s.handleUpdateRoute)
		r.Delete("/routes/{alias}", s.handleRemoveRoute)
		r.Get("/recipients", s.handleListRecipients)
	})

	return r
}

// requestID tags every request with an id for log correlation and echoes
// it back to the caller.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// logRequests writes one log line per request. It must run inside
// requestID so the id is already on the response headers.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"status":    ww.Status(),
			"duration":  time.Since(start),
			"requestId": ww.Header().Get("X-Request-Id"),
		}).Info("Request handled")
	})
}

// ListenAndServe starts the HTTP server on addr and blocks until it stops.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
