package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/jerdev/trendradar/pkg/domain"
	"github.com/jerdev/trendradar/pkg/store"
)

// Server exposes the event store to ranking and notification consumers
// over a read-only REST API. It never triggers collection itself.
type Server struct {
	db      EventStore
	topics  []domain.Topic
	listen  string
	timeout time.Duration
	version string
	debug   bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// EventStore interface for server operations
type EventStore interface {
	Query(ctx context.Context, f store.Filter) ([]domain.StoredEvent, error)
	Stats(ctx context.Context) (map[string]int, error)
}

// Config holds server parameters
type Config struct {
	Listen  string
	Timeout time.Duration
	Version string
	Debug   bool
}

// New initializes a new server instance
func New(db EventStore, topics []domain.Topic, cfg Config) *Server {
	s := &Server{
		db:      db,
		topics:  topics,
		listen:  cfg.Listen,
		timeout: cfg.Timeout,
		version: cfg.Version,
		debug:   cfg.Debug,
		router:  routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	log.Printf("[INFO] starting server on %s", s.listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         s.listen,
		Handler:      s.router,
		ReadTimeout:  s.timeout,
		WriteTimeout: s.timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		log.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("trendradar", "jerdev", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /events", s.eventsHandler)
		r.HandleFunc("GET /topics", s.topicsHandler)
		r.HandleFunc("GET /status", s.statusHandler)
	})
}

// eventsHandler returns stored events filtered by topic, recency and score
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}

	events, err := s.db.Query(r.Context(), filter)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := make([]eventJSON, len(events))
	for i, ev := range events {
		resp[i] = toEventJSON(ev)
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// topicsHandler returns the configured topics
func (s *Server) topicsHandler(w http.ResponseWriter, r *http.Request) {
	type topicInfo struct {
		Topic    string   `json:"topic"`
		Category string   `json:"category,omitempty"`
		Keywords []string `json:"keywords"`
	}

	resp := make([]topicInfo, len(s.topics))
	for i, t := range s.topics {
		keywords := make([]string, len(t.Keywords))
		for j, kw := range t.Keywords {
			keywords[j] = kw.Term
		}
		resp[i] = topicInfo{Topic: t.Name, Category: t.Category, Keywords: keywords}
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// statusHandler returns server status and per-source event counts
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.Context())
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}

	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
		"events":  stats,
	}
	RenderJSON(w, r, http.StatusOK, status)
}

// eventJSON is the wire form of a stored event
type eventJSON struct {
	Fingerprint string    `json:"fingerprint"`
	Source      string    `json:"source"`
	Topic       string    `json:"topic"`
	Category    string    `json:"category,omitempty"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Score       float64   `json:"score"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	Notified    bool      `json:"notified"`
}

func toEventJSON(ev domain.StoredEvent) eventJSON {
	return eventJSON{
		Fingerprint: ev.Fingerprint,
		Source:      ev.Source,
		Topic:       ev.Topic,
		Category:    ev.Category,
		Title:       ev.Title,
		URL:         ev.URL,
		Score:       ev.Score,
		FirstSeen:   ev.FirstSeen,
		LastSeen:    ev.LastSeen,
		Notified:    ev.Notified,
	}
}

// parseFilter builds a store filter from query parameters
func parseFilter(r *http.Request) (store.Filter, error) {
	filter := store.Filter{
		Topic:  r.URL.Query().Get("topic"),
		Source: r.URL.Query().Get("source"),
		Limit:  100,
	}

	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid since %q, expected RFC3339: %w", v, err)
		}
		filter.Since = since
	}
	if v := r.URL.Query().Get("min_score"); v != "" {
		minScore, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid min_score %q: %w", v, err)
		}
		filter.MinScore = minScore
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = limit
	}

	return filter, nil
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON
func RenderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	RenderJSON(w, r, code, map[string]string{"error": errMsg})
}
