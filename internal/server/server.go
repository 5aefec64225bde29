// Package server exposes the read-only monitor API: health, Prometheus
// metrics, and the per-date output documents the pipeline persists. It never
// mutates state; every response is served from disk.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Config holds the listener settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8087",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server serves the monitor API over the pipeline's output directory.
type Server struct {
	router   *mux.Router
	server   *http.Server
	outDir   string
	gatherer prometheus.Gatherer
	started  time.Time
}

func New(cfg Config, outDir string, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   mux.NewRouter(),
		outDir:   outDir,
		gatherer: gatherer,
		started:  time.Now(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/scores/{date}", s.handleDocument("scores_")).Methods("GET")
	api.HandleFunc("/actions/{date}", s.handleDocument("etl_actions_")).Methods("GET")
	api.HandleFunc("/status/{date}", s.handleDocument("etl_status_")).Methods("GET")
	api.HandleFunc("/ledger/{date}", s.handleDocument("run_ledger_")).Methods("GET")
	api.HandleFunc("/snapshot/{date}", s.handleDocument("raw_snapshot_")).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "unknown endpoint")
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"latest_run":     s.latestDate("run_ledger_"),
	})
}

// handleDocument serves one persisted output document verbatim. The date path
// segment is either a calendar date or "latest".
func (s *Server) handleDocument(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := mux.Vars(r)["date"]
		if date == "latest" {
			date = s.latestDate(prefix)
			if date == "" {
				writeError(w, http.StatusNotFound, "no documents yet")
				return
			}
		}
		if !datePattern.MatchString(date) {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or latest")
			return
		}
		data, err := os.ReadFile(filepath.Join(s.outDir, prefix+date+".json"))
		if err != nil {
			if os.IsNotExist(err) {
				writeError(w, http.StatusNotFound, "no document for "+date)
				return
			}
			writeError(w, http.StatusInternalServerError, "read failed")
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}

// latestDate returns the newest date for which a document with prefix exists.
func (s *Server) latestDate(prefix string) string {
	matches, err := filepath.Glob(filepath.Join(s.outDir, prefix+"*.json"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	dates := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".json")
		date := strings.TrimPrefix(name, prefix)
		if datePattern.MatchString(date) {
			dates = append(dates, date)
		}
	}
	if len(dates) == 0 {
		return ""
	}
	sort.Strings(dates)
	return dates[len(dates)-1]
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).
			Int("status", wrapper.status).Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).Msg("request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Str("out_dir", s.outDir).Msg("monitor server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
