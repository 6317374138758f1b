// Package apihttp serves the catalog mirror over HTTP.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mmcdole/kinomirror/internal/domain"
)

// MirrorService is the orchestrator surface the API needs.
type MirrorService interface {
	InstantSearch(ctx context.Context, keyword string, opts domain.SearchOptions) domain.SearchResult
	ExtendedSearch(ctx context.Context, keyword string, opts domain.SearchOptions) domain.SearchResult
	FullSearch(ctx context.Context, keyword string, opts domain.SearchOptions) domain.SearchResult
	GetAllMovies(ctx context.Context, opts domain.SearchOptions) domain.SearchResult
	LoadFullDatabaseWithProgress(ctx context.Context, onProgress domain.ProgressFunc) domain.Stats
	GetCacheStatus() domain.CacheStatus
	ClearPersistentCache(ctx context.Context) bool
	Stats() domain.Stats
	Progress() domain.LoadProgress
	Suggest(prefix string, limit int) []string
}

const (
	maxQueryLength = 200
	maxLimit       = 100
)

type Server struct {
	mirror    MirrorService
	logger    *slog.Logger
	baseCtx   context.Context
	rateLimit float64
	rateBurst int
	jobs      *jobTracker
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBaseContext sets the context background loads run under; cancel it to
// stop them on shutdown.
func WithBaseContext(ctx context.Context) ServerOption {
	return func(s *Server) {
		s.baseCtx = ctx
	}
}

// WithRateLimit sets the global request rate; rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimit = rps
		s.rateBurst = burst
	}
}

func NewServer(mirror MirrorService, options ...ServerOption) *Server {
	server := &Server{
		mirror:    mirror,
		logger:    slog.Default(),
		baseCtx:   context.Background(),
		rateLimit: 50,
		rateBurst: 100,
		jobs:      newJobTracker(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	if server.baseCtx == nil {
		server.baseCtx = context.Background()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /search/suggest", s.handleSuggest)
	mux.HandleFunc("GET /search/{tier}", s.handleSearch)
	mux.HandleFunc("GET /movies", s.handleMovies)
	mux.HandleFunc("POST /mirror/load", s.handleLoad)
	mux.HandleFunc("GET /mirror/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /mirror/progress", s.handleProgress)
	mux.HandleFunc("GET /mirror/stats", s.handleStats)
	mux.HandleFunc("GET /mirror/cache", s.handleCacheStatus)
	mux.HandleFunc("DELETE /mirror/cache", s.handleClearCache)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "kinomirror",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateLimit, s.rateBurst, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.mirror.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"records":   stats.Movies,
		"loaded":    stats.Loaded,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var run func(context.Context, string, domain.SearchOptions) domain.SearchResult
	switch domain.Tier(r.PathValue("tier")) {
	case domain.TierInstant:
		run = s.mirror.InstantSearch
	case domain.TierExtended:
		run = s.mirror.ExtendedSearch
	case domain.TierFull:
		run = s.mirror.FullSearch
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown search tier")
		return
	}

	keyword := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(keyword) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 200 characters)")
		return
	}
	opts, err := parseSearchOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run(r.Context(), keyword, opts))
}

func (s *Server) handleMovies(w http.ResponseWriter, r *http.Request) {
	opts, err := parseSearchOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.mirror.GetAllMovies(r.Context(), opts))
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	limit, err := parsePositiveInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}
	items := s.mirror.Suggest(query, min(limit, maxLimit))
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "items": items})
}

func (s *Server) handleLoad(w http.ResponseWriter, _ *http.Request) {
	id, started := s.jobs.start()
	if !started {
		writeJSON(w, http.StatusConflict, map[string]any{
			"jobId": id,
			"error": map[string]string{
				"code":    "load_in_progress",
				"message": "a full load is already running",
			},
		})
		return
	}

	go func() {
		stats := s.mirror.LoadFullDatabaseWithProgress(s.baseCtx, func(p domain.LoadProgress) {
			s.jobs.progress(id, p)
		})
		s.jobs.finish(id, stats)
		s.logger.Info("background load finished",
			slog.String("jobId", id),
			slog.Int("movies", stats.Movies),
			slog.String("error", stats.Error),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mirror.Progress())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mirror.Stats())
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mirror.GetCacheStatus())
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if !s.mirror.ClearPersistentCache(r.Context()) {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to clear persistent cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}

func parseSearchOptions(r *http.Request) (domain.SearchOptions, error) {
	q := r.URL.Query()
	page, err := parsePositiveInt(r, "page", domain.DefaultPage)
	if err != nil {
		return domain.SearchOptions{}, errors.New("invalid page")
	}
	limit, err := parsePositiveInt(r, "limit", domain.DefaultLimit)
	if err != nil || limit > maxLimit {
		return domain.SearchOptions{}, errors.New("invalid limit")
	}
	return domain.SearchOptions{
		Page:     page,
		Limit:    limit,
		Category: strings.TrimSpace(q.Get("category")),
		Country:  strings.TrimSpace(q.Get("country")),
		Year:     strings.TrimSpace(q.Get("year")),
		Type:     strings.TrimSpace(q.Get("type")),
		Sort:     strings.TrimSpace(q.Get("sort")),
		SortType: strings.TrimSpace(q.Get("sortType")),
	}, nil
}

func parsePositiveInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid value")
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
