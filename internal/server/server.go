// Package server exposes the HTTP API: Atom feeds over the store, plus
// operator endpoints for stats, auth status, and the feed cache.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/feeds"
	"go.uber.org/zap"

	"artfightwatch/internal/config"
	"artfightwatch/internal/feed"
	"artfightwatch/internal/monitor"
	"artfightwatch/internal/store"
)

// Server serves feeds and operator endpoints.
type Server struct {
	cfg   *config.Config
	store store.Store
	feeds *feed.Builder
	mon   *monitor.Monitor
	http  *http.Server
}

// New builds the server and its router.
func New(cfg *config.Config, st store.Store, fb *feed.Builder, mon *monitor.Monitor) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		feeds: fb,
		mon:   mon,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/auth/status", s.handleAuthStatus)

	r.Route("/rss", func(r chi.Router) {
		r.Get("/standings", s.handleStandingsFeed)
		r.Get("/attacks/{usernames}", s.feedHandler(s.feeds.UserAttacks))
		r.Get("/defenses/{usernames}", s.feedHandler(s.feeds.UserDefenses))
		r.Get("/combined/{usernames}", s.feedHandler(s.feeds.MultiUser))
	})

	r.Post("/webhook/teams", s.handleTeamsWebhook)

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", s.handleCacheStats)
		r.Post("/cleanup", s.handleCacheCleanup)
		r.Post("/clear", s.handleCacheClear)
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	zap.L().Info("http server listening", zap.String("addr", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		zap.L().Error("server: store stats", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"store":   st,
		"monitor": s.mon.Stats(),
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Stats().Auth)
}

// feedHandler parses the usernames path segment, enforces the whitelist and
// per-feed user cap, and serves the rendered feed through the cache.
func (s *Server) feedHandler(build func(ctx context.Context, users []string, limit int) (*feeds.Feed, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, ok := s.parseUsernames(w, r)
		if !ok {
			return
		}
		limit := parseLimit(r)
		s.serveFeed(w, r, feedCacheKey(r, limit), func(ctx context.Context) (*feeds.Feed, error) {
			return build(ctx, users, limit)
		})
	}
}

func (s *Server) handleStandingsFeed(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	s.serveFeed(w, r, feedCacheKey(r, limit), func(ctx context.Context) (*feeds.Feed, error) {
		return s.feeds.Standings(ctx, limit)
	})
}

func (s *Server) handleTeamsWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.mon.CheckStandings(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "standings check failed")
		zap.L().Error("server: manual standings check", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "checked"})
}

// parseLimit reads the optional per-request item limit. Absent or malformed
// values mean no override; the feed builder clamps to the configured maximum.
func parseLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// feedCacheKey keeps limit overrides in their own cache slots so a capped
// request never serves a full feed back, or the other way around.
func feedCacheKey(r *http.Request, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("%s?limit=%d", r.URL.Path, limit)
	}
	return r.URL.Path
}

// parseUsernames splits the `+`-separated usernames path segment.
func (s *Server) parseUsernames(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	raw := chi.URLParam(r, "usernames")
	var users []string
	for _, u := range strings.Split(raw, "+") {
		if u = strings.TrimSpace(u); u != "" {
			users = append(users, u)
		}
	}
	if len(users) == 0 {
		writeError(w, http.StatusBadRequest, "no usernames given")
		return nil, false
	}
	if len(users) > s.cfg.Feed.MaxUsersPerFeed {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("at most %d usernames per feed", s.cfg.Feed.MaxUsersPerFeed))
		return nil, false
	}
	for _, u := range users {
		if !s.cfg.Whitelisted(u) {
			writeError(w, http.StatusForbidden, fmt.Sprintf("username %q is not whitelisted", u))
			return nil, false
		}
	}
	return users, true
}

// serveFeed renders an Atom feed, consulting the store cache first so
// repeated reader polls do not rebuild the document every time.
func (s *Server) serveFeed(w http.ResponseWriter, r *http.Request, cacheKey string, build func(ctx context.Context) (*feeds.Feed, error)) {
	ctx := r.Context()
	key := "feed:" + cacheKey

	cached, err := s.store.CacheGet(ctx, key)
	if err != nil {
		zap.L().Warn("server: cache lookup", zap.String("path", cacheKey), zap.Error(err))
	} else if cached != nil {
		writeAtom(w, cached)
		return
	}

	f, err := build(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "feed unavailable")
		zap.L().Error("server: building feed", zap.String("path", cacheKey), zap.Error(err))
		return
	}
	atom, err := f.ToAtom()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "feed unavailable")
		zap.L().Error("server: rendering feed", zap.String("path", cacheKey), zap.Error(err))
		return
	}

	if err := s.store.CacheSet(ctx, key, []byte(atom), s.cfg.Poll.CacheTTL()); err != nil {
		zap.L().Warn("server: caching feed", zap.String("path", cacheKey), zap.Error(err))
	}
	writeAtom(w, []byte(atom))
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": st.CacheEntries})
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.CachePurgeExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		zap.L().Error("server: cache cleanup", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": n})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if err := s.store.CacheClear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clear failed")
		zap.L().Error("server: cache clear", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeAtom(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
