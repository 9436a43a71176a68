// Package web provides the HTTP API: occurrence suggestions, schedule
// config and mass CRUD, participant sign-ups, and the public share and ICS
// feed endpoints.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"masscal/internal/config"
	appLog "masscal/internal/log"
	"masscal/internal/recurrence"
	"masscal/internal/store"
)

// Server wires the HTTP handlers to the record store and the recurrence
// engine.
type Server struct {
	cfg   *config.Config
	st    *store.Store
	loc   *time.Location
	debug bool
	mux   *http.ServeMux

	// In-memory cache of per-config upcoming occurrences to avoid
	// re-enumerating on every request. Warmed by the cron refresh job and
	// refreshed lazily on expiry.
	upcomingMu sync.RWMutex
	upcoming   map[string]upcomingEntry

	// now is replaceable in tests.
	now func() time.Time
}

type upcomingEntry struct {
	occurrences []time.Time
	updatedAt   time.Time
}

const upcomingCacheTTL = 5 * time.Minute

// NewServer constructs a new Server. The display timezone comes from the
// configuration; an invalid name falls back to UTC with a log line.
func NewServer(cfg *config.Config, st *store.Store, debug bool) *Server {
	s := &Server{
		cfg:      cfg,
		st:       st,
		loc:      resolveLocationOrUTC(cfg.Timezone),
		debug:    debug,
		mux:      http.NewServeMux(),
		upcoming: make(map[string]upcomingEntry),
		now:      time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Treat empty username or password as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except the public surface
// (/health, the share view and the ICS feed) with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="masscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// publicPath reports whether the path is reachable without credentials.
func publicPath(path string) bool {
	return path == "/health" ||
		path == "/calendar.ics" ||
		strings.HasPrefix(path, "/s/")
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("POST /api/tenants", s.handleCreateTenant)
	s.mux.HandleFunc("GET /api/tenants/{id}", s.handleGetTenant)

	s.mux.HandleFunc("POST /api/occurrences", s.handleOccurrences)

	s.mux.HandleFunc("GET /api/configs", s.handleListConfigs)
	s.mux.HandleFunc("POST /api/configs", s.handleCreateConfig)
	s.mux.HandleFunc("GET /api/configs/{id}", s.handleGetConfig)
	s.mux.HandleFunc("PUT /api/configs/{id}", s.handleUpdateConfig)
	s.mux.HandleFunc("DELETE /api/configs/{id}", s.handleDeleteConfig)
	s.mux.HandleFunc("GET /api/configs/{id}/upcoming", s.handleConfigUpcoming)

	s.mux.HandleFunc("GET /api/masses", s.handleListMasses)
	s.mux.HandleFunc("POST /api/masses", s.handleCreateMass)
	s.mux.HandleFunc("GET /api/masses/{id}", s.handleGetMass)
	s.mux.HandleFunc("PUT /api/masses/{id}", s.handleUpdateMass)
	s.mux.HandleFunc("DELETE /api/masses/{id}", s.handleDeleteMass)
	s.mux.HandleFunc("POST /api/masses/{id}/signup", s.handleSignup)
	s.mux.HandleFunc("DELETE /api/masses/{id}/signup", s.handleSignupRemove)

	s.mux.HandleFunc("GET /s/{token}", s.handleShareView)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendarFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// tenantID extracts and validates the acting tenant from the request.
// Authentication itself is external; this header is the actor's tenant
// identity handed to us by that layer.
func (s *Server) tenantID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-Tenant-ID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing X-Tenant-ID header")
		return "", false
	}
	if _, err := s.st.Tenant(id); err != nil {
		writeError(w, http.StatusNotFound, "unknown tenant")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	appLog.Error("store operation failed", err, "entity", what)
	writeError(w, http.StatusInternalServerError, "storage failure")
}

func resolveLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
	}
	return loc
}

// --- upcoming occurrence cache ---

// upcomingFor returns up to n upcoming occurrence instants for the given
// patterns, served from the cache when fresh.
func (s *Server) upcomingFor(configID string, patterns []string, n int) []time.Time {
	now := s.now()

	s.upcomingMu.RLock()
	entry, ok := s.upcoming[configID]
	s.upcomingMu.RUnlock()
	if ok && now.Sub(entry.updatedAt) < upcomingCacheTTL && len(entry.occurrences) >= n {
		return entry.occurrences[:n]
	}

	occ := mergedUpcoming(patterns, now, s.loc, n)

	s.upcomingMu.Lock()
	s.upcoming[configID] = upcomingEntry{occurrences: occ, updatedAt: now}
	s.upcomingMu.Unlock()

	return occ
}

// RefreshUpcoming recomputes the cache for every stored config. Driven by
// the cron refresh schedule in cmd/masscal.
func (s *Server) RefreshUpcoming() {
	now := s.now()
	configs := s.st.AllConfigs()

	fresh := make(map[string]upcomingEntry, len(configs))
	for _, c := range configs {
		fresh[c.ID] = upcomingEntry{
			occurrences: mergedUpcoming(c.Patterns, now, s.loc, s.cfg.SuggestionCount),
			updatedAt:   now,
		}
	}

	s.upcomingMu.Lock()
	s.upcoming = fresh
	s.upcomingMu.Unlock()

	appLog.Info("upcoming occurrence cache refreshed", "configs", len(configs))
}

// mergedUpcoming enumerates each pattern and merges the results into a
// single ordered list of up to n instants. Unparsable patterns contribute
// nothing.
func mergedUpcoming(patterns []string, from time.Time, loc *time.Location, n int) []time.Time {
	if n <= 0 {
		n = recurrence.DefaultWindow
	}
	all := make([]time.Time, 0, n*len(patterns))
	for _, raw := range patterns {
		p, err := recurrence.Parse(raw)
		if err != nil {
			appLog.Debug("skipping unparsable pattern", "pattern", raw, "err", err)
			continue
		}
		all = append(all, recurrence.NextN(p, from, loc, n)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// isoUTC renders occurrence instants the way the API exchanges them:
// ISO-8601 in UTC.
func isoUTC(ts []time.Time) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.UTC().Format(time.RFC3339))
	}
	return out
}
