package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masscal/internal/config"
	"masscal/internal/model"
	"masscal/internal/store"
)

// testNow is a fixed reference instant: Thursday 2026-01-01 12:00 in Sao
// Paulo. The first Saturday after it is 2026-01-03; the first Monday is
// 2026-01-05.
var testNow = time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, model.Tenant) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()

	st, err := store.Open(cfg.DataDir)
	require.NoError(t, err)

	tenant, err := st.CreateTenant("St. Mary")
	require.NoError(t, err)

	s := NewServer(cfg, st, true)
	s.now = func() time.Time { return testNow }
	return s, tenant
}

func doJSON(t *testing.T, s *Server, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestOccurrencesEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	t.Run("valid expression", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/occurrences", "", map[string]any{
			"expression": "30 19 * * 6",
			"count":      3,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		resp := decode[occurrencesResponse](t, rec)
		require.Len(t, resp.Occurrences, 3)
		assert.Equal(t, "Every Saturday at 19:30", resp.Description)
		assert.Equal(t, "America/Sao_Paulo", resp.Timezone)
		// 19:30 in Sao Paulo (UTC-3) is 22:30 UTC.
		assert.Equal(t, "2026-01-03T22:30:00Z", resp.Occurrences[0])
		assert.Equal(t, "2026-01-10T22:30:00Z", resp.Occurrences[1])
	})

	t.Run("missing expression is a 400", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/occurrences", "", map[string]any{"count": 3})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("non-string expression is a 400", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/occurrences", "", map[string]any{"expression": 12})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unparsable expression degrades to an empty list", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/occurrences", "", map[string]any{
			"expression": "99 99 * * *",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[occurrencesResponse](t, rec)
		assert.Empty(t, resp.Occurrences)
		assert.Equal(t, "99 99 * * *", resp.Description)
	})
}

func TestConfigCRUD(t *testing.T) {
	s, tenant := newTestServer(t)

	body := map[string]any{
		"name":     "Saturday evening",
		"patterns": []string{"30 19 * * 6"},
		"roles":    []map[string]any{{"role": "Lector", "count": 2}},
	}

	rec := doJSON(t, s, http.MethodPost, "/api/configs", tenant.ID, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[configResponse](t, rec)
	assert.Equal(t, []string{"Every Saturday at 19:30"}, created.Descriptions)

	t.Run("requires the tenant header", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/configs", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown tenant is a 404", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/configs", "nope", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("bad pattern is rejected with a descriptive message", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/configs", tenant.ID, map[string]any{
			"name":     "Broken",
			"patterns": []string{"0 8 * *"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "5 fields")
	})

	t.Run("upcoming window", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/configs/"+created.ID+"/upcoming", tenant.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[upcomingResponse](t, rec)
		require.Len(t, resp.Occurrences, s.cfg.SuggestionCount)
		assert.Equal(t, "2026-01-03T22:30:00Z", resp.Occurrences[0])
	})

	t.Run("list and delete", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/configs", tenant.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[[]configResponse](t, rec)
		assert.Len(t, list, 1)

		rec = doJSON(t, s, http.MethodDelete, "/api/configs/"+created.ID, tenant.ID, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = doJSON(t, s, http.MethodGet, "/api/configs/"+created.ID, tenant.ID, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func createConfig(t *testing.T, s *Server, tenantID string, patterns []string, roles []map[string]any) configResponse {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/api/configs", tenantID, map[string]any{
		"name":     "Test schedule",
		"patterns": patterns,
		"roles":    roles,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decode[configResponse](t, rec)
}

func TestMassReconciliation(t *testing.T) {
	s, tenant := newTestServer(t)
	cfg := createConfig(t, s, tenant.ID, []string{"0 10 * * 1"}, nil) // Mondays 10:00

	t.Run("conforming timestamp saves with no advisory", func(t *testing.T) {
		// Monday 2026-01-05 10:00 Sao Paulo == 13:00 UTC.
		rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
			"config_id": cfg.ID,
			"starts_at": "2026-01-05T13:00:00Z",
			"title":     "Monday Mass",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[massResponse](t, rec)
		assert.Empty(t, resp.Advisory)
		assert.NotEmpty(t, resp.Mass.ID)
	})

	t.Run("off-pattern timestamp still saves, with an advisory", func(t *testing.T) {
		// Tuesday 2026-01-06 10:00 Sao Paulo.
		rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
			"config_id": cfg.ID,
			"starts_at": "2026-01-06T13:00:00Z",
			"title":     "Extra Mass",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[massResponse](t, rec)
		assert.Contains(t, resp.Advisory, "Monday")
		assert.NotEmpty(t, resp.Mass.ID)

		// The record really was persisted despite the advisory.
		get := doJSON(t, s, http.MethodGet, "/api/masses/"+resp.Mass.ID, tenant.ID, nil)
		assert.Equal(t, http.StatusOK, get.Code)
	})

	t.Run("no config means no reconciliation", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
			"starts_at": "2026-01-07T02:00:00Z",
			"title":     "Ad hoc Mass",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[massResponse](t, rec)
		assert.Empty(t, resp.Advisory)
	})

	t.Run("bad timestamp is a 400", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
			"starts_at": "tomorrow",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSignup(t *testing.T) {
	s, tenant := newTestServer(t)
	cfg := createConfig(t, s, tenant.ID, []string{"0 10 * * 1"}, []map[string]any{
		{"role": "Lector", "count": 1},
	})

	rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
		"config_id": cfg.ID,
		"starts_at": "2026-01-05T13:00:00Z",
		"title":     "Monday Mass",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	mass := decode[massResponse](t, rec).Mass
	signupPath := "/api/masses/" + mass.ID + "/signup"

	t.Run("sign up within quota", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, signupPath, tenant.ID, map[string]any{
			"role": "Lector", "name": "Ana",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		updated := decode[model.Mass](t, rec)
		assert.Equal(t, []string{"Ana"}, updated.Participants["Lector"])
	})

	t.Run("full role is a conflict", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, signupPath, tenant.ID, map[string]any{
			"role": "Lector", "name": "Rui",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown role is a 400", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, signupPath, tenant.ID, map[string]any{
			"role": "Organist", "name": "Rui",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("removal frees the slot", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodDelete, signupPath, tenant.ID, map[string]any{
			"role": "Lector", "name": "Ana",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, s, http.MethodPost, signupPath, tenant.ID, map[string]any{
			"role": "Lector", "name": "Rui",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("default roles apply without a config", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
			"starts_at": "2026-01-07T02:00:00Z",
			"title":     "Ad hoc Mass",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		adhoc := decode[massResponse](t, rec).Mass

		rec = doJSON(t, s, http.MethodPost, "/api/masses/"+adhoc.ID+"/signup", tenant.ID, map[string]any{
			"role": "Celebrant", "name": "Fr. Jose",
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestPublicSurface(t *testing.T) {
	s, tenant := newTestServer(t)
	createConfig(t, s, tenant.ID, []string{"30 19 * * 6"}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/masses", tenant.ID, map[string]any{
		"starts_at": "2026-01-03T22:30:00Z",
		"title":     "Vigil Mass",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("share view", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/s/"+tenant.ShareToken, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[shareResponse](t, rec)
		assert.Equal(t, "St. Mary", resp.Tenant)
		require.Len(t, resp.Masses, 1)
		assert.Equal(t, "Vigil Mass", resp.Masses[0].Title)
		require.Len(t, resp.Schedules, 1)
		assert.Equal(t, "2026-01-03T22:30:00Z", resp.Schedules[0].Occurrences[0])
	})

	t.Run("unknown token is a 404", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/s/not-a-token", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("ics feed", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/calendar.ics?token="+tenant.ShareToken, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
		assert.Contains(t, rec.Body.String(), "SUMMARY:Vigil Mass")
	})
}

func TestBasicAuthGate(t *testing.T) {
	s, tenant := newTestServer(t)
	s.cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}

	t.Run("admin API requires credentials", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/configs", tenant.ID, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("credentials pass through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/configs", strings.NewReader(""))
		req.Header.Set("X-Tenant-ID", tenant.ID)
		req.SetBasicAuth("admin", "secret")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("public surface stays open", func(t *testing.T) {
		for _, path := range []string{"/health", "/s/" + tenant.ShareToken, "/calendar.ics?token=" + tenant.ShareToken} {
			rec := doJSON(t, s, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusOK, rec.Code, "path %s", path)
		}
	})
}

func TestRefreshUpcoming(t *testing.T) {
	s, tenant := newTestServer(t)
	cfg := createConfig(t, s, tenant.ID, []string{"0 8 * * *"}, nil)

	s.RefreshUpcoming()

	s.upcomingMu.RLock()
	entry, ok := s.upcoming[cfg.ID]
	s.upcomingMu.RUnlock()
	require.True(t, ok)
	require.Len(t, entry.occurrences, s.cfg.SuggestionCount)

	// 08:00 Sao Paulo on 2026-01-02 is 11:00 UTC.
	assert.Equal(t, "2026-01-02T11:00:00Z",
		entry.occurrences[0].UTC().Format(time.RFC3339))

	t.Run("merged multi-pattern windows stay ordered", func(t *testing.T) {
		multi := createConfig(t, s, tenant.ID, []string{"0 8 * * *", "30 19 * * 6"}, nil)
		occ := s.upcomingFor(multi.ID, []string{"0 8 * * *", "30 19 * * 6"}, 6)
		require.Len(t, occ, 6)
		for i := 1; i < len(occ); i++ {
			assert.True(t, occ[i].After(occ[i-1]), "index %d", i)
		}
	})
}
