package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"masscal/internal/ics"
	appLog "masscal/internal/log"
	"masscal/internal/model"
	"masscal/internal/recurrence"
	"masscal/internal/store"
)

// --- tenants ---

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	tenant, err := s.st.CreateTenant(req.Name)
	if err != nil {
		writeStoreError(w, err, "tenant")
		return
	}
	appLog.Info("tenant created", "tenant_id", tenant.ID, "name", tenant.Name)
	writeJSON(w, http.StatusCreated, tenant)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.st.Tenant(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "tenant")
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

// --- occurrence suggestions ---

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences []string `json:"occurrences"`
	Description string   `json:"description"`
	Timezone    string   `json:"timezone"`
}

// handleOccurrences returns the next N occurrences of a submitted
// expression as ISO-8601 UTC timestamps. A missing or non-string expression
// is a 400; an expression that fails to parse or enumerate degrades to an
// empty list, never a 500.
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Expression any `json:"expression"`
		Count      int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	expr, ok := req.Expression.(string)
	if !ok || expr == "" {
		writeError(w, http.StatusBadRequest, "expression must be a non-empty string")
		return
	}
	count := req.Count
	if count <= 0 {
		count = s.cfg.SuggestionCount
	}

	resp := occurrencesResponse{
		Occurrences: []string{},
		Description: recurrence.Describe(expr),
		Timezone:    s.loc.String(),
	}

	p, err := recurrence.Parse(expr)
	if err != nil {
		appLog.Debug("occurrence request with unparsable expression", "expression", expr, "err", err)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Occurrences = isoUTC(recurrence.NextN(p, s.now(), s.loc, count))
	writeJSON(w, http.StatusOK, resp)
}

// --- schedule configs ---

type configRequest struct {
	Name     string        `json:"name"`
	Patterns []string      `json:"patterns"`
	Roles    model.RoleSet `json:"roles"`
}

// validate rejects configs whose patterns do not parse or whose role set is
// malformed; this is the one entry point where a bad expression is a hard
// error, so stored configs are always enumerable.
func (cr *configRequest) validate() error {
	if cr.Name == "" {
		return errors.New("name is required")
	}
	if len(cr.Patterns) == 0 {
		return errors.New("at least one pattern is required")
	}
	for _, raw := range cr.Patterns {
		if _, err := recurrence.Parse(raw); err != nil {
			return err
		}
	}
	return cr.Roles.Validate()
}

type configResponse struct {
	model.ScheduleConfig
	Descriptions []string `json:"descriptions"`
}

func describeConfig(c model.ScheduleConfig) configResponse {
	desc := make([]string, 0, len(c.Patterns))
	for _, raw := range c.Patterns {
		desc = append(desc, recurrence.Describe(raw))
	}
	return configResponse{ScheduleConfig: c, Descriptions: desc}
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	configs := s.st.Configs(tenantID)
	out := make([]configResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, describeConfig(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := s.st.CreateConfig(model.ScheduleConfig{
		TenantID: tenantID,
		Name:     req.Name,
		Patterns: req.Patterns,
		Roles:    req.Roles,
	})
	if err != nil {
		writeStoreError(w, err, "config")
		return
	}
	appLog.Info("config created", "tenant_id", tenantID, "config_id", created.ID, "name", created.Name)
	writeJSON(w, http.StatusCreated, describeConfig(created))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	c, err := s.st.Config(tenantID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "config")
		return
	}
	writeJSON(w, http.StatusOK, describeConfig(c))
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.st.UpdateConfig(model.ScheduleConfig{
		ID:       r.PathValue("id"),
		TenantID: tenantID,
		Name:     req.Name,
		Patterns: req.Patterns,
		Roles:    req.Roles,
	})
	if err != nil {
		writeStoreError(w, err, "config")
		return
	}

	// The stored patterns changed; drop the cached window.
	s.upcomingMu.Lock()
	delete(s.upcoming, updated.ID)
	s.upcomingMu.Unlock()

	writeJSON(w, http.StatusOK, describeConfig(updated))
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.st.DeleteConfig(tenantID, id); err != nil {
		writeStoreError(w, err, "config")
		return
	}
	s.upcomingMu.Lock()
	delete(s.upcoming, id)
	s.upcomingMu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// upcomingResponse is the JSON response shape for a config's suggested
// occurrence window.
type upcomingResponse struct {
	ConfigID     string   `json:"config_id"`
	Occurrences  []string `json:"occurrences"`
	Descriptions []string `json:"descriptions"`
	Timezone     string   `json:"timezone"`
}

func (s *Server) handleConfigUpcoming(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	c, err := s.st.Config(tenantID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "config")
		return
	}

	resp := describeConfig(c)
	occ := s.upcomingFor(c.ID, c.Patterns, s.cfg.SuggestionCount)
	writeJSON(w, http.StatusOK, upcomingResponse{
		ConfigID:     c.ID,
		Occurrences:  isoUTC(occ),
		Descriptions: resp.Descriptions,
		Timezone:     s.loc.String(),
	})
}

// --- masses ---

type massRequest struct {
	ConfigID string `json:"config_id"`
	StartsAt string `json:"starts_at"`
	Title    string `json:"title"`
	Location string `json:"location"`
	Notes    string `json:"notes"`
}

// massResponse carries the saved record plus the reconciliation advisory,
// if any. The advisory never prevents the save.
type massResponse struct {
	Mass     model.Mass `json:"mass"`
	Advisory string     `json:"advisory,omitempty"`
}

func (s *Server) handleListMasses(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.st.Masses(tenantID))
}

func (s *Server) handleGetMass(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	m, err := s.st.Mass(tenantID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleCreateMass(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	mass, advisory, ok := s.massFromRequest(w, r, tenantID)
	if !ok {
		return
	}

	created, err := s.st.CreateMass(mass)
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}
	writeJSON(w, http.StatusCreated, massResponse{Mass: created, Advisory: advisory})
}

func (s *Server) handleUpdateMass(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	mass, advisory, ok := s.massFromRequest(w, r, tenantID)
	if !ok {
		return
	}
	mass.ID = r.PathValue("id")

	updated, err := s.st.UpdateMass(mass)
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}
	writeJSON(w, http.StatusOK, massResponse{Mass: updated, Advisory: advisory})
}

// massFromRequest decodes and validates a mass payload, then runs the
// reconciliation check against the referenced config's patterns. A
// non-conforming timestamp produces an advisory string; it never fails the
// request.
func (s *Server) massFromRequest(w http.ResponseWriter, r *http.Request, tenantID string) (model.Mass, string, bool) {
	var req massRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return model.Mass{}, "", false
	}
	startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "starts_at must be an RFC 3339 timestamp")
		return model.Mass{}, "", false
	}

	advisory := ""
	if req.ConfigID != "" {
		c, err := s.st.Config(tenantID, req.ConfigID)
		if err != nil {
			writeStoreError(w, err, "config")
			return model.Mass{}, "", false
		}
		rec := recurrence.Reconcile(c.Patterns, startsAt, s.loc)
		if !rec.Conforming {
			advisory = rec.Message
			appLog.Warn("mass timestamp off its configured schedule",
				"tenant_id", tenantID,
				"config_id", c.ID,
				"starts_at", startsAt.UTC().Format(time.RFC3339),
			)
		}
	}

	return model.Mass{
		TenantID: tenantID,
		ConfigID: req.ConfigID,
		StartsAt: startsAt.UTC(),
		Title:    req.Title,
		Location: req.Location,
		Notes:    req.Notes,
	}, advisory, true
}

func (s *Server) handleDeleteMass(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	if err := s.st.DeleteMass(tenantID, r.PathValue("id")); err != nil {
		writeStoreError(w, err, "mass")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- participant sign-ups ---

type signupRequest struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// rolesForMass returns the role set governing a mass: the config's roles
// when a config is attached and has any, otherwise the configured default
// set.
func (s *Server) rolesForMass(m model.Mass) model.RoleSet {
	if m.ConfigID != "" {
		if c, err := s.st.Config(m.TenantID, m.ConfigID); err == nil && len(c.Roles) > 0 {
			return c.Roles
		}
	}
	return s.cfg.RoleSet()
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	m, err := s.st.Mass(tenantID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "role and name are required")
		return
	}

	roles := s.rolesForMass(m)
	quota, known := roles.Quota(req.Role)
	if !known {
		writeError(w, http.StatusBadRequest, "unknown role")
		return
	}
	if m.SignedUp(req.Role, req.Name) {
		writeError(w, http.StatusConflict, "already signed up for this role")
		return
	}
	if len(m.Participants[req.Role]) >= quota {
		writeError(w, http.StatusConflict, "role is full")
		return
	}

	if m.Participants == nil {
		m.Participants = make(map[string][]string)
	}
	m.Participants[req.Role] = append(m.Participants[req.Role], req.Name)

	updated, err := s.st.UpdateMass(m)
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSignupRemove(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r)
	if !ok {
		return
	}
	m, err := s.st.Mass(tenantID, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}

	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "role and name are required")
		return
	}

	names := m.Participants[req.Role]
	kept := names[:0]
	removed := false
	for _, n := range names {
		if n == req.Name {
			removed = true
			continue
		}
		kept = append(kept, n)
	}
	if !removed {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}
	m.Participants[req.Role] = kept

	updated, err := s.st.UpdateMass(m)
	if err != nil {
		writeStoreError(w, err, "mass")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- public share surface ---

// shareMass is the public view of a mass: enough for a parishioner to see
// when it happens and which roles still need people.
type shareMass struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Location string         `json:"location,omitempty"`
	StartsAt string         `json:"starts_at"`
	Open     map[string]int `json:"open_roles,omitempty"`
}

type shareSchedule struct {
	Name         string   `json:"name"`
	Descriptions []string `json:"descriptions"`
	Occurrences  []string `json:"occurrences"`
}

type shareResponse struct {
	Tenant    string          `json:"tenant"`
	Timezone  string          `json:"timezone"`
	Masses    []shareMass     `json:"masses"`
	Schedules []shareSchedule `json:"schedules"`
}

func (s *Server) handleShareView(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.st.TenantByShareToken(r.PathValue("token"))
	if err != nil {
		writeStoreError(w, err, "share link")
		return
	}

	now := s.now()
	resp := shareResponse{
		Tenant:    tenant.Name,
		Timezone:  s.loc.String(),
		Masses:    []shareMass{},
		Schedules: []shareSchedule{},
	}

	for _, m := range s.st.Masses(tenant.ID) {
		if m.StartsAt.Before(now) {
			continue
		}
		roles := s.rolesForMass(m)
		open := make(map[string]int)
		for _, rq := range roles {
			if missing := rq.Count - len(m.Participants[rq.Role]); missing > 0 {
				open[rq.Role] = missing
			}
		}
		resp.Masses = append(resp.Masses, shareMass{
			ID:       m.ID,
			Title:    m.Title,
			Location: m.Location,
			StartsAt: m.StartsAt.UTC().Format(time.RFC3339),
			Open:     open,
		})
	}

	for _, c := range s.st.Configs(tenant.ID) {
		cr := describeConfig(c)
		resp.Schedules = append(resp.Schedules, shareSchedule{
			Name:         c.Name,
			Descriptions: cr.Descriptions,
			Occurrences:  isoUTC(s.upcomingFor(c.ID, c.Patterns, s.cfg.SuggestionCount)),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalendarFeed(w http.ResponseWriter, r *http.Request) {
	tenant, err := s.st.TenantByShareToken(r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown feed token")
			return
		}
		writeStoreError(w, err, "feed")
		return
	}

	body := ics.Export(tenant, s.st.Configs(tenant.ID), s.st.Masses(tenant.ID), s.loc, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
