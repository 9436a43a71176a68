// Package store is the persistence collaborator for tenants, schedule
// configs and masses. Records are kept in a single YAML document on disk,
// loaded at open and rewritten atomically on every mutation. The recurrence
// core never touches this package; it only reads pattern strings handed to
// it by callers.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	appLog "masscal/internal/log"
	"masscal/internal/model"
)

// ErrNotFound is returned when an entity does not exist for the given
// tenant and id.
var ErrNotFound = errors.New("store: not found")

const dataFile = "records.yaml"

// document is the on-disk shape of the whole store.
type document struct {
	Tenants []model.Tenant         `yaml:"tenants"`
	Configs []model.ScheduleConfig `yaml:"configs"`
	Masses  []model.Mass           `yaml:"masses"`
}

// Store is a file-backed record store. Safe for concurrent use.
type Store struct {
	path string

	mu   sync.RWMutex
	data document
}

// Open loads the store under dir, creating an empty one on first run.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("store: data dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}

	s := &Store{path: filepath.Join(dir, dataFile)}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("store: starting with empty data file", "path", s.path)
			return s, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("store: corrupt data file %s: %w", s.path, err)
	}
	appLog.Info("store: loaded",
		"path", s.path,
		"tenants", len(s.data.Tenants),
		"configs", len(s.data.Configs),
		"masses", len(s.data.Masses),
	)
	return s, nil
}

// persist rewrites the data file atomically. Caller holds the write lock.
func (s *Store) persist() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".masscal-records-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// --- tenants ---

// CreateTenant creates a tenant with a fresh id and share token.
func (s *Store) CreateTenant(name string) (model.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := model.Tenant{
		ID:         uuid.NewString(),
		Name:       name,
		ShareToken: uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}
	s.data.Tenants = append(s.data.Tenants, t)
	if err := s.persist(); err != nil {
		s.data.Tenants = s.data.Tenants[:len(s.data.Tenants)-1]
		return model.Tenant{}, err
	}
	return t, nil
}

// Tenant returns the tenant with the given id.
func (s *Store) Tenant(id string) (model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.data.Tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return model.Tenant{}, ErrNotFound
}

// TenantByShareToken resolves a public share token to its tenant.
func (s *Store) TenantByShareToken(token string) (model.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if token == "" {
		return model.Tenant{}, ErrNotFound
	}
	for _, t := range s.data.Tenants {
		if t.ShareToken == token {
			return t, nil
		}
	}
	return model.Tenant{}, ErrNotFound
}

// --- schedule configs ---

// Configs lists a tenant's schedule configs, newest first.
func (s *Store) Configs(tenantID string) []model.ScheduleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ScheduleConfig, 0)
	for _, c := range s.data.Configs {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// AllConfigs lists every config across tenants (used by the cache warmer).
func (s *Store) AllConfigs() []model.ScheduleConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ScheduleConfig, len(s.data.Configs))
	copy(out, s.data.Configs)
	return out
}

// Config returns one tenant-scoped config by id.
func (s *Store) Config(tenantID, id string) (model.ScheduleConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.data.Configs {
		if c.ID == id && c.TenantID == tenantID {
			return c, nil
		}
	}
	return model.ScheduleConfig{}, ErrNotFound
}

// CreateConfig stores a new config, assigning id and timestamps.
func (s *Store) CreateConfig(c model.ScheduleConfig) (model.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	s.data.Configs = append(s.data.Configs, c)
	if err := s.persist(); err != nil {
		s.data.Configs = s.data.Configs[:len(s.data.Configs)-1]
		return model.ScheduleConfig{}, err
	}
	return c, nil
}

// UpdateConfig replaces an existing config owned by the same tenant.
func (s *Store) UpdateConfig(c model.ScheduleConfig) (model.ScheduleConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Configs {
		if s.data.Configs[i].ID == c.ID && s.data.Configs[i].TenantID == c.TenantID {
			prev := s.data.Configs[i]
			c.CreatedAt = prev.CreatedAt
			c.UpdatedAt = time.Now().UTC()
			s.data.Configs[i] = c
			if err := s.persist(); err != nil {
				s.data.Configs[i] = prev
				return model.ScheduleConfig{}, err
			}
			return c, nil
		}
	}
	return model.ScheduleConfig{}, ErrNotFound
}

// DeleteConfig removes a config. Masses referencing it keep their
// timestamp; the dangling reference is cleared.
func (s *Store) DeleteConfig(tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Configs {
		if s.data.Configs[i].ID == id && s.data.Configs[i].TenantID == tenantID {
			s.data.Configs = append(s.data.Configs[:i], s.data.Configs[i+1:]...)
			for j := range s.data.Masses {
				if s.data.Masses[j].ConfigID == id {
					s.data.Masses[j].ConfigID = ""
				}
			}
			return s.persist()
		}
	}
	return ErrNotFound
}

// --- masses ---

// Masses lists a tenant's masses ordered by start time.
func (s *Store) Masses(tenantID string) []model.Mass {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Mass, 0)
	for _, m := range s.data.Masses {
		if m.TenantID == tenantID {
			m.Participants = cloneParticipants(m.Participants)
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out
}

// Mass returns one tenant-scoped mass by id.
func (s *Store) Mass(tenantID, id string) (model.Mass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.data.Masses {
		if m.ID == id && m.TenantID == tenantID {
			m.Participants = cloneParticipants(m.Participants)
			return m, nil
		}
	}
	return model.Mass{}, ErrNotFound
}

// cloneParticipants deep-copies the role->names map so callers can mutate
// their copy without touching stored state.
func cloneParticipants(in map[string][]string) map[string][]string {
	if in == nil {
		return nil
	}
	out := make(map[string][]string, len(in))
	for role, names := range in {
		out[role] = append([]string(nil), names...)
	}
	return out
}

// CreateMass stores a new mass, assigning id and timestamps.
func (s *Store) CreateMass(m model.Mass) (model.Mass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.ID = uuid.NewString()
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Participants == nil {
		m.Participants = make(map[string][]string)
	} else {
		m.Participants = cloneParticipants(m.Participants)
	}

	s.data.Masses = append(s.data.Masses, m)
	if err := s.persist(); err != nil {
		s.data.Masses = s.data.Masses[:len(s.data.Masses)-1]
		return model.Mass{}, err
	}
	return m, nil
}

// UpdateMass replaces an existing mass owned by the same tenant.
func (s *Store) UpdateMass(m model.Mass) (model.Mass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Masses {
		if s.data.Masses[i].ID == m.ID && s.data.Masses[i].TenantID == m.TenantID {
			prev := s.data.Masses[i]
			m.CreatedAt = prev.CreatedAt
			m.UpdatedAt = time.Now().UTC()
			if m.Participants == nil {
				m.Participants = prev.Participants
			} else {
				m.Participants = cloneParticipants(m.Participants)
			}
			s.data.Masses[i] = m
			if err := s.persist(); err != nil {
				s.data.Masses[i] = prev
				return model.Mass{}, err
			}
			return m, nil
		}
	}
	return model.Mass{}, ErrNotFound
}

// DeleteMass removes a mass.
func (s *Store) DeleteMass(tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Masses {
		if s.data.Masses[i].ID == id && s.data.Masses[i].TenantID == tenantID {
			s.data.Masses = append(s.data.Masses[:i], s.data.Masses[i+1:]...)
			return s.persist()
		}
	}
	return ErrNotFound
}
