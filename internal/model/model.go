package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tenant is an organization (a parish community) that owns schedule
// configs and masses. All persisted entities are scoped to a tenant.
type Tenant struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// ShareToken grants unauthenticated read access to the tenant's
	// upcoming schedule (public share link and ICS feed).
	ShareToken string `yaml:"share_token" json:"share_token"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

// RoleQuota is a single participant role with its required headcount.
type RoleQuota struct {
	Role  string `yaml:"role" json:"role"`
	Count int    `yaml:"count" json:"count"`
}

// RoleSet is an ordered list of role quotas. Role names are unique within
// a set and every headcount is positive.
type RoleSet []RoleQuota

// DefaultRoleSet is the fallback participant role set used when a mass has
// no schedule config attached.
func DefaultRoleSet() RoleSet {
	return RoleSet{
		{Role: "Celebrant", Count: 1},
		{Role: "Lector", Count: 2},
		{Role: "Altar Server", Count: 2},
		{Role: "Musician", Count: 1},
	}
}

// Validate checks role name uniqueness and positive headcounts.
func (rs RoleSet) Validate() error {
	seen := make(map[string]bool, len(rs))
	for _, rq := range rs {
		name := strings.TrimSpace(rq.Role)
		if name == "" {
			return errors.New("role name is empty")
		}
		if seen[name] {
			return fmt.Errorf("duplicate role %q", name)
		}
		seen[name] = true
		if rq.Count <= 0 {
			return fmt.Errorf("role %q must have a positive headcount", name)
		}
	}
	return nil
}

// Quota returns the required headcount for the given role name.
func (rs RoleSet) Quota(role string) (int, bool) {
	for _, rq := range rs {
		if rq.Role == role {
			return rq.Count, true
		}
	}
	return 0, false
}

// ScheduleConfig is a named, tenant-owned bundle of recurrence patterns and
// a participant role set. Masses may reference a config but can also exist
// without one.
type ScheduleConfig struct {
	ID       string `yaml:"id" json:"id"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`
	Name     string `yaml:"name" json:"name"`

	// Patterns holds one or more 5-field cron-style recurrence expressions.
	// The UI typically manages exactly one, but the list form is kept for
	// configs that bundle several celebration times.
	Patterns []string `yaml:"patterns" json:"patterns"`

	Roles RoleSet `yaml:"roles" json:"roles"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// Mass is a single dated celebration. It may have been materialized from a
// config's suggested occurrence or created ad hoc; either way the stored
// timestamp is authoritative, and any mismatch against the config's pattern
// is advisory only.
type Mass struct {
	ID       string `yaml:"id" json:"id"`
	TenantID string `yaml:"tenant_id" json:"tenant_id"`

	// ConfigID is empty for masses created without a schedule config.
	ConfigID string `yaml:"config_id,omitempty" json:"config_id,omitempty"`

	StartsAt time.Time `yaml:"starts_at" json:"starts_at"`

	Title    string `yaml:"title" json:"title"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Notes    string `yaml:"notes,omitempty" json:"notes,omitempty"`

	// Participants maps a role name to the names signed up for it.
	Participants map[string][]string `yaml:"participants,omitempty" json:"participants,omitempty"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at"`
}

// SignedUp reports whether name is already listed under role.
func (m *Mass) SignedUp(role, name string) bool {
	for _, n := range m.Participants[role] {
		if n == name {
			return true
		}
	}
	return false
}

// Occurrence is a single concrete instant produced by the recurrence engine
// for a config, normalized into the display timezone. It is transient: it is
// never persisted, only offered to users as a candidate mass time.
type Occurrence struct {
	ConfigID string    `json:"config_id"`
	Start    time.Time `json:"start"`
}
