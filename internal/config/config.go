package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"masscal/internal/model"
)

// RoleConfig is a participant role entry in the config file.
type RoleConfig struct {
	Role  string `yaml:"role" json:"role"`
	Count int    `yaml:"count" json:"count"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for all human-facing calendar
	// fields (pattern evaluation, descriptions, share views). It is a fixed
	// operating parameter of the deployment, not a per-request option.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// driving the periodic warm of the upcoming-occurrence cache.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// DataDir is where tenant/config/mass records are persisted.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// SuggestionCount is how many upcoming occurrences are offered to the
	// UI per config.
	SuggestionCount int `yaml:"suggestion_count" json:"suggestion_count"`

	// DefaultRoles is the participant role set applied to masses that have
	// no schedule config. Empty means the built-in default.
	DefaultRoles []RoleConfig `yaml:"default_roles" json:"default_roles"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health and the public share paths.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8080",
		Timezone:        "America/Sao_Paulo",
		RefreshCron:     "*/15 * * * *",
		DataDir:         "/var/lib/masscal",
		SuggestionCount: 10,
		DefaultRoles:    roleConfigs(model.DefaultRoleSet()),
		BasicAuth:       nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Sao_Paulo"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.DataDir == "" {
		c.DataDir = "/var/lib/masscal"
	}
	if c.SuggestionCount <= 0 {
		c.SuggestionCount = 10
	}
	if len(c.DefaultRoles) == 0 {
		c.DefaultRoles = roleConfigs(model.DefaultRoleSet())
	}
}

// RoleSet converts the configured default roles into a model.RoleSet,
// falling back to the built-in default when the configured set is invalid.
func (c *Config) RoleSet() model.RoleSet {
	rs := make(model.RoleSet, 0, len(c.DefaultRoles))
	for _, rc := range c.DefaultRoles {
		rs = append(rs, model.RoleQuota{Role: rc.Role, Count: rc.Count})
	}
	if err := rs.Validate(); err != nil {
		return model.DefaultRoleSet()
	}
	return rs
}

func roleConfigs(rs model.RoleSet) []RoleConfig {
	out := make([]RoleConfig, 0, len(rs))
	for _, rq := range rs {
		out = append(out, RoleConfig{Role: rq.Role, Count: rq.Count})
	}
	return out
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".masscal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
