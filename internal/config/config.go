package config

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"autoplan/internal/ics"
	"autoplan/internal/planner"
	"autoplan/internal/slots"
	"autoplan/internal/tz"
)

// ICSConfig describes a single ICS subscription source whose events block
// time.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// ICSSources converts the configured subscriptions into fetch sources,
// skipping entries without a URL.
func (c *Config) ICSSources() []ics.Source {
	out := make([]ics.Source, 0, len(c.ICS))
	for _, src := range c.ICS {
		if src.URL == "" {
			continue
		}
		out = append(out, ics.Source{ID: src.SourceID(), URL: src.URL})
	}
	return out
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone (or signed minute offset) tasks are planned in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// on which today's plan is refreshed.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Database is the SQLite file holding placements.
	Database string `yaml:"database" json:"database"`

	// CacheDir holds cached ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// TasksFile lists pending tasks for scheduled refreshes.
	TasksFile string `yaml:"tasks_file" json:"tasks_file"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogJSON switches log output to JSON lines.
	LogJSON bool `yaml:"log_json" json:"log_json"`

	// Settings are the scheduling preferences.
	Settings planner.Settings `yaml:"settings" json:"settings"`

	// ICS is the list of subscribed calendars.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultSettings returns the scheduling preferences used when none are
// configured.
func DefaultSettings() planner.Settings {
	return planner.Settings{
		DefaultTaskDuration: 30,
		WorkingHours: []slots.Range{
			{Start: tz.Clock{Hour: 9}, End: tz.Clock{Hour: 17}},
		},
		MinTimeBetweenTasks:  15,
		IgnoreContainerTasks: true,
		SlotMinTime:          tz.Clock{Hour: 6},
		SlotMaxTime:          tz.Clock{Hour: 22},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		RefreshCron: "*/15 * * * *",
		Database:    "/var/lib/autoplan/autoplan.db",
		CacheDir:    "/var/lib/autoplan/ics-cache",
		TasksFile:   "/etc/autoplan/tasks.yaml",
		LogLevel:    "info",
		Settings:    DefaultSettings(),
		ICS:         []ICSConfig{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.TasksFile == "" {
		c.TasksFile = def.TasksFile
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	s := &c.Settings
	if s.DefaultTaskDuration == 0 {
		s.DefaultTaskDuration = def.Settings.DefaultTaskDuration
	}
	// A nil list means "not configured"; an explicit empty list is kept
	// and leaves no capacity.
	if s.WorkingHours == nil {
		s.WorkingHours = def.Settings.WorkingHours
	}
	if s.SlotMinTime == (tz.Clock{}) && s.SlotMaxTime == (tz.Clock{}) {
		s.SlotMinTime = def.Settings.SlotMinTime
		s.SlotMaxTime = def.Settings.SlotMaxTime
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		return errors.Wrapf(err, "config: invalid refresh schedule %q", c.RefreshCron)
	}
	if err := c.Settings.Validate(); err != nil {
		return errors.Wrap(err, "config: settings")
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			return errors.Errorf("config: ics[%d] has no url", i)
		}
	}
	return nil
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
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := parse(path)
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
	return cfg, nil
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
	tmp, err := os.CreateTemp(dir, ".autoplan-config-*.tmp")
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

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
