package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoplan/internal/planner"
	"autoplan/internal/tz"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
timezone: Australia/Sydney
settings:
  default_task_duration: 45
  working_hours:
    - start: "10:00"
      end: "12:45"
ics:
  - url: https://example.com/cal.ics
    name: Work
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Australia/Sydney", cfg.Timezone)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, "/etc/autoplan/tasks.yaml", cfg.TasksFile)
	assert.Equal(t, 45, cfg.Settings.DefaultTaskDuration)
	require.Len(t, cfg.Settings.WorkingHours, 1)
	assert.Equal(t, tz.Clock{Hour: 12, Minute: 45}, cfg.Settings.WorkingHours[0].End)
	assert.Equal(t, tz.Clock{Hour: 6}, cfg.Settings.SlotMinTime)
	assert.Equal(t, tz.Clock{Hour: 22}, cfg.Settings.SlotMaxTime)
	assert.Equal(t, "Work", cfg.ICS[0].SourceID())
}

func TestLoadKeepsExplicitlyEmptyWorkingHours(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings:\n  working_hours: []\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotNil(t, cfg.Settings.WorkingHours)
	assert.Empty(t, cfg.Settings.WorkingHours)
}

func TestLoadPartialSettingsKeepDefaults(t *testing.T) {
	tests := map[string]struct {
		body       string
		ignore     bool
		buffer     int
		duration   int
		hoursCount int
	}{
		"only duration": {
			body:   "settings:\n  default_task_duration: 45\n",
			ignore: true, buffer: 15, duration: 45, hoursCount: 1,
		},
		"explicit false and zero": {
			body:   "settings:\n  ignore_container_tasks: false\n  min_time_between_tasks: 0\n",
			ignore: false, buffer: 0, duration: 30, hoursCount: 1,
		},
		"no settings block": {
			body:   "timezone: Asia/Seoul\n",
			ignore: true, buffer: 15, duration: 30, hoursCount: 1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tc.ignore, cfg.Settings.IgnoreContainerTasks)
			assert.Equal(t, tc.buffer, cfg.Settings.MinTimeBetweenTasks)
			assert.Equal(t, tc.duration, cfg.Settings.DefaultTaskDuration)
			assert.Len(t, cfg.Settings.WorkingHours, tc.hoursCount)
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad cron":          "refresh: every now and then\n",
		"negative buffer":   "settings:\n  min_time_between_tasks: -1\n",
		"bad clock":         "settings:\n  working_hours:\n    - start: \"25:00\"\n      end: \"26:00\"\n",
		"ics without url":   "ics:\n  - name: Work\n",
		"not yaml at all":   "settings: [\n",
		"negative duration": "settings:\n  default_task_duration: -30\n",
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Settings.IgnoreContainerTasks = false
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save("", cfg))
}

func TestNormalizeFillsSettings(t *testing.T) {
	cfg := &Config{Settings: planner.Settings{MinTimeBetweenTasks: 5}}
	cfg.Normalize()
	assert.Equal(t, 30, cfg.Settings.DefaultTaskDuration)
	assert.Equal(t, 5, cfg.Settings.MinTimeBetweenTasks)
	assert.Equal(t, DefaultSettings().WorkingHours, cfg.Settings.WorkingHours)
	assert.NoError(t, cfg.Validate())
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, DefaultConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("refresh: not a cron\n"), 0o600))
	time.Sleep(2 * reloadDebounce)
	require.NoError(t, os.WriteFile(path, []byte("timezone: Asia/Seoul\n"), 0o600))

	select {
	case c := <-got:
		assert.Equal(t, "Asia/Seoul", c.Timezone)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestICSSources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ICS = []ICSConfig{
		{URL: "https://example.com/a.ics", ID: "a"},
		{Name: "no url"},
		{URL: "https://example.com/b.ics"},
	}
	got := cfg.ICSSources()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "https://example.com/b.ics", got[1].ID)
}
