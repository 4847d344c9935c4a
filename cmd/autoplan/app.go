package main

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"autoplan/internal/config"
	"autoplan/internal/ics"
	appLog "autoplan/internal/log"
	"autoplan/internal/planner"
	"autoplan/internal/store"
	"autoplan/internal/tasks"
	"autoplan/internal/tz"
)

// app holds the long-lived pieces shared by -once, the refresh cron and
// config reloads.
type app struct {
	store *store.Store
	now   func() time.Time

	mu   sync.RWMutex
	cfg  *config.Config
	cal  *ics.Calendar
	cron *cron.Cron
}

func newApp(cfg *config.Config, st *store.Store) *app {
	a := &app{store: st, now: time.Now}
	a.setConfig(cfg)
	return a
}

func (a *app) setConfig(cfg *config.Config) {
	cal := ics.NewCalendar(ics.NewFetcher(cfg.CacheDir, nil), cfg.ICSSources(), 0)
	a.mu.Lock()
	a.cfg = cfg
	a.cal = cal
	a.mu.Unlock()
}

func (a *app) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *app) calendar() *ics.Calendar {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cal
}

// reload swaps in a new configuration and restarts the refresh cron so a
// changed schedule or zone takes effect.
func (a *app) reload(ctx context.Context, cfg *config.Config) {
	a.setConfig(cfg)
	a.stopCron()
	if err := a.startCron(ctx); err != nil {
		appLog.Error("refresh cron restart failed", err, "refresh", cfg.RefreshCron)
		return
	}
	appLog.Info("config applied", "timezone", cfg.Timezone, "refresh", cfg.RefreshCron, "ics_count", len(cfg.ICS))
}

// planDay plans one local day from the task file and persists the new
// placements unless dryRun is set. An empty date means today in the
// configured zone. Tasks already placed on that day are left alone.
func (a *app) planDay(ctx context.Context, date string, dryRun bool) (planner.Result, error) {
	cfg := a.config()
	cal := a.calendar()
	now := a.now()

	zone, ok := tz.Parse(cfg.Timezone)
	if !ok && cfg.Timezone != "" {
		appLog.Warn("unknown timezone, using UTC", "timezone", cfg.Timezone)
	}
	day := zone.Today(now)
	if date != "" {
		d, err := tz.ParseDate(date)
		if err != nil {
			return planner.Result{}, err
		}
		day = d
	}

	pending, err := tasks.Load(cfg.TasksFile)
	if err != nil {
		return planner.Result{}, err
	}
	occs, err := cal.Day(ctx, day, zone)
	if err != nil {
		return planner.Result{}, errors.Wrap(err, "load calendar")
	}
	placed, err := a.store.ListByDay(ctx, day)
	if err != nil {
		return planner.Result{}, err
	}

	res, err := planner.Plan(planner.Input{
		Tasks:      planner.Unscheduled(pending, placed),
		Events:     occs,
		Placements: placed,
		Settings:   cfg.Settings,
		Date:       day.String(),
		Zone:       cfg.Timezone,
		Now:        now,
	})
	if err != nil {
		return planner.Result{}, err
	}

	if !dryRun {
		if err := a.store.Save(ctx, day, res.Placements...); err != nil {
			return planner.Result{}, err
		}
	}

	appLog.Info("day planned",
		"date", day.String(),
		"zone", zone.ID(),
		"placed", len(res.Placements),
		"unplaced", len(res.Unplaced),
		"already_placed", len(placed),
		"dry_run", dryRun,
	)
	return res, nil
}

// startCron schedules planDay for today on the configured refresh schedule,
// evaluated in the configured zone.
func (a *app) startCron(ctx context.Context) error {
	cfg := a.config()
	zone, _ := tz.Parse(cfg.Timezone)

	c := cron.New(cron.WithLocation(zone.Location()))
	if _, err := c.AddFunc(cfg.RefreshCron, func() {
		if _, err := a.planDay(ctx, "", false); err != nil {
			appLog.Error("scheduled plan failed", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid refresh schedule %q", cfg.RefreshCron)
	}
	c.Start()

	a.mu.Lock()
	a.cron = c
	a.mu.Unlock()
	appLog.Info("refresh cron started", "refresh", cfg.RefreshCron, "zone", zone.ID())
	return nil
}

func (a *app) stopCron() {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
