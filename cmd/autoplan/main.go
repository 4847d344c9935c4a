package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"autoplan/internal/config"
	appLog "autoplan/internal/log"
	"autoplan/internal/store"
	"autoplan/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config
// file.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	date       string
	tasksPath  string
	zone       string
	dryRun     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	applyFlags(conf, flags)
	applyLogging(conf)

	appLog.Info("autoplan starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"database", conf.Database,
		"tasks_file", conf.TasksFile,
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"dry_run", flags.dryRun,
	)

	st, err := store.Open(conf.Database)
	if err != nil {
		appLog.Error("failed to open database", err, "path", conf.Database)
		os.Exit(1)
	}
	defer st.Close()

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a := newApp(conf, st)

	if flags.once {
		if err := runOnce(ctx, a, flags); err != nil {
			appLog.Error("plan failed", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, a, flags); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("autoplan exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/autoplan/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Plan one day, print the result as JSON and exit")
	flag.StringVar(&cfg.date, "date", "", "Day to plan as YYYY-MM-DD (default: today in the configured zone)")
	flag.StringVar(&cfg.tasksPath, "tasks", "", "Task list file (overrides config if set)")
	flag.StringVar(&cfg.zone, "zone", "", "IANA zone or offset in minutes (overrides config if set)")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Do not persist placements")

	flag.Parse()

	return cfg
}

// applyFlags lets non-empty CLI values override the loaded configuration.
func applyFlags(conf *config.Config, flags flagConfig) {
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.tasksPath != "" {
		conf.TasksFile = flags.tasksPath
	}
	if flags.zone != "" {
		conf.Timezone = flags.zone
	}
}

func applyLogging(conf *config.Config) {
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	appLog.SetJSON(conf.LogJSON)
}

func runOnce(ctx context.Context, a *app, flags flagConfig) error {
	res, err := a.planDay(ctx, flags.date, flags.dryRun)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// serve runs the HTTP API, the refresh cron and the config watcher until
// ctx is cancelled.
func serve(ctx context.Context, a *app, flags flagConfig) error {
	conf := a.config()
	srv := web.NewServer(conf, a.calendar(), a.store)

	if err := a.startCron(ctx); err != nil {
		return err
	}
	defer a.stopCron()

	go func() {
		err := config.Watch(ctx, flags.configPath, func(next *config.Config) {
			applyFlags(next, flags)
			applyLogging(next)
			a.reload(ctx, next)
			srv.Update(next, a.calendar())
		})
		if err != nil {
			appLog.Error("config watcher stopped", err, "config_path", flags.configPath)
		}
	}()

	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}
