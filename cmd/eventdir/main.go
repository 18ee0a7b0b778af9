package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"eventdir/internal/catalog"
	"eventdir/internal/cleanup"
	"eventdir/internal/config"
	"eventdir/internal/directory"
	"eventdir/internal/ical"
	appLog "eventdir/internal/log"
	"eventdir/internal/model"
	"eventdir/internal/store"
	"eventdir/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	importSrc  string
	once       bool
	dryRun     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		if conf == nil {
			appLog.Error("failed to load config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Error("could not write default config; continuing with defaults", err, "config_path", flags.configPath)
	}
	conf.ApplyEnv()
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dryRun {
		conf.Cleanup.DryRun = true
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Configure(os.Stderr, conf.Log.Format, appLog.ParseLevel(conf.Log.Level))
	appLog.Info("eventdir starting", "version", "0.1.0")
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"directory", conf.Directory,
		"tracked_states", conf.TrackedStates,
		"window_days", conf.WindowDays,
		"store", conf.Store.Driver,
		"cleanup", conf.Cleanup.Enabled,
		"dry_run", conf.Cleanup.DryRun,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(conf.Store)
	if err != nil {
		appLog.Error("failed to open store", err, "driver", conf.Store.Driver, "path", conf.Store.Path)
		os.Exit(1)
	}
	defer st.Close()

	loc := model.LoadLocation(conf.Timezone)
	cat := catalog.New(st, catalog.Options{
		States:     conf.States(),
		WindowDays: conf.WindowDays,
		Location:   loc,
	})
	dir := directory.New(st, cat, directory.Options{
		Name:           conf.Directory,
		MaxOccurrences: conf.MaxOccurrences,
	})

	start := time.Now()
	if _, err := cat.ReindexAll(ctx, true); err != nil {
		appLog.Error("initial reindex failed", err)
		os.Exit(1)
	}
	appLog.Info("initial reindex done", "took", time.Since(start).String())

	if flags.importSrc != "" {
		if err := importCalendar(ctx, dir, flags.importSrc, conf.Timezone); err != nil {
			appLog.Error("import failed", err, "source", flags.importSrc)
			if flags.once {
				os.Exit(1)
			}
		}
	}

	sched := cleanup.New(dir, func() bool { return conf.Cleanup.Enabled })

	if flags.once {
		if !conf.Cleanup.Enabled {
			appLog.Info("cleanup disabled; nothing more to do")
			return
		}
		report := sched.Cleanup(ctx, time.Now().In(loc), conf.Cleanup.DryRun)
		_ = json.NewEncoder(os.Stdout).Encode(report)
		return
	}

	if conf.Cleanup.Enabled {
		trigger, err := cleanup.NewTrigger(sched, conf.Cleanup.Poll, loc, conf.Cleanup.DryRun)
		if err != nil {
			appLog.Error("failed to start cleanup trigger", err, "poll", conf.Cleanup.Poll)
			os.Exit(1)
		}
		trigger.Start()
		defer trigger.Stop()
	}

	srvOpts := web.Options{Config: conf}
	if conf.Cleanup.Enabled {
		srvOpts.Cleanup = sched
	}
	if err := web.NewServer(dir, srvOpts).Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		cancel()
	}

	appLog.Info("eventdir exiting")
}

func openStore(c config.StoreConfig) (store.Store, error) {
	if c.Driver == "memory" {
		return store.NewMemory(), nil
	}
	db, err := store.OpenSQLite(c.Path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func importCalendar(ctx context.Context, dir *directory.Directory, src, tz string) error {
	events, err := ical.NewLoader(nil).Load(ctx, src, tz)
	if err != nil {
		return err
	}
	created, updated, err := dir.Import(ctx, events)
	appLog.Info("import done", "source", src, "created", created, "updated", updated)
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/eventdir/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.importSrc, "import", "", "iCalendar file or http(s) URL to import at startup")
	flag.BoolVar(&cfg.once, "once", false, "Reindex, import and run one cleanup pass, then exit")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Report what cleanup would remove without removing it")

	flag.Parse()

	return cfg
}
