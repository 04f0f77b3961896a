package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"desyncd/internal/config"
	"desyncd/internal/eventbus"
	"desyncd/internal/httpapi"
	"desyncd/internal/identity"
	"desyncd/internal/registry"
	"desyncd/internal/runner"
	"desyncd/internal/stats"
	"desyncd/internal/storage"
	"desyncd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer log.Close()

	id, err := identity.Resolve(cfg.AppName, cfg.Host)
	if err != nil {
		return err
	}
	log.Info("starting",
		logx.String("app", id.App),
		logx.String("host", id.Host),
		logx.Int("jobs", len(cfg.Jobs)))

	window, err := config.ParseDurationOrDefault(cfg.Desync.Window, registry.DefaultWindow)
	if err != nil {
		return fmt.Errorf("desync.window: %w", err)
	}
	jitter, err := config.ParseDurationOrDefault(cfg.Desync.Jitter, registry.DefaultJitter)
	if err != nil {
		return fmt.Errorf("desync.jitter: %w", err)
	}

	var store storage.Store
	if cfg.Storage != nil {
		busy, err := config.ParseDurationOrDefault(cfg.Storage.BusyTimeout, 5*time.Second)
		if err != nil {
			return fmt.Errorf("storage.busy_timeout: %w", err)
		}
		store, err = storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busy,
		}, log)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if store != nil {
			defer store.Close()
		}
	}

	timeout, err := config.ParseDurationOrDefault(cfg.Runner.DefaultTimeout, 0)
	if err != nil {
		return fmt.Errorf("runner.default_timeout: %w", err)
	}

	bus := eventbus.New()

	run := runner.New(runner.Config{
		Workers:        cfg.Runner.Workers,
		QueueSize:      cfg.Runner.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    cfg.Runner.HistorySize,
	}, log, bus)
	run.Start(ctx)

	st := stats.New(bus, store, log)
	st.Start(ctx)

	reg := registry.New(registry.Config{
		Jobs:          cfg.Jobs,
		DefaultWindow: window,
		DefaultJitter: jitter,
	}, id, run, log, bus)
	if err := reg.Start(); err != nil {
		return err
	}
	for jobID, schedErr := range reg.Errors() {
		log.Error("job not scheduled", logx.String("job", jobID), logx.Err(schedErr))
	}

	api := httpapi.New(id, reg, st, store, log)
	if cfg.HTTP != nil {
		if err := api.Start(httpapi.Config{
			Enabled:    cfg.HTTP.Enabled,
			Addr:       cfg.HTTP.Addr,
			RatePerSec: cfg.HTTP.RatePerSec,
		}); err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("started")

	<-ctx.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	api.Stop(shutdownCtx)
	reg.Stop()
	run.Stop(shutdownCtx)
	st.Stop()

	log.Info("stopped")
	return nil
}
