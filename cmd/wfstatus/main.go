package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/wfstatus/internal/engine"
	"github.com/rendis/wfstatus/internal/expressions"
	"github.com/rendis/wfstatus/internal/logging"
	"github.com/rendis/wfstatus/internal/panel"
	"github.com/rendis/wfstatus/internal/scheduler"
	"github.com/rendis/wfstatus/internal/store"
	"github.com/rendis/wfstatus/internal/streaming"
	"github.com/rendis/wfstatus/internal/validation"
	"github.com/rendis/wfstatus/pkg/mcp"
)

const usage = `usage: wfstatus [command]

commands:
  serve     run the MCP status server on stdio (default)
  install   write ~/.wfstatus/settings.json and reload a running server
  vacuum    compact the archive database
  version   print the version`

func main() {
	cmd := "serve"
	var args []string
	if len(os.Args) > 1 {
		cmd, args = os.Args[1], os.Args[2:]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "install":
		err = runInstall(args)
	case "vacuum":
		err = runVacuum()
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe() error {
	cfg := loadConfig()

	// stdout carries the MCP transport; logs go to stderr.
	var level slog.LevelVar
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewLeveled(os.Stderr, &level, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var metadataSchema []byte
	if cfg.MetadataSchema != "" {
		if metadataSchema, err = os.ReadFile(cfg.MetadataSchema); err != nil {
			return fmt.Errorf("read metadata schema: %w", err)
		}
	}
	validator, err := validation.NewWorkflowValidator(metadataSchema)
	if err != nil {
		return fmt.Errorf("build validator: %w", err)
	}
	engines, err := expressions.NewEngines()
	if err != nil {
		return fmt.Errorf("build expression engines: %w", err)
	}

	hub := streaming.NewMemoryHub()
	driver := engine.NewDriver(engine.DriverDeps{
		Store:     st,
		Hub:       hub,
		Validator: validator,
		Logger:    logger,
		TrackerID: cfg.TrackerID,
		Strict:    cfg.Strict,
	})

	reporter, err := scheduler.NewReporter(driver, scheduler.ReporterConfig{
		Spec:    cfg.SnapshotCron,
		Workers: cfg.SnapshotWorkers,
	}, logger)
	if err != nil {
		return err
	}
	if err := reporter.Start(ctx); err != nil {
		return err
	}
	defer reporter.Stop()

	var togglePanel func(Config)
	if cfg.ListenAddr != "" {
		panelSrv := panel.NewPanelServer(panel.PanelDeps{Tracker: driver, Store: st, Hub: hub, Logger: logger})
		swapper := newHandlerSwapper(httpHandler(cfg.Panel, panelSrv))
		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: swapper, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
		logger.Info("http listening", slog.String("addr", cfg.ListenAddr), slog.Bool("panel", cfg.Panel))

		togglePanel = func(next Config) { swapper.Swap(httpHandler(next.Panel, panelSrv)) }
	}
	go watchReload(ctx, cfg, &level, logger, togglePanel)

	writePID()
	defer os.Remove(pidPath())

	srv := mcp.NewWFStatusServer(mcp.WFStatusServerDeps{
		Driver:  driver,
		Store:   st,
		Engines: engines,
		Hub:     hub,
		Logger:  logger,
		Version: version,
	})
	logger.Info("wfstatus started",
		slog.String("version", version),
		slog.String("tracker_id", driver.TrackerID()),
		slog.String("db_path", cfg.DBPath),
		slog.String("snapshot_cron", cfg.SnapshotCron),
		slog.Bool("strict", cfg.Strict),
	)

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Archive whatever is still tracked before exiting.
	report, err := reporter.RunOnce(context.Background())
	if err != nil {
		logger.Warn("final snapshot failed", slog.String("error", err.Error()))
	} else {
		logger.Info("wfstatus stopped", slog.Int("archived", report.Archived))
	}
	return nil
}

func openStore(ctx context.Context, cfg Config) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:")); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	st, err := store.NewLibSQLStore(cfg.dbURI())
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

func httpHandler(panelEnabled bool, srv *panel.PanelServer) http.Handler {
	if panelEnabled {
		return srv.Handler()
	}
	return panel.HealthHandler()
}

// watchReload re-reads the configuration on SIGHUP. The log level and the
// panel toggle are applied live; other changes are reported as needing a
// restart.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger, togglePanel func(Config)) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		next := loadConfig()
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			level.Set(logging.ParseLevel(next.LogLevel))
			logger.Info("log level changed", slog.String("log_level", next.LogLevel))
		}
		if d.PanelChanged && togglePanel != nil {
			togglePanel(next)
			logger.Info("panel toggled", slog.Bool("panel", next.Panel))
		}
		if len(d.RestartNeeded) > 0 {
			logger.Warn("configuration changes need a restart",
				slog.String("fields", strings.Join(d.RestartNeeded, ",")))
		}
		current.LogLevel = next.LogLevel
		current.Panel = next.Panel
	}
}

func writePID() {
	_ = os.MkdirAll(wfstatusDir(), 0o700)
	_ = os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func runVacuum() error {
	cfg := loadConfig()
	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	fmt.Printf("Vacuumed %s\n", cfg.DBPath)
	return nil
}
