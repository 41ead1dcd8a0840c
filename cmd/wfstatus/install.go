package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rendis/wfstatus/internal/scheduler"
)

func runInstall(args []string) error {
	fs := flag.NewFlagSet("install", flag.ContinueOnError)
	listenAddr := fs.String("listen-addr", "", "HTTP listen address for status endpoints (disabled if empty)")
	panelFlag := fs.Bool("panel", false, "serve the status API on listen-addr")
	dbPath := fs.String("db-path", "", "database path (default: ~/.wfstatus/wfstatus.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "log format: text, json")
	trackerID := fs.String("tracker-id", "", "tracker identifier for new workflow IDs (random if empty)")
	snapshotCron := fs.String("snapshot-cron", scheduler.DefaultSpec, "5-field cron spec for status snapshots")
	snapshotWorkers := fs.Int("snapshot-workers", 4, "concurrent snapshot writes")
	strict := fs.Bool("strict", false, "reject out-of-order job moves")
	metadataSchema := fs.String("metadata-schema", "", "JSON Schema file for workflow conf metadata")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := Config{
		ListenAddr:      *listenAddr,
		Panel:           *panelFlag,
		DBPath:          *dbPath,
		LogLevel:        *logLevel,
		LogFormat:       *logFormat,
		TrackerID:       *trackerID,
		SnapshotCron:    *snapshotCron,
		SnapshotWorkers: *snapshotWorkers,
		Strict:          *strict,
		MetadataSchema:  *metadataSchema,
	}
	path, err := writeSettings(cfg)
	if err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)

	signalRunningServer()
	return nil
}

// writeSettings validates cfg, fills defaults and writes settings.json.
func writeSettings(cfg Config) (string, error) {
	if _, err := scheduler.ParseSpec(cfg.SnapshotCron); err != nil {
		return "", err
	}
	dir := wfstatusDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create %s: %w", dir, err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dir, "wfstatus.db")
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("cannot write %s: %w", path, err)
	}
	return path, nil
}

// signalRunningServer sends SIGHUP to a running wfstatus server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
