package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rendis/wfstatus/internal/scheduler"
)

// Config holds all wfstatus server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string `json:"listen_addr"` // HTTP status endpoints, disabled when empty
	Panel           bool   `json:"panel"`
	DBPath          string `json:"db_path"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	TrackerID       string `json:"tracker_id"`
	SnapshotCron    string `json:"snapshot_cron"`
	SnapshotWorkers int    `json:"snapshot_workers"`
	Strict          bool   `json:"strict"`
	MetadataSchema  string `json:"metadata_schema"` // path to a JSON Schema for conf metadata
}

func defaultConfig() Config {
	return Config{
		DBPath:          filepath.Join(wfstatusDir(), "wfstatus.db"),
		LogLevel:        "info",
		LogFormat:       "text",
		SnapshotCron:    scheduler.DefaultSpec,
		SnapshotWorkers: 4,
	}
}

func wfstatusDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wfstatus"
	}
	return filepath.Join(home, ".wfstatus")
}

func settingsPath() string {
	return filepath.Join(wfstatusDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("WFSTATUS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("WFSTATUS_PANEL"); v != "" {
		cfg.Panel = v == "true" || v == "1"
	}
	if v := os.Getenv("WFSTATUS_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("WFSTATUS_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WFSTATUS_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("WFSTATUS_TRACKER_ID"); v != "" {
		cfg.TrackerID = v
	}
	if v := os.Getenv("WFSTATUS_SNAPSHOT_CRON"); v != "" {
		cfg.SnapshotCron = v
	}
	if v := os.Getenv("WFSTATUS_SNAPSHOT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SnapshotWorkers = n
		}
	}
	if v := os.Getenv("WFSTATUS_STRICT"); v != "" {
		cfg.Strict = v == "true" || v == "1"
	}
	if v := os.Getenv("WFSTATUS_METADATA_SCHEMA"); v != "" {
		cfg.MetadataSchema = v
	}

	return cfg
}

// dbURI turns a plain path into the file URI libSQL expects.
func (c Config) dbURI() string {
	if strings.HasPrefix(c.DBPath, "file:") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	PanelChanged    bool
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Panel != new.Panel {
		d.PanelChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.LogFormat != new.LogFormat {
		d.RestartNeeded = append(d.RestartNeeded, "log_format")
	}
	if old.TrackerID != new.TrackerID {
		d.RestartNeeded = append(d.RestartNeeded, "tracker_id")
	}
	if old.SnapshotCron != new.SnapshotCron {
		d.RestartNeeded = append(d.RestartNeeded, "snapshot_cron")
	}
	if old.SnapshotWorkers != new.SnapshotWorkers {
		d.RestartNeeded = append(d.RestartNeeded, "snapshot_workers")
	}
	if old.Strict != new.Strict {
		d.RestartNeeded = append(d.RestartNeeded, "strict")
	}
	if old.MetadataSchema != new.MetadataSchema {
		d.RestartNeeded = append(d.RestartNeeded, "metadata_schema")
	}
	return d
}

func pidPath() string {
	return filepath.Join(wfstatusDir(), "wfstatus.pid")
}
