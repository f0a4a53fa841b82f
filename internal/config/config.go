// Package config loads service settings from an optional YAML file and
// KUBEHEAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"kubeheal-backend/internal/history"
)

const EnvPrefix = "KUBEHEAL"

const (
	MinPollInterval = time.Second
	MaxPollInterval = time.Hour
)

const (
	HistoryMemory   = "memory"
	HistoryFile     = "file"
	HistoryPostgres = "postgres"
	HistorySQL      = "sql"

	TelemetryKube = "kube"
	TelemetryCSV  = "csv"
)

type Config struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
	NATSURL  string `mapstructure:"nats_url"`

	History   HistoryConfig   `mapstructure:"history"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	ThresholdsFile string `mapstructure:"thresholds_file"`
	ActionsFile    string `mapstructure:"actions_file"`

	PollInterval          time.Duration `mapstructure:"poll_interval"`
	CycleTimeout          time.Duration `mapstructure:"cycle_timeout"`
	IngestWorkers         int           `mapstructure:"ingest_workers"`
	ActionTimeout         time.Duration `mapstructure:"action_timeout"`
	AutoRemediate         bool          `mapstructure:"auto_remediate"`
	AutoRemediateCooldown time.Duration `mapstructure:"auto_remediate_cooldown"`
	DryRun                bool          `mapstructure:"dry_run"`
	QuietCycles           int           `mapstructure:"quiet_cycles"`
	ResolvedRetention     time.Duration `mapstructure:"resolved_retention"`
}

type HistoryConfig struct {
	Backend     string            `mapstructure:"backend"`
	File        string            `mapstructure:"file"`
	DatabaseURL string            `mapstructure:"database_url"`
	SQL         history.SQLConfig `mapstructure:"sql"`
}

type TelemetryConfig struct {
	Source     string `mapstructure:"source"`
	CSVPath    string `mapstructure:"csv_path"`
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
	Namespace  string `mapstructure:"namespace"`
}

var defaults = map[string]any{
	"port":                    "8080",
	"log_level":               "info",
	"nats_url":                "",
	"history.backend":         HistoryMemory,
	"history.file":            "remediations.json",
	"history.database_url":    "",
	"history.sql.type":        "",
	"history.sql.host":        "localhost",
	"history.sql.port":        0,
	"history.sql.user":        "",
	"history.sql.password":    "",
	"history.sql.database":    "kubeheal",
	"history.sql.sslmode":     "",
	"telemetry.source":        TelemetryKube,
	"telemetry.csv_path":      "",
	"telemetry.kubeconfig":    "",
	"telemetry.context":       "",
	"telemetry.namespace":     "",
	"thresholds_file":         "",
	"actions_file":            "",
	"poll_interval":           30 * time.Second,
	"cycle_timeout":           20 * time.Second,
	"ingest_workers":          8,
	"action_timeout":          60 * time.Second,
	"auto_remediate":          false,
	"auto_remediate_cooldown": 10 * time.Minute,
	"dry_run":                 false,
	"quiet_cycles":            3,
	"resolved_retention":      24 * time.Hour,
}

// Unprefixed variables kept from the older deployment manifests.
var legacyEnv = map[string]string{
	"port":                 "PORT",
	"nats_url":             "NATS_URL",
	"history.database_url": "DATABASE_URL",
	"telemetry.kubeconfig": "KUBECONFIG",
	"log_level":            "LOG_LEVEL",
}

// Load reads path when non-empty, then the environment. Environment values
// win over the file.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.History.Backend {
	case HistoryMemory:
	case HistoryFile:
		if c.History.File == "" {
			return errors.New("history.file is required for the file backend")
		}
	case HistoryPostgres:
		if c.History.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	case HistorySQL:
		if _, err := c.History.SQL.DSN(); err != nil {
			return fmt.Errorf("history.sql: %w", err)
		}
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	switch c.Telemetry.Source {
	case TelemetryKube:
	case TelemetryCSV:
		if c.Telemetry.CSVPath == "" {
			return errors.New("telemetry.csv_path is required for the csv source")
		}
	default:
		return fmt.Errorf("unknown telemetry source %q", c.Telemetry.Source)
	}
	if c.PollInterval < MinPollInterval || c.PollInterval > MaxPollInterval {
		return fmt.Errorf("poll_interval %s out of bounds [%s, %s]", c.PollInterval, MinPollInterval, MaxPollInterval)
	}
	if c.CycleTimeout <= 0 || c.ActionTimeout <= 0 {
		return errors.New("cycle_timeout and action_timeout must be positive")
	}
	if c.IngestWorkers <= 0 {
		return errors.New("ingest_workers must be positive")
	}
	return nil
}
