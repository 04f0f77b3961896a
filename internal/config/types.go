package config

// Config is the full desyncd configuration. It is loaded once at startup;
// the job table is static for the process lifetime.
type Config struct {
	// AppName participates in the desync instance identity. Required.
	AppName string `json:"app_name"`
	// Host overrides the detected host name for the instance identity.
	// Defaults to $HOSTNAME, then os.Hostname().
	Host string `json:"host,omitempty"`

	Logging LoggingConfig `json:"logging"`

	// Desync holds the default delay window/jitter applied to jobs that do
	// not set their own.
	Desync DesyncConfig `json:"desync,omitempty"`

	Runner  RunnerConfig   `json:"runner,omitempty"`
	HTTP    *HTTPConfig    `json:"http,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`

	Jobs map[string]JobConfig `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// DesyncConfig carries process-wide desync defaults. Durations accept both
// ISO-8601 ("PT7M") and Go ("7m") forms.
//
// Defaults (when omitted): window "PT7M", jitter "PT20S".
type DesyncConfig struct {
	Window string `json:"window,omitempty"`
	Jitter string `json:"jitter,omitempty"`
}

// RunnerConfig controls the worker pool executing job bodies.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - history_size: 100
type RunnerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout is a duration string (e.g. "30s"). "0s" disables it.
	DefaultTimeout string `json:"default_timeout,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

// HTTPConfig controls the optional stats/health HTTP server.
//
// Prefer binding to localhost; the surface is operational, not public.
type HTTPConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"`         // default "127.0.0.1:8086"
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default 10
}

// StorageConfig controls optional run-history persistence.
//
// Driver values: "none" (default) or "sqlite". Only finished runs are
// recorded; schedules themselves are never persisted.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // duration string (sqlite)
}

// JobType distinguishes cron-expression jobs from fixed-period jobs.
type JobType string

const (
	JobTypeCron     JobType = "CRON"
	JobTypeDuration JobType = "DURATION"
)

// JobConfig is one entry of the declarative job table.
type JobConfig struct {
	Type  JobType `json:"type"`
	Value string  `json:"value"`

	Disabled bool `json:"disabled,omitempty"`

	// Endpoint and Description are informational; the default handler logs
	// them, real handlers may use them as they see fit.
	Endpoint    string `json:"endpoint,omitempty"`
	Description string `json:"description,omitempty"`

	// DesyncWindow/DesyncJitter override the process-wide desync defaults
	// for this job. Duration strings, ISO-8601 or Go form.
	DesyncWindow string `json:"desync_window,omitempty"`
	DesyncJitter string `json:"desync_jitter,omitempty"`
}
