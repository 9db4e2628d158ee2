// Package config loads the YAML configuration for the monitor and
// tracker daemons. Missing files fall back to defaults so both daemons
// start with zero configuration, and a small set of LAEUFT_* environment
// variables override file values for containerized deployments.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML fields written as duration
// strings like "30s" or "200ms".
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Target is one probe target of the monitor. In YAML it can be a bare
// address string or a mapping with probe type and parameters.
type Target struct {
	Address string         `yaml:"address"`
	Probe   string         `yaml:"probe"`
	Params  map[string]any `yaml:"params"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (t *Target) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		t.Address = s
		return nil
	}
	type plain Target
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*t = Target(p)
	return nil
}

// Log configures logrus output and rotation.
type Log struct {
	// Level is a logrus level name: debug, info, warn, error.
	Level string `yaml:"level"`

	// File is the log file path. Empty logs to stderr.
	File string `yaml:"file"`

	// MaxSizeMB, MaxBackups, and MaxAgeDays control rotation of File.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// SpeedTest configures throughput measurement on the monitor.
type SpeedTest struct {
	// SlowThresholdMbps is the download rate below which the connection
	// counts as slow.
	SlowThresholdMbps float64 `yaml:"slow_threshold_mbps"`

	// Schedule is the interval between routine speed tests.
	Schedule Duration `yaml:"schedule"`

	// SlowRetestInterval is the retest cadence while the connection is
	// degraded or slow.
	SlowRetestInterval Duration `yaml:"slow_retest_interval"`

	// OoklaBin is the Ookla speedtest CLI binary name or path.
	OoklaBin string `yaml:"ookla_bin"`

	// DownloadSizeMB is the payload size for the tracker download
	// measurement.
	DownloadSizeMB int `yaml:"download_size_mb"`
}

// EventLog configures the local CSV event log of the monitor.
type EventLog struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Monitor is the configuration of the laeuftd daemon.
type Monitor struct {
	Targets             []Target  `yaml:"targets"`
	ProbeInterval       Duration  `yaml:"probe_interval"`
	ProbeTimeout        Duration  `yaml:"probe_timeout"`
	ProbeCount          int       `yaml:"probe_count"`
	HeartbeatInterval   Duration  `yaml:"heartbeat_interval"`
	LatencyThreshold    Duration  `yaml:"latency_threshold"`
	DegradedEnterCycles int       `yaml:"degraded_enter_cycles"`
	DegradedExitCycles  int       `yaml:"degraded_exit_cycles"`
	Listen              string    `yaml:"listen"`
	TrackerURL          string    `yaml:"tracker_url"`
	SpeedTest           SpeedTest `yaml:"speedtest"`
	EventLog            EventLog  `yaml:"event_log"`
	Log                 Log       `yaml:"log"`
}

// Ntfy configures push notifications via an ntfy server.
type Ntfy struct {
	Server  string `yaml:"server"`
	Topic   string `yaml:"topic"`
	Enabled bool   `yaml:"enabled"`
}

// Tracker is the configuration of the laeuft-tracker daemon.
type Tracker struct {
	Listen           string   `yaml:"listen"`
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`
	CheckInterval    Duration `yaml:"check_interval"`
	StartupGrace     Duration `yaml:"startup_grace"`
	MergeWindow      Duration `yaml:"merge_window"`
	DBPath           string   `yaml:"db_path"`
	Ntfy             Ntfy     `yaml:"ntfy"`
	Log              Log      `yaml:"log"`
}

// DefaultMonitor returns the monitor defaults.
func DefaultMonitor() Monitor {
	return Monitor{
		Targets: []Target{
			{Address: "1.1.1.1"},
			{Address: "8.8.8.8"},
		},
		ProbeInterval:       Duration(30 * time.Second),
		ProbeTimeout:        Duration(5 * time.Second),
		ProbeCount:          3,
		HeartbeatInterval:   Duration(60 * time.Second),
		LatencyThreshold:    Duration(200 * time.Millisecond),
		DegradedEnterCycles: 1,
		DegradedExitCycles:  3,
		Listen:              ":8080",
		SpeedTest: SpeedTest{
			SlowThresholdMbps:  50,
			Schedule:           Duration(1 * time.Hour),
			SlowRetestInterval: Duration(5 * time.Minute),
			OoklaBin:           "speedtest",
			DownloadSizeMB:     20,
		},
		EventLog: EventLog{
			Path:          "laeuftd-events.csv",
			RetentionDays: 90,
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// DefaultTracker returns the tracker defaults.
func DefaultTracker() Tracker {
	return Tracker{
		Listen:           ":5000",
		HeartbeatTimeout: Duration(180 * time.Second),
		CheckInterval:    Duration(30 * time.Second),
		StartupGrace:     Duration(120 * time.Second),
		MergeWindow:      Duration(30 * time.Minute),
		DBPath:           "laeuft-tracker.db",
		Ntfy: Ntfy{
			Server: "https://ntfy.sh",
		},
		Log: Log{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// LoadMonitor reads the monitor configuration. A missing file falls
// back to defaults; environment overrides apply either way.
func LoadMonitor(path string) (Monitor, error) {
	cfg := DefaultMonitor()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Monitor{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Monitor{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyMonitorEnv(&cfg); err != nil {
		return Monitor{}, err
	}
	if err := validateMonitor(&cfg); err != nil {
		return Monitor{}, err
	}
	return cfg, nil
}

// LoadTracker reads the tracker configuration. A missing file falls
// back to defaults; environment overrides apply either way.
func LoadTracker(path string) (Tracker, error) {
	cfg := DefaultTracker()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return Tracker{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(content, &cfg); err != nil {
				return Tracker{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := applyTrackerEnv(&cfg); err != nil {
		return Tracker{}, err
	}
	if err := validateTracker(&cfg); err != nil {
		return Tracker{}, err
	}
	return cfg, nil
}

func applyMonitorEnv(cfg *Monitor) error {
	if v := os.Getenv("LAEUFT_TARGETS"); v != "" {
		var targets []Target
		for _, addr := range strings.Split(v, ",") {
			addr = strings.TrimSpace(addr)
			if addr == "" {
				continue
			}
			targets = append(targets, Target{Address: addr})
		}
		cfg.Targets = targets
	}
	envString("LAEUFT_TRACKER_URL", &cfg.TrackerURL)
	envString("LAEUFT_LISTEN", &cfg.Listen)
	envString("LAEUFT_LOG_LEVEL", &cfg.Log.Level)
	if err := envDuration("LAEUFT_PROBE_INTERVAL", &cfg.ProbeInterval); err != nil {
		return err
	}
	return envDuration("LAEUFT_HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval)
}

func applyTrackerEnv(cfg *Tracker) error {
	envString("LAEUFT_LISTEN", &cfg.Listen)
	envString("LAEUFT_DB_PATH", &cfg.DBPath)
	envString("LAEUFT_LOG_LEVEL", &cfg.Log.Level)
	envString("LAEUFT_NTFY_SERVER", &cfg.Ntfy.Server)
	if v := os.Getenv("LAEUFT_NTFY_TOPIC"); v != "" {
		cfg.Ntfy.Topic = v
		cfg.Ntfy.Enabled = true
	}
	if err := envDuration("LAEUFT_HEARTBEAT_TIMEOUT", &cfg.HeartbeatTimeout); err != nil {
		return err
	}
	return envDuration("LAEUFT_STARTUP_GRACE", &cfg.StartupGrace)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envDuration(key string, dst *Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", key, v, err)
	}
	*dst = Duration(d)
	return nil
}

func validateMonitor(cfg *Monitor) error {
	if len(cfg.Targets) == 0 {
		return errors.New("config: at least one target is required")
	}
	for i := range cfg.Targets {
		t := &cfg.Targets[i]
		if t.Address == "" {
			return fmt.Errorf("config: target %d has no address", i)
		}
		if t.Probe == "" {
			t.Probe = "icmp"
		}
	}
	if cfg.ProbeInterval <= 0 {
		return errors.New("config: probe_interval must be positive")
	}
	if cfg.ProbeTimeout <= 0 {
		return errors.New("config: probe_timeout must be positive")
	}
	if cfg.ProbeCount < 1 {
		return errors.New("config: probe_count must be at least 1")
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("config: heartbeat_interval must be positive")
	}
	if cfg.LatencyThreshold <= 0 {
		return errors.New("config: latency_threshold must be positive")
	}
	if cfg.DegradedEnterCycles < 1 {
		return errors.New("config: degraded_enter_cycles must be at least 1")
	}
	if cfg.DegradedExitCycles < 1 {
		return errors.New("config: degraded_exit_cycles must be at least 1")
	}
	if cfg.Listen == "" {
		return errors.New("config: listen must not be empty")
	}
	if cfg.SpeedTest.SlowThresholdMbps <= 0 {
		return errors.New("config: speedtest slow_threshold_mbps must be positive")
	}
	if cfg.SpeedTest.DownloadSizeMB < 1 {
		return errors.New("config: speedtest download_size_mb must be at least 1")
	}
	if cfg.EventLog.RetentionDays < 0 {
		return errors.New("config: event_log retention_days must not be negative")
	}
	return nil
}

func validateTracker(cfg *Tracker) error {
	if cfg.Listen == "" {
		return errors.New("config: listen must not be empty")
	}
	if cfg.HeartbeatTimeout <= 0 {
		return errors.New("config: heartbeat_timeout must be positive")
	}
	if cfg.CheckInterval <= 0 {
		return errors.New("config: check_interval must be positive")
	}
	if cfg.StartupGrace < 0 {
		return errors.New("config: startup_grace must not be negative")
	}
	if cfg.MergeWindow < 0 {
		return errors.New("config: merge_window must not be negative")
	}
	if cfg.Ntfy.Enabled && cfg.Ntfy.Topic == "" {
		return errors.New("config: ntfy topic is required when notifications are enabled")
	}
	return nil
}
