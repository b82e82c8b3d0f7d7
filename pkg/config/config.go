package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schoolops/rollcall/pkg/types"
)

// RosterConfig holds credentials and endpoint for the roster service
type RosterConfig struct {
	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AccessLogConfig holds the access log service endpoint and static token
type AccessLogConfig struct {
	BaseURL  string `yaml:"base_url"`
	Token    string `yaml:"token"`
	PageSize int    `yaml:"page_size"`
}

// AttendanceConfig controls which members are managed and how presence
// is evaluated
type AttendanceConfig struct {
	// LocationPattern is a regular expression matched against each
	// grouping's dismissal location name
	LocationPattern string `yaml:"location_pattern"`

	// PresentThreshold is the minimum present-count below which the day
	// is treated as a non-school day and no writes are issued
	PresentThreshold int `yaml:"present_threshold"`

	WindowStart string `yaml:"window_start"` // HH:MM
	WindowEnd   string `yaml:"window_end"`   // HH:MM
	Dismissal   string `yaml:"dismissal"`    // HH:MM
	Timezone    string `yaml:"timezone"`     // IANA name, e.g. America/New_York

	// RestoreChangeTypes lists dismissal-change types that are restored
	// when a member is promoted away from Absent
	RestoreChangeTypes []string `yaml:"restore_change_types"`

	// MatchByName enables the deprecated display-name matching strategy.
	// Leave off unless the upstream cannot supply stable actor ids.
	MatchByName bool `yaml:"match_by_name"`
}

// ScheduleConfig controls when the engine runs
type ScheduleConfig struct {
	// Daily is a cron expression for the window-close evaluation job
	Daily string `yaml:"daily"`

	// SweepIntervalMinutes is the late-arrival sweep period
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`

	// RunImmediately triggers one evaluation at startup in addition to
	// the cron schedule
	RunImmediately bool `yaml:"run_immediately"`

	// MaxConcurrency bounds fan-out of per-grouping fetches, per-member
	// writes, and access-log page fetches. 0 means unbounded.
	MaxConcurrency int `yaml:"max_concurrency"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full rollcall configuration
type Config struct {
	Roster     RosterConfig     `yaml:"roster"`
	AccessLog  AccessLogConfig  `yaml:"access_log"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Log        LogConfig        `yaml:"log"`

	// StatusAddr is the listen address for the healthz/metrics server.
	// Empty disables the server.
	StatusAddr string `yaml:"status_addr"`

	// DryRun suppresses all write calls, logging the intended write instead
	DryRun bool `yaml:"dry_run"`
}

// Defaults applied before the file and environment are read
func defaults() *Config {
	return &Config{
		AccessLog: AccessLogConfig{PageSize: 100},
		Attendance: AttendanceConfig{
			PresentThreshold:   10,
			WindowStart:        "07:30",
			WindowEnd:          "08:15",
			Dismissal:          "15:00",
			Timezone:           "America/New_York",
			RestoreChangeTypes: []string{string(types.ChangeTypeBus)},
		},
		Schedule: ScheduleConfig{
			Daily:                "20 8 * * 1-5",
			SweepIntervalMinutes: 10,
			MaxConcurrency:       8,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, applies ROLLCALL_* environment
// overrides, and validates the result. An empty path skips the file and
// uses defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides select fields from the environment. Credentials are
// the main use: they stay out of the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ROLLCALL_ROSTER_URL"); v != "" {
		cfg.Roster.BaseURL = v
	}
	if v := os.Getenv("ROLLCALL_ROSTER_USERNAME"); v != "" {
		cfg.Roster.Username = v
	}
	if v := os.Getenv("ROLLCALL_ROSTER_PASSWORD"); v != "" {
		cfg.Roster.Password = v
	}
	if v := os.Getenv("ROLLCALL_ACCESSLOG_URL"); v != "" {
		cfg.AccessLog.BaseURL = v
	}
	if v := os.Getenv("ROLLCALL_ACCESSLOG_TOKEN"); v != "" {
		cfg.AccessLog.Token = v
	}
	if v := os.Getenv("ROLLCALL_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DryRun = b
		}
	}
	if v := os.Getenv("ROLLCALL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks the configuration for fields the engine cannot run without
func (c *Config) Validate() error {
	if c.Roster.BaseURL == "" {
		return fmt.Errorf("roster.base_url is required")
	}
	if c.Roster.Username == "" || c.Roster.Password == "" {
		return fmt.Errorf("roster credentials are required")
	}
	if c.AccessLog.BaseURL == "" {
		return fmt.Errorf("access_log.base_url is required")
	}
	if c.AccessLog.Token == "" {
		return fmt.Errorf("access_log.token is required")
	}
	if c.AccessLog.PageSize <= 0 {
		return fmt.Errorf("access_log.page_size must be positive")
	}
	if c.Attendance.LocationPattern == "" {
		return fmt.Errorf("attendance.location_pattern is required")
	}
	if _, err := regexp.Compile(c.Attendance.LocationPattern); err != nil {
		return fmt.Errorf("invalid attendance.location_pattern: %w", err)
	}
	if c.Attendance.PresentThreshold < 0 {
		return fmt.Errorf("attendance.present_threshold must not be negative")
	}
	if c.Schedule.SweepIntervalMinutes <= 0 {
		return fmt.Errorf("schedule.sweep_interval_minutes must be positive")
	}
	if c.Schedule.MaxConcurrency < 0 {
		return fmt.Errorf("schedule.max_concurrency must not be negative")
	}
	if _, err := c.Window(); err != nil {
		return err
	}
	return nil
}

// Window builds the attendance window from the configured times and zone
func (c *Config) Window() (types.AttendanceWindow, error) {
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return types.AttendanceWindow{}, fmt.Errorf("invalid attendance.timezone: %w", err)
	}
	start, err := types.ParseTimeOfDay(c.Attendance.WindowStart)
	if err != nil {
		return types.AttendanceWindow{}, err
	}
	end, err := types.ParseTimeOfDay(c.Attendance.WindowEnd)
	if err != nil {
		return types.AttendanceWindow{}, err
	}
	dismissal, err := types.ParseTimeOfDay(c.Attendance.Dismissal)
	if err != nil {
		return types.AttendanceWindow{}, err
	}
	w := types.AttendanceWindow{Start: start, End: end, Dismissal: dismissal, Location: loc}
	if err := w.Validate(); err != nil {
		return types.AttendanceWindow{}, err
	}
	return w, nil
}

// LocationRegexp returns the compiled dismissal-location pattern.
// Validate must have succeeded first.
func (c *Config) LocationRegexp() *regexp.Regexp {
	return regexp.MustCompile(c.Attendance.LocationPattern)
}

// RestoreTypes returns the configured restorable change types as a set
func (c *Config) RestoreTypes() map[types.ChangeType]bool {
	set := make(map[types.ChangeType]bool, len(c.Attendance.RestoreChangeTypes))
	for _, t := range c.Attendance.RestoreChangeTypes {
		set[types.ChangeType(t)] = true
	}
	return set
}
