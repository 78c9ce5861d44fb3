// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config defines the doorman engine configuration: per-time-unit
// pageview quotas, behavioral filter limits, session admission bounds and
// the deny-attempt escalation thresholds, plus the storage driver and
// notification channels the daemon wires up.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"grimm.is/doorman/internal/errors"
	"grimm.is/doorman/internal/validation"
)

// Config is the top-level structure for the doorman engine configuration.
type Config struct {
	// Channel namespaces all persisted records so several protected
	// endpoints can share one storage backend.
	// @default: "doorman"
	Channel string `yaml:"channel,omitempty" json:"channel,omitempty"`

	Driver DriverConfig `yaml:"driver,omitempty" json:"driver,omitempty"`

	// Per-filter enable switches.
	Filters FilterToggles `yaml:"filters,omitempty" json:"filters,omitempty"`

	// Maximum pageviews per IP within each time unit window.
	TimeUnitQuota QuotaConfig `yaml:"time_unit_quota,omitempty" json:"time_unit_quota,omitempty"`

	// Seconds of good behavior after which filter flags are forgiven.
	// @default: 3600
	TimeResetLimit int64 `yaml:"time_reset_limit,omitempty" json:"time_reset_limit,omitempty"`

	// Minimum seconds between referer checks for one IP.
	// @default: 5
	IntervalCheckReferer int64 `yaml:"interval_check_referer,omitempty" json:"interval_check_referer,omitempty"`

	// Minimum seconds between session-continuity checks for one IP.
	// @default: 30
	IntervalCheckSession int64 `yaml:"interval_check_session,omitempty" json:"interval_check_session,omitempty"`

	// Unusual-behavior score ceilings per behavioral filter.
	LimitUnusualBehavior BehaviorLimits `yaml:"limit_unusual_behavior,omitempty" json:"limit_unusual_behavior,omitempty"`

	// Name of the challenge cookie issued by the cookie filter.
	// @default: "ddd"
	CookieName string `yaml:"cookie_name,omitempty" json:"cookie_name,omitempty"`

	Session SessionConfig `yaml:"session,omitempty" json:"session,omitempty"`

	DenyAttempt DenyAttemptConfig `yaml:"deny_attempt,omitempty" json:"deny_attempt,omitempty"`

	// FailOpen allows requests through when the storage backend is
	// unreachable. Default is fail closed: a request that cannot be
	// checked is denied rather than waved past the filters.
	// @default: false
	FailOpen bool `yaml:"fail_open,omitempty" json:"fail_open,omitempty"`

	Components ComponentsConfig `yaml:"components,omitempty" json:"components,omitempty"`

	Notifications NotificationsConfig `yaml:"notifications,omitempty" json:"notifications,omitempty"`

	// Directory for the append-only action log. Empty disables it.
	ActionLogDir string `yaml:"action_log_dir,omitempty" json:"action_log_dir,omitempty"`

	// Listen address for the demo daemon.
	// @default: ":8080"
	Listen string `yaml:"listen,omitempty" json:"listen,omitempty"`
}

// DriverConfig selects and parameterizes the storage backend.
type DriverConfig struct {
	// Type is one of: memory, file, sqlite, redis.
	// @default: "memory"
	Type string `yaml:"type,omitempty" json:"type,omitempty"`
	// Path is the data directory (file) or database file (sqlite).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Addr is the redis host:port.
	Addr string `yaml:"addr,omitempty" json:"addr,omitempty"`
	// DB is the redis database number.
	DB int `yaml:"db,omitempty" json:"db,omitempty"`
}

// FilterToggles enables or disables individual filters.
type FilterToggles struct {
	Frequency bool `yaml:"frequency" json:"frequency"`
	Cookie    bool `yaml:"cookie" json:"cookie"`
	Referer   bool `yaml:"referer" json:"referer"`
	Session   bool `yaml:"session" json:"session"`
}

// QuotaConfig holds the pageview quota for each time unit.
type QuotaConfig struct {
	Second int64 `yaml:"s" json:"s"`
	Minute int64 `yaml:"m" json:"m"`
	Hour   int64 `yaml:"h" json:"h"`
	Day    int64 `yaml:"d" json:"d"`
}

// BehaviorLimits holds the unusual-behavior score ceiling per filter.
type BehaviorLimits struct {
	Cookie  int64 `yaml:"cookie" json:"cookie"`
	Session int64 `yaml:"session" json:"session"`
	Referer int64 `yaml:"referer" json:"referer"`
}

// SessionConfig bounds concurrent session admission.
type SessionConfig struct {
	// Limit is the number of concurrently admitted sessions. Zero
	// disables session admission control.
	Limit int64 `yaml:"limit,omitempty" json:"limit,omitempty"`
	// ExpirySeconds evicts sessions idle longer than this.
	// @default: 300
	ExpirySeconds int64 `yaml:"expiry_seconds,omitempty" json:"expiry_seconds,omitempty"`
}

// CategoryConfig configures one deny-attempt escalation category.
type CategoryConfig struct {
	Enable bool `yaml:"enable" json:"enable"`
	// Notify sends a message through the attached messengers when the
	// category trips.
	Notify bool `yaml:"notify" json:"notify"`
	// Buffer is the number of temporary denials tolerated before the
	// category trips.
	Buffer int64 `yaml:"buffer" json:"buffer"`
}

// DenyAttemptConfig configures the deny-attempt circuit breaker.
type DenyAttemptConfig struct {
	DataCircle     CategoryConfig `yaml:"data_circle,omitempty" json:"data_circle,omitempty"`
	SystemFirewall CategoryConfig `yaml:"system_firewall,omitempty" json:"system_firewall,omitempty"`
	// ResetSeconds zeroes an IP's consecutive-denial counters after
	// this long without a new temporary denial.
	// @default: 3600
	ResetSeconds int64 `yaml:"reset_seconds,omitempty" json:"reset_seconds,omitempty"`
}

// ComponentConfig configures one identity component.
type ComponentConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Strict denies on ambiguous or missing signal instead of passing
	// the request through to the next check.
	Strict bool `yaml:"strict" json:"strict"`
}

// ComponentsConfig configures the identity components the daemon attaches.
type ComponentsConfig struct {
	IP         ComponentConfig `yaml:"ip,omitempty" json:"ip,omitempty"`
	UserAgent  ComponentConfig `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	TrustedBot ComponentConfig `yaml:"trusted_bot,omitempty" json:"trusted_bot,omitempty"`
	RDNS       ComponentConfig `yaml:"rdns,omitempty" json:"rdns,omitempty"`
	Header     ComponentConfig `yaml:"header,omitempty" json:"header,omitempty"`
}

// NotificationChannel describes one outbound messenger.
type NotificationChannel struct {
	Name       string   `yaml:"name" json:"name"`
	Type       string   `yaml:"type" json:"type"` // webhook, email
	Enabled    bool     `yaml:"enabled" json:"enabled"`
	WebhookURL string   `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
	SMTPHost   string   `yaml:"smtp_host,omitempty" json:"smtp_host,omitempty"`
	SMTPPort   int      `yaml:"smtp_port,omitempty" json:"smtp_port,omitempty"`
	SMTPUser   string   `yaml:"smtp_user,omitempty" json:"smtp_user,omitempty"`
	SMTPPass   string   `yaml:"smtp_pass,omitempty" json:"smtp_pass,omitempty"`
	From       string   `yaml:"from,omitempty" json:"from,omitempty"`
	To         []string `yaml:"to,omitempty" json:"to,omitempty"`
}

// NotificationsConfig configures outbound notifications.
type NotificationsConfig struct {
	Enabled  bool                  `yaml:"enabled" json:"enabled"`
	Channels []NotificationChannel `yaml:"channels,omitempty" json:"channels,omitempty"`
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() *Config {
	return &Config{
		Channel: "doorman",
		Driver:  DriverConfig{Type: "memory"},
		Filters: FilterToggles{
			Frequency: true,
			Cookie:    true,
			Referer:   true,
			Session:   true,
		},
		TimeUnitQuota: QuotaConfig{
			Second: 2,
			Minute: 10,
			Hour:   30,
			Day:    60,
		},
		TimeResetLimit:       3600,
		IntervalCheckReferer: 5,
		IntervalCheckSession: 30,
		LimitUnusualBehavior: BehaviorLimits{
			Cookie:  5,
			Session: 5,
			Referer: 10,
		},
		CookieName: "ddd",
		Session: SessionConfig{
			Limit:         0,
			ExpirySeconds: 300,
		},
		DenyAttempt: DenyAttemptConfig{
			DataCircle:     CategoryConfig{Buffer: 10},
			SystemFirewall: CategoryConfig{Buffer: 10},
			ResetSeconds:   3600,
		},
		Listen: ":8080",
	}
}

// Load reads a YAML configuration file, layered over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindConfiguration, "failed to read config file %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindConfiguration, "failed to parse config file %s", path)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errors.Wrap(errs[0], errors.KindConfiguration, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies. It returns all
// problems found, not just the first.
func (c *Config) Validate() []error {
	var errs []error

	if err := validation.ValidateChannel(c.Channel); err != nil {
		errs = append(errs, err)
	}

	switch c.Driver.Type {
	case "", "memory":
	case "file", "sqlite":
		if c.Driver.Path == "" {
			errs = append(errs, errors.Errorf(errors.KindConfiguration, "driver %q requires a path", c.Driver.Type))
		}
	case "redis":
		if c.Driver.Addr == "" {
			errs = append(errs, errors.New(errors.KindConfiguration, "redis driver requires an addr"))
		}
	default:
		errs = append(errs, errors.Errorf(errors.KindConfiguration, "unknown driver type: %s", c.Driver.Type))
	}

	for name, q := range map[string]int64{
		"s": c.TimeUnitQuota.Second,
		"m": c.TimeUnitQuota.Minute,
		"h": c.TimeUnitQuota.Hour,
		"d": c.TimeUnitQuota.Day,
	} {
		if q < 0 {
			errs = append(errs, errors.Errorf(errors.KindConfiguration, "time unit quota %q cannot be negative", name))
		}
	}

	if c.TimeResetLimit < 0 {
		errs = append(errs, errors.New(errors.KindConfiguration, "time_reset_limit cannot be negative"))
	}
	if c.Session.Limit < 0 {
		errs = append(errs, errors.New(errors.KindConfiguration, "session limit cannot be negative"))
	}
	if c.Session.ExpirySeconds <= 0 && c.Session.Limit > 0 {
		errs = append(errs, errors.New(errors.KindConfiguration, "session expiry must be positive when session limit is set"))
	}
	if c.DenyAttempt.ResetSeconds <= 0 && (c.DenyAttempt.DataCircle.Enable || c.DenyAttempt.SystemFirewall.Enable) {
		errs = append(errs, errors.New(errors.KindConfiguration, "deny_attempt reset_seconds must be positive when escalation is enabled"))
	}

	return errs
}
