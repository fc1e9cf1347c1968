// Package config provides YAML-based configuration loading for throughput.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, loaded from throughput.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	Sequence SequenceConfig `yaml:"sequence"`
	Calendar CalendarConfig `yaml:"calendar"`
	Routes   []RouteConfig  `yaml:"routes"`
	Notify   NotifyConfig   `yaml:"notify"`
	Report   ReportConfig   `yaml:"report"`
}

// DatabaseConfig selects and addresses the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// EngineConfig bounds the continuation controller.
type EngineConfig struct {
	MaxChainDepth       int `yaml:"max_chain_depth"`
	CommitRetries       int `yaml:"commit_retries"`
	MaxPropagationDepth int `yaml:"max_propagation_depth"`
}

// SequenceConfig selects the global sequence allocator.
type SequenceConfig struct {
	Backend   string `yaml:"backend"` // db or redis
	Name      string `yaml:"name"`
	RedisAddr string `yaml:"redis_addr"`
	RedisKey  string `yaml:"redis_key"`
}

// CalendarConfig drives the capacity calendar maintenance job.
type CalendarConfig struct {
	HorizonDays int             `yaml:"horizon_days"`
	Schedule    string          `yaml:"schedule"`
	Holidays    []string        `yaml:"holidays"`
	Processes   []ProcessConfig `yaml:"processes"`
}

// ProcessConfig describes the daily capacity of one process.
type ProcessConfig struct {
	Name         string   `yaml:"name"`
	ShiftHours   float64  `yaml:"shift_hours"`
	Workstations int      `yaml:"workstations"`
	RestWeekdays []string `yaml:"rest_weekdays"`
}

// RouteConfig links an upstream process to the dependent process it feeds.
type RouteConfig struct {
	From        string  `yaml:"from"`
	To          string  `yaml:"to"`
	Material    string  `yaml:"material"`
	HourlyQuota float64 `yaml:"hourly_quota"`
	Ratio       float64 `yaml:"ratio"`
	LeadDays    int     `yaml:"lead_days"`
}

// NotifyConfig holds operator alert webhooks. All fields are optional.
type NotifyConfig struct {
	SlackWebhookURL     string `yaml:"slack_webhook_url"`
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
}

// ReportConfig configures the read-only reporting API.
type ReportConfig struct {
	Port int `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Host == "" {
		c.Database.Host = "127.0.0.1"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.User == "" {
		c.Database.User = "root"
	}
	if c.Engine.MaxChainDepth == 0 {
		c.Engine.MaxChainDepth = 365
	}
	if c.Engine.CommitRetries == 0 {
		c.Engine.CommitRetries = 3
	}
	if c.Engine.MaxPropagationDepth == 0 {
		c.Engine.MaxPropagationDepth = 8
	}
	if c.Sequence.Backend == "" {
		c.Sequence.Backend = "db"
	}
	if c.Sequence.Name == "" {
		c.Sequence.Name = "schedule_record"
	}
	if c.Sequence.RedisKey == "" {
		c.Sequence.RedisKey = "throughput:seq:" + c.Sequence.Name
	}
	if c.Calendar.HorizonDays == 0 {
		c.Calendar.HorizonDays = 60
	}
	if c.Calendar.Schedule == "" {
		c.Calendar.Schedule = "0 1 * * *"
	}
	for i := range c.Routes {
		if c.Routes[i].Ratio == 0 {
			c.Routes[i].Ratio = 1
		}
		if c.Routes[i].LeadDays == 0 {
			c.Routes[i].LeadDays = 1
		}
	}
	if c.Report.Port == 0 {
		c.Report.Port = 8080
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}

	if c.Engine.MaxChainDepth < 0 {
		errs = append(errs, "engine.max_chain_depth must be positive")
	}
	if c.Engine.CommitRetries < 0 {
		errs = append(errs, "engine.commit_retries must not be negative")
	}

	switch c.Sequence.Backend {
	case "db":
	case "redis":
		if c.Sequence.RedisAddr == "" {
			errs = append(errs, "sequence.redis_addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("sequence.backend %q is not supported (db, redis)", c.Sequence.Backend))
	}

	if len(c.Calendar.Processes) == 0 {
		errs = append(errs, "at least one calendar process is required")
	}
	seen := make(map[string]bool)
	for i, p := range c.Calendar.Processes {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("calendar.processes[%d].name is required", i))
		} else if seen[p.Name] {
			errs = append(errs, fmt.Sprintf("calendar.processes[%d].name %q is duplicated", i, p.Name))
		}
		seen[p.Name] = true
		if p.ShiftHours <= 0 {
			errs = append(errs, fmt.Sprintf("calendar.processes[%d].shift_hours must be positive", i))
		}
		if p.Workstations <= 0 {
			errs = append(errs, fmt.Sprintf("calendar.processes[%d].workstations must be positive", i))
		}
		for _, wd := range p.RestWeekdays {
			if _, ok := ParseWeekday(wd); !ok {
				errs = append(errs, fmt.Sprintf("calendar.processes[%d].rest_weekdays: unknown weekday %q", i, wd))
			}
		}
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse(time.DateOnly, h); err != nil {
			errs = append(errs, fmt.Sprintf("calendar.holidays: %q is not YYYY-MM-DD", h))
		}
	}

	for i, r := range c.Routes {
		if r.From == "" {
			errs = append(errs, fmt.Sprintf("routes[%d].from is required", i))
		}
		if r.To == "" {
			errs = append(errs, fmt.Sprintf("routes[%d].to is required", i))
		}
		if r.From != "" && r.From == r.To {
			errs = append(errs, fmt.Sprintf("routes[%d]: from and to must differ", i))
		}
		if r.HourlyQuota <= 0 {
			errs = append(errs, fmt.Sprintf("routes[%d].hourly_quota must be positive", i))
		}
		if r.Ratio < 0 {
			errs = append(errs, fmt.Sprintf("routes[%d].ratio must not be negative", i))
		}
		if r.LeadDays < 0 {
			errs = append(errs, fmt.Sprintf("routes[%d].lead_days must not be negative", i))
		}
	}

	if c.Notify.DiscordWebhookID != "" && c.Notify.DiscordWebhookToken == "" {
		errs = append(errs, "notify.discord_webhook_token is required with discord_webhook_id")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Process returns the calendar entry for the named process.
func (c *Config) Process(name string) (ProcessConfig, bool) {
	for _, p := range c.Calendar.Processes {
		if p.Name == name {
			return p, true
		}
	}
	return ProcessConfig{}, false
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday accepts short or long English weekday names, case-insensitive.
func ParseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}
