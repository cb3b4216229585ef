// Package config loads the bot settings once at startup. The returned value
// is treated as read-only for the rest of the process lifetime.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Keywords   []string         `yaml:"keywords"`
	Feeds      FeedsConfig      `yaml:"feeds"`
	Ratios     RatiosConfig     `yaml:"ratios"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Summary    SummaryConfig    `yaml:"summary"`
	Messages   MessagesConfig   `yaml:"messages"`
	Manual     ManualConfig     `yaml:"manual"`
	Monitoring MonitoringConfig `yaml:"monitoring"`

	Debug bool `yaml:"debug"`
}

type TelegramConfig struct {
	Token       string        `yaml:"token"`
	Recipient   string        `yaml:"recipient"`
	APIURL      string        `yaml:"api_url"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// FeedsConfig holds the two disjoint source pools, in configured order.
type FeedsConfig struct {
	Domestic      []string `yaml:"domestic"`
	International []string `yaml:"international"`
}

// RatiosConfig is the fraction of each pool's matched items to keep.
// Pointers distinguish "missing" from an explicit 0.
type RatiosConfig struct {
	Domestic      *float64 `yaml:"domestic"`
	International *float64 `yaml:"international"`
}

type ScheduleConfig struct {
	Day      string `yaml:"day"`  // mon, mon,thu, mon-fri
	Time     string `yaml:"time"` // HH:MM, 24h
	Timezone string `yaml:"timezone"`
}

type FetchConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	UserAgent   string        `yaml:"user_agent"`
}

type SummaryConfig struct {
	MaxChars  int    `yaml:"max_chars"`
	Marker    string `yaml:"marker"`
	StripHTML bool   `yaml:"strip_html"`
}

type MessagesConfig struct {
	Header      string `yaml:"header"`
	NotFound    string `yaml:"not_found"`
	Busy        string `yaml:"busy"`
	RateLimited string `yaml:"rate_limited"`
}

// ManualConfig throttles the /digest command.
type ManualConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	Burst       int           `yaml:"burst"`
}

type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	APIKey  string `yaml:"api_key"`
}

// legacyConfig mirrors the flat config.json layout of the first bot version.
type legacyConfig struct {
	TelegramToken      string   `yaml:"telegram_token"`
	AdminID            string   `yaml:"admin_id"`
	RSSFeedsRussia     []string `yaml:"rss_feeds_russia"`
	RSSFeedsIntl       []string `yaml:"rss_feeds_international"`
	RatioRussia        *float64 `yaml:"ratio_russia"`
	RatioInternational *float64 `yaml:"ratio_international"`
	ScheduleDay        string   `yaml:"schedule_day"`
	ScheduleTime       string   `yaml:"schedule_time"`
}

const (
	DefaultAPIURL      = "https://api.telegram.org"
	DefaultHeader      = "Weekly news digest:"
	DefaultNotFound    = "No news found for the keywords."
	DefaultBusy        = "A digest is already being prepared, try again in a moment."
	DefaultRateLimited = "Too many digest requests, please wait a bit."
	DefaultUserAgent   = "digestbot/1.0 (+https://github.com/deusflow/digestbot)"
	DefaultSummaryCap  = 150
	DefaultMarker      = "..."
)

// ConfigurationError reports a missing or malformed setting. It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Field: "file", Reason: err.Error()}
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Field: "file", Reason: fmt.Sprintf("failed to parse YAML: %v", err)}
	}

	var legacy legacyConfig
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, &ConfigurationError{Field: "file", Reason: fmt.Sprintf("failed to parse YAML: %v", err)}
	}
	cfg.applyLegacy(legacy)
	cfg.applyEnv()
	cfg.setDefaults()
	cfg.Keywords = normalizeKeywords(cfg.Keywords)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyLegacy(l legacyConfig) {
	if c.Telegram.Token == "" {
		c.Telegram.Token = l.TelegramToken
	}
	if c.Telegram.Recipient == "" {
		c.Telegram.Recipient = l.AdminID
	}
	if len(c.Feeds.Domestic) == 0 {
		c.Feeds.Domestic = l.RSSFeedsRussia
	}
	if len(c.Feeds.International) == 0 {
		c.Feeds.International = l.RSSFeedsIntl
	}
	if c.Ratios.Domestic == nil {
		c.Ratios.Domestic = l.RatioRussia
	}
	if c.Ratios.International == nil {
		c.Ratios.International = l.RatioInternational
	}
	if c.Schedule.Day == "" {
		c.Schedule.Day = l.ScheduleDay
	}
	if c.Schedule.Time == "" {
		c.Schedule.Time = l.ScheduleTime
	}
}

func (c *Config) applyEnv() {
	c.Telegram.Token = getEnvOrDefault("TELEGRAM_TOKEN", c.Telegram.Token)
	c.Telegram.Recipient = getEnvOrDefault("TELEGRAM_CHAT_ID", c.Telegram.Recipient)
	c.Monitoring.APIKey = getEnvOrDefault("MONITORING_API_KEY", c.Monitoring.APIKey)

	if debug := os.Getenv("DEBUG"); debug == "true" {
		c.Debug = true
	}
	if v := os.Getenv("FETCH_CONCURRENCY"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			c.Fetch.Concurrency = val
		}
	}
}

func (c *Config) setDefaults() {
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = DefaultAPIURL
	}
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 30 * time.Second
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "UTC"
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 20 * time.Second
	}
	if c.Fetch.Concurrency == 0 {
		c.Fetch.Concurrency = 4
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}
	if c.Summary.MaxChars == 0 {
		c.Summary.MaxChars = DefaultSummaryCap
	}
	if c.Summary.Marker == "" {
		c.Summary.Marker = DefaultMarker
	}
	if c.Messages.Header == "" {
		c.Messages.Header = DefaultHeader
	}
	if c.Messages.NotFound == "" {
		c.Messages.NotFound = DefaultNotFound
	}
	if c.Messages.Busy == "" {
		c.Messages.Busy = DefaultBusy
	}
	if c.Messages.RateLimited == "" {
		c.Messages.RateLimited = DefaultRateLimited
	}
	if c.Manual.MinInterval == 0 {
		c.Manual.MinInterval = time.Minute
	}
	if c.Manual.Burst == 0 {
		c.Manual.Burst = 1
	}
	if c.Monitoring.Addr == "" {
		c.Monitoring.Addr = ":8080"
	}
}

// Validate checks every required setting and returns the first problem as a
// *ConfigurationError.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return invalid("telegram.token", "is required (or set TELEGRAM_TOKEN)")
	}
	if c.Telegram.Recipient == "" {
		return invalid("telegram.recipient", "is required (or set TELEGRAM_CHAT_ID)")
	}
	if _, err := url.ParseRequestURI(c.Telegram.APIURL); err != nil {
		return invalid("telegram.api_url", "%v", err)
	}
	if c.Telegram.PollTimeout < 0 {
		return invalid("telegram.poll_timeout", "must be non-negative")
	}

	if len(c.Keywords) == 0 {
		return invalid("keywords", "at least one keyword is required")
	}

	if len(c.Feeds.Domestic)+len(c.Feeds.International) == 0 {
		return invalid("feeds", "at least one feed source is required")
	}
	for i, u := range c.Feeds.Domestic {
		if err := validateFeedURL(u); err != nil {
			return invalid(fmt.Sprintf("feeds.domestic[%d]", i), "%v", err)
		}
	}
	for i, u := range c.Feeds.International {
		if err := validateFeedURL(u); err != nil {
			return invalid(fmt.Sprintf("feeds.international[%d]", i), "%v", err)
		}
	}

	if err := validateRatio("ratios.domestic", c.Ratios.Domestic); err != nil {
		return err
	}
	if err := validateRatio("ratios.international", c.Ratios.International); err != nil {
		return err
	}

	if _, err := ParseDays(c.Schedule.Day); err != nil {
		return invalid("schedule.day", "%v", err)
	}
	if _, _, err := ParseClock(c.Schedule.Time); err != nil {
		return invalid("schedule.time", "%v", err)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return invalid("schedule.timezone", "%v", err)
	}

	if c.Fetch.Timeout < 0 {
		return invalid("fetch.timeout", "must be non-negative")
	}
	if c.Fetch.Concurrency < 0 {
		return invalid("fetch.concurrency", "must be positive")
	}
	if c.Summary.MaxChars < 0 {
		return invalid("summary.max_chars", "must be positive")
	}
	if c.Manual.MinInterval < 0 {
		return invalid("manual.min_interval", "must be non-negative")
	}
	if c.Manual.Burst < 0 {
		return invalid("manual.burst", "must be positive")
	}
	return nil
}

// DomesticRatio returns the validated domestic ratio.
func (c *Config) DomesticRatio() float64 {
	if c.Ratios.Domestic == nil {
		return 0
	}
	return *c.Ratios.Domestic
}

// InternationalRatio returns the validated international ratio.
func (c *Config) InternationalRatio() float64 {
	if c.Ratios.International == nil {
		return 0
	}
	return *c.Ratios.International
}

// Location resolves the schedule timezone. Validate has already checked it.
func (s ScheduleConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func validateFeedURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

func validateRatio(field string, v *float64) error {
	if v == nil {
		return invalid(field, "is required")
	}
	if *v < 0 || *v > 1 || *v != *v {
		return invalid(field, "must be within [0,1], got %v", *v)
	}
	return nil
}

// normalizeKeywords lowercases and trims keywords, dropping blanks and repeats.
func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
