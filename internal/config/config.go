package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version string        `yaml:"version"`
	Server  ServerConfig  `yaml:"server"`
	API     APIConfig     `yaml:"api"`
	Store   StoreConfig   `yaml:"store"`
	Limits  LimitsConfig  `yaml:"limits"`
	Quota   QuotaConfig   `yaml:"quota"`
	Alerts  AlertsConfig  `yaml:"alerts"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`

	// TLSCert and TLSKey enable TLS when both are set.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`
}

// TLS reports whether the server should serve TLS.
func (s *ServerConfig) TLS() bool {
	return s.TLSCert != "" && s.TLSKey != ""
}

// APIConfig contains admission API configuration.
type APIConfig struct {
	Enabled  bool        `yaml:"enabled"`
	BasePath string      `yaml:"base_path"`
	Auth     AuthConfig  `yaml:"auth"`
	Guard    GuardConfig `yaml:"guard"`
}

// AuthConfig contains API key authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// GuardConfig configures the local per-IP guard protecting the admission API
// itself. This is process-local abuse protection, distinct from the
// store-backed limits it fronts.
type GuardConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// StoreConfig selects and configures the backing store.
type StoreConfig struct {
	// Backend is one of: sqlite, redis, memory.
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Redis   RedisConfig   `yaml:"redis"`
}

// SQLiteConfig contains SQLite store configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig contains Redis store configuration.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LimitsConfig contains sliding-window rate limit configuration.
type LimitsConfig struct {
	// FailMode controls behavior when the store cannot complete the
	// admission transaction: "open" admits (availability over strictness),
	// "closed" rejects with a degraded error. Default is open.
	FailMode string               `yaml:"fail_mode"`
	Rules    map[string]LimitRule `yaml:"rules"`
}

// LimitRule is a per-action sliding-window ceiling.
type LimitRule struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// QuotaConfig contains monthly quota configuration per tier.
type QuotaConfig struct {
	Tiers map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is a per-tier monthly ceiling. Unlimited tiers never touch the
// store on quota checks.
type TierConfig struct {
	MonthlyCeiling int64 `yaml:"monthly_ceiling"`
	Unlimited      bool  `yaml:"unlimited"`
}

// AlertsConfig contains degradation alert configuration.
type AlertsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Debounce is the minimum time between duplicate alerts.
	Debounce time.Duration `yaml:"debounce"`
	// RateLimitPerMinute caps outbound alerts.
	RateLimitPerMinute int            `yaml:"rate_limit_per_minute"`
	Telegram           TelegramConfig `yaml:"telegram"`
}

// TelegramConfig contains the optional Telegram notifier configuration.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if err := c.Limits.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}

	if err := c.Quota.Validate(); err != nil {
		return fmt.Errorf("quota: %w", err)
	}

	if err := c.Alerts.Validate(); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}

	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.Host == "" {
		s.Host = "0.0.0.0"
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("http_port must be between 1 and 65535")
	}
	if s.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 30 * time.Second
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.LogFormat == "" {
		s.LogFormat = "json"
	}
	if (s.TLSCert == "") != (s.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

// Validate validates API configuration.
func (a *APIConfig) Validate() error {
	if a.BasePath == "" {
		a.BasePath = "/v1"
	}
	if a.Auth.Enabled && len(a.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth: api_keys is required when auth is enabled")
	}
	if a.Auth.HeaderName == "" {
		a.Auth.HeaderName = "X-API-Key"
	}
	if a.Guard.RequestsPerMinute <= 0 {
		a.Guard.RequestsPerMinute = 1000
	}
	if a.Guard.RequestsPerMinute > 100000 {
		a.Guard.RequestsPerMinute = 100000
	}
	if a.Guard.Burst <= 0 {
		a.Guard.Burst = 100
	}
	if a.Guard.Burst > 10000 {
		a.Guard.Burst = 10000
	}
	return nil
}

// Validate validates store configuration.
func (s *StoreConfig) Validate() error {
	if s.Backend == "" {
		s.Backend = "sqlite"
	}
	switch s.Backend {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("backend must be one of: sqlite, redis, memory")
	}
	if s.Timeout <= 0 {
		s.Timeout = 2 * time.Second
	}
	if s.Backend == "sqlite" && s.SQLite.Path == "" {
		s.SQLite.Path = "./data/quota.db"
	}
	if s.Backend == "redis" {
		if s.Redis.Addr == "" {
			s.Redis.Addr = "localhost:6379"
		}
		if s.Redis.KeyPrefix == "" {
			s.Redis.KeyPrefix = "postcraft"
		}
	}
	return nil
}

// Validate validates limits configuration and applies defaults.
func (l *LimitsConfig) Validate() error {
	if l.FailMode == "" {
		l.FailMode = "open"
	}
	if l.FailMode != "open" && l.FailMode != "closed" {
		return fmt.Errorf("fail_mode must be either \"open\" or \"closed\"")
	}
	if len(l.Rules) == 0 {
		l.Rules = map[string]LimitRule{
			"generate": {MaxRequests: 20, Window: time.Minute},
		}
	}
	for name, rule := range l.Rules {
		if rule.MaxRequests <= 0 {
			return fmt.Errorf("rule %s: max_requests must be positive", name)
		}
		if rule.Window <= 0 {
			return fmt.Errorf("rule %s: window must be positive", name)
		}
	}
	return nil
}

// FailOpen reports whether limits are configured to fail open.
func (l *LimitsConfig) FailOpen() bool {
	return l.FailMode != "closed"
}

// Rule returns the named rule, falling back to the generate rule.
func (l *LimitsConfig) Rule(name string) (LimitRule, bool) {
	rule, ok := l.Rules[name]
	return rule, ok
}

// Validate validates quota configuration and applies defaults.
func (q *QuotaConfig) Validate() error {
	if len(q.Tiers) == 0 {
		q.Tiers = map[string]TierConfig{
			"free": {MonthlyCeiling: 10},
			"pro":  {Unlimited: true},
		}
	}
	for name, tier := range q.Tiers {
		if !tier.Unlimited && tier.MonthlyCeiling <= 0 {
			return fmt.Errorf("tier %s: monthly_ceiling must be positive unless unlimited", name)
		}
	}
	return nil
}

// Ceiling returns the monthly ceiling for a tier. The second return is false
// for unlimited or unknown tiers; unknown tiers are treated as unlimited
// upstream only after the account lookup has already vouched for them.
func (q *QuotaConfig) Ceiling(tier string) (int64, bool) {
	cfg, ok := q.Tiers[tier]
	if !ok || cfg.Unlimited {
		return 0, false
	}
	return cfg.MonthlyCeiling, true
}

// Validate validates alerts configuration and applies defaults.
func (a *AlertsConfig) Validate() error {
	if a.Debounce <= 0 {
		a.Debounce = 5 * time.Minute
	}
	if a.RateLimitPerMinute <= 0 {
		a.RateLimitPerMinute = 30
	}
	if a.Telegram.Enabled && a.Telegram.BotToken == "" {
		return fmt.Errorf("telegram: bot_token is required when telegram is enabled")
	}
	return nil
}
