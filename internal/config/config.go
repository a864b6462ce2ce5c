// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	Answers  AnswersConfig  `mapstructure:"answers" yaml:"answers"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
	Human    HumanConfig    `mapstructure:"human" yaml:"human"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Profile  ProfileConfig  `mapstructure:"profile" yaml:"profile"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled browser instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	StartURL          string        `mapstructure:"start_url" yaml:"start_url"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	Humanize          bool          `mapstructure:"humanize" yaml:"humanize"`
}

// AgentConfig tunes the observe-think-act loop.
type AgentConfig struct {
	MaxIterations           int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	ConfidenceGate          float64       `mapstructure:"confidence_gate" yaml:"confidence_gate"`
	HistoryWindow           int           `mapstructure:"history_window" yaml:"history_window"`
	SettleDelay             time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	ProactiveChallengeCheck bool          `mapstructure:"proactive_challenge_check" yaml:"proactive_challenge_check"`
}

// MemoryConfig controls the selector cache, the episode log and the short-term buffer.
type MemoryConfig struct {
	Dir                   string        `mapstructure:"dir" yaml:"dir"`
	ShortTermCapacity     int           `mapstructure:"short_term_capacity" yaml:"short_term_capacity"`
	ActionLogSize         int           `mapstructure:"action_log_size" yaml:"action_log_size"`
	FlushEvery            int           `mapstructure:"flush_every" yaml:"flush_every"`
	EpisodeCapacity       int           `mapstructure:"episode_capacity" yaml:"episode_capacity"`
	SelectorCapacity      int           `mapstructure:"selector_capacity" yaml:"selector_capacity"`
	SelectorValidity      time.Duration `mapstructure:"selector_validity" yaml:"selector_validity"`
	LookupMinAttempts     int           `mapstructure:"lookup_min_attempts" yaml:"lookup_min_attempts"`
	LookupMinSuccessRate  float64       `mapstructure:"lookup_min_success_rate" yaml:"lookup_min_success_rate"`
	FailureMinAttempts    int           `mapstructure:"failure_min_attempts" yaml:"failure_min_attempts"`
	FailureMinSuccessRate float64       `mapstructure:"failure_min_success_rate" yaml:"failure_min_success_rate"`
}

// AnswersConfig holds the confidence tiers for the answer resolver.
type AnswersConfig struct {
	AutoThreshold    float64 `mapstructure:"auto_threshold" yaml:"auto_threshold"`
	SuggestThreshold float64 `mapstructure:"suggest_threshold" yaml:"suggest_threshold"`
	MatchThreshold   float64 `mapstructure:"match_threshold" yaml:"match_threshold"`
	KeywordTagLength int     `mapstructure:"keyword_tag_length" yaml:"keyword_tag_length"`
}

// RecoveryConfig bounds the waits performed by recovery strategies.
type RecoveryConfig struct {
	ChallengePollInterval time.Duration `mapstructure:"challenge_poll_interval" yaml:"challenge_poll_interval"`
	ChallengeTimeout      time.Duration `mapstructure:"challenge_timeout" yaml:"challenge_timeout"`
	RetryDelay            time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// HumanConfig tunes the operator console.
type HumanConfig struct {
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// LLMConfig configures the cognition service client.
type LLMConfig struct {
	Model             string        `mapstructure:"model" yaml:"model"`
	PowerfulModel     string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxRetryElapsed   time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
}

// StoreBackend selects the reuse store implementation.
type StoreBackend string

const (
	BackendSQLite   StoreBackend = "sqlite"
	BackendPostgres StoreBackend = "postgres"
)

// StoreConfig configures the answer reuse store.
type StoreConfig struct {
	Backend     StoreBackend `mapstructure:"backend" yaml:"backend"`
	SQLitePath  string       `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string       `mapstructure:"postgres_url" yaml:"postgres_url"`
}

// ProfileConfig points at the structured profile document.
type ProfileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "waypoint")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.start_url", "")
	v.SetDefault("browser.humanize", true)

	// -- Agent --
	v.SetDefault("agent.max_iterations", 50)
	v.SetDefault("agent.confidence_gate", 0.5)
	v.SetDefault("agent.history_window", 5)
	v.SetDefault("agent.settle_delay", "1s")
	v.SetDefault("agent.proactive_challenge_check", true)

	// -- Memory --
	v.SetDefault("memory.dir", "~/.waypoint/memory")
	v.SetDefault("memory.short_term_capacity", 15)
	v.SetDefault("memory.action_log_size", 50)
	v.SetDefault("memory.flush_every", 5)
	v.SetDefault("memory.episode_capacity", 100)
	v.SetDefault("memory.selector_capacity", 500)
	v.SetDefault("memory.selector_validity", "168h")
	v.SetDefault("memory.lookup_min_attempts", 3)
	v.SetDefault("memory.lookup_min_success_rate", 0.5)
	v.SetDefault("memory.failure_min_attempts", 5)
	v.SetDefault("memory.failure_min_success_rate", 0.3)

	// -- Answers --
	v.SetDefault("answers.auto_threshold", 0.90)
	v.SetDefault("answers.suggest_threshold", 0.75)
	v.SetDefault("answers.match_threshold", 0.6)
	v.SetDefault("answers.keyword_tag_length", 64)

	// -- Recovery --
	v.SetDefault("recovery.challenge_poll_interval", "2s")
	v.SetDefault("recovery.challenge_timeout", "60s")
	v.SetDefault("recovery.retry_delay", "2s")

	// -- Human --
	v.SetDefault("human.max_retries", 3)

	// -- LLM --
	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.powerful_model", "gemini-2.5-pro")
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.requests_per_minute", 30)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_retry_elapsed", "2m")

	// -- Store --
	v.SetDefault("store.backend", string(BackendSQLite))
	v.SetDefault("store.sqlite_path", "~/.waypoint/answers.db")
	v.SetDefault("store.postgres_url", "")

	// -- Profile --
	v.SetDefault("profile.path", "~/.waypoint/profile.yaml")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("llm.api_key", "WAYPOINT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("store.postgres_url", "WAYPOINT_STORE_POSTGRES_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every filesystem path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Memory.Dir, &c.Store.SQLitePath, &c.Profile.Path, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be positive integers")
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	if err := c.Memory.Validate(); err != nil {
		return fmt.Errorf("memory configuration invalid: %w", err)
	}
	if err := c.Answers.Validate(); err != nil {
		return fmt.Errorf("answers configuration invalid: %w", err)
	}
	if c.Recovery.ChallengePollInterval <= 0 || c.Recovery.ChallengeTimeout < c.Recovery.ChallengePollInterval {
		return fmt.Errorf("recovery.challenge_poll_interval must be positive and not exceed recovery.challenge_timeout")
	}
	if c.Human.MaxRetries <= 0 {
		return fmt.Errorf("human.max_retries must be a positive integer")
	}
	if c.LLM.RequestsPerMinute <= 0 {
		return fmt.Errorf("llm.requests_per_minute must be a positive integer")
	}
	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported store.backend %q", c.Store.Backend)
	}
	return nil
}

// Validate checks the loop settings.
func (a *AgentConfig) Validate() error {
	if a.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be greater than 0")
	}
	if !unitInterval(a.ConfidenceGate) {
		return fmt.Errorf("confidence_gate must be between 0.0 and 1.0")
	}
	if a.HistoryWindow < 0 {
		return fmt.Errorf("history_window must not be negative")
	}
	if a.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must not be negative")
	}
	return nil
}

// Validate checks the memory settings.
func (m *MemoryConfig) Validate() error {
	if m.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if m.ShortTermCapacity <= 0 {
		return fmt.Errorf("short_term_capacity must be a positive integer")
	}
	if m.FlushEvery <= 0 {
		return fmt.Errorf("flush_every must be a positive integer")
	}
	if m.EpisodeCapacity <= 0 || m.SelectorCapacity <= 0 || m.ActionLogSize <= 0 {
		return fmt.Errorf("episode_capacity, selector_capacity and action_log_size must be positive integers")
	}
	if m.SelectorValidity <= 0 {
		return fmt.Errorf("selector_validity must be a positive duration")
	}
	if !unitInterval(m.LookupMinSuccessRate) || !unitInterval(m.FailureMinSuccessRate) {
		return fmt.Errorf("selector success rate thresholds must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks that the answer tiers are ordered and in range.
func (a *AnswersConfig) Validate() error {
	if !unitInterval(a.AutoThreshold) || !unitInterval(a.SuggestThreshold) || !unitInterval(a.MatchThreshold) {
		return fmt.Errorf("thresholds must be between 0.0 and 1.0")
	}
	if a.SuggestThreshold > a.AutoThreshold {
		return fmt.Errorf("suggest_threshold must not exceed auto_threshold")
	}
	if a.KeywordTagLength <= 0 {
		return fmt.Errorf("keyword_tag_length must be a positive integer")
	}
	return nil
}

func unitInterval(f float64) bool {
	return f >= 0 && f <= 1
}
