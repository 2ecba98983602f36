// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Runner() RunnerConfig
	Poll() PollConfig
	Navigation() NavigationConfig
	Supervisor() SupervisorConfig
	Artifacts() ArtifactsConfig
	Server() ServerConfig
	Events() EventsConfig
	External() ExternalConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	RunnerCfg     RunnerConfig     `mapstructure:"runner" yaml:"runner"`
	PollCfg       PollConfig       `mapstructure:"poll" yaml:"poll"`
	NavigationCfg NavigationConfig `mapstructure:"navigation" yaml:"navigation"`
	SupervisorCfg SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	ArtifactsCfg  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	EventsCfg     EventsConfig     `mapstructure:"events" yaml:"events"`
	ExternalCfg   ExternalConfig   `mapstructure:"external" yaml:"external"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Runner() RunnerConfig         { return c.RunnerCfg }
func (c *Config) Poll() PollConfig             { return c.PollCfg }
func (c *Config) Navigation() NavigationConfig { return c.NavigationCfg }
func (c *Config) Supervisor() SupervisorConfig { return c.SupervisorCfg }
func (c *Config) Artifacts() ArtifactsConfig   { return c.ArtifactsCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Events() EventsConfig         { return c.EventsCfg }
func (c *Config) External() ExternalConfig     { return c.ExternalCfg }

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

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ViewportConfig is a width/height pair in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// BrowserConfig holds settings for the controlled browser page.
type BrowserConfig struct {
	// Driver is "playwright" or "chromedp".
	Driver            string         `mapstructure:"driver" yaml:"driver"`
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	RecordVideo       bool           `mapstructure:"record_video" yaml:"record_video"`
	VideoSize         ViewportConfig `mapstructure:"video_size" yaml:"video_size"`
	DefaultTimeout    time.Duration  `mapstructure:"default_timeout" yaml:"default_timeout"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// Install downloads the playwright browsers before the first launch.
	Install bool `mapstructure:"install" yaml:"install"`
	// FrameInterval is the chromedp recorder's capture period.
	FrameInterval time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
}

// DelayConfig holds the fixed settle delays the target application needs.
type DelayConfig struct {
	ClickSettle  time.Duration `mapstructure:"click_settle" yaml:"click_settle"`
	PressSettle  time.Duration `mapstructure:"press_settle" yaml:"press_settle"`
	ComboBox     time.Duration `mapstructure:"combo_box" yaml:"combo_box"`
	ListboxCheck time.Duration `mapstructure:"listbox_check" yaml:"listbox_check"`
	CopyPaste    time.Duration `mapstructure:"copy_paste" yaml:"copy_paste"`
	TabOut       time.Duration `mapstructure:"tab_out" yaml:"tab_out"`
	DelayedClick time.Duration `mapstructure:"delayed_click" yaml:"delayed_click"`
}

// RunnerConfig controls scenario execution.
type RunnerConfig struct {
	ScenarioTimeout  time.Duration `mapstructure:"scenario_timeout" yaml:"scenario_timeout"`
	StrictMode       bool          `mapstructure:"strict_mode" yaml:"strict_mode"`
	SoftAssertions   bool          `mapstructure:"soft_assertions" yaml:"soft_assertions"`
	VisibleTimeout   time.Duration `mapstructure:"visible_timeout" yaml:"visible_timeout"`
	AssertionTimeout time.Duration `mapstructure:"assertion_timeout" yaml:"assertion_timeout"`
	RetryInterval    time.Duration `mapstructure:"retry_interval" yaml:"retry_interval"`

	// Highlight outlines each target element before acting so recordings show it.
	Highlight bool `mapstructure:"highlight" yaml:"highlight"`
	// ScreenshotEveryAction adds a screenshot after each successful action.
	ScreenshotEveryAction bool `mapstructure:"screenshot_every_action" yaml:"screenshot_every_action"`

	Delays DelayConfig `mapstructure:"delays" yaml:"delays"`
}

// PollConfig bounds the refresh status poll.
type PollConfig struct {
	RefreshMaxAttempts int           `mapstructure:"refresh_max_attempts" yaml:"refresh_max_attempts"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
}

// NavigationConfig bounds the paginated tab search.
type NavigationConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Settle      time.Duration `mapstructure:"settle" yaml:"settle"`
}

// SupervisorConfig controls worker process management.
type SupervisorConfig struct {
	// Command defaults to the running executable when empty.
	Command        string        `mapstructure:"command" yaml:"command"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	TimeoutMarkers []string      `mapstructure:"timeout_markers" yaml:"timeout_markers"`
	ProcessTimeout time.Duration `mapstructure:"process_timeout" yaml:"process_timeout"`
	// LogOutput tees worker output into <artifacts>/<report>/worker.log.
	LogOutput bool `mapstructure:"log_output" yaml:"log_output"`
}

// ArtifactsConfig locates screenshots, videos and summaries.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// ScenarioDir resolves scenarioIds in execution requests to <dir>/<id>.json.
	ScenarioDir string `mapstructure:"scenario_dir" yaml:"scenario_dir"`
}

// EventsConfig configures status publication to NATS. Empty URL disables it.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// ExternalConfig tunes out-of-band HTTP correlation.
type ExternalConfig struct {
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "flowreplay")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport.width", 1366)
	v.SetDefault("browser.viewport.height", 768)
	v.SetDefault("browser.record_video", true)
	v.SetDefault("browser.video_size.width", 1280)
	v.SetDefault("browser.video_size.height", 720)
	v.SetDefault("browser.default_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.install", false)
	v.SetDefault("browser.frame_interval", "500ms")

	// -- Runner --
	v.SetDefault("runner.scenario_timeout", "5m")
	v.SetDefault("runner.strict_mode", false)
	v.SetDefault("runner.soft_assertions", false)
	v.SetDefault("runner.visible_timeout", "30s")
	v.SetDefault("runner.assertion_timeout", "5s")
	v.SetDefault("runner.retry_interval", "250ms")
	v.SetDefault("runner.highlight", true)
	v.SetDefault("runner.screenshot_every_action", false)
	v.SetDefault("runner.delays.click_settle", "1s")
	v.SetDefault("runner.delays.press_settle", "1s")
	v.SetDefault("runner.delays.combo_box", "3s")
	v.SetDefault("runner.delays.listbox_check", "500ms")
	v.SetDefault("runner.delays.copy_paste", "2s")
	v.SetDefault("runner.delays.tab_out", "2s")
	v.SetDefault("runner.delays.delayed_click", "5s")

	// -- Poll --
	v.SetDefault("poll.refresh_max_attempts", 50)
	v.SetDefault("poll.refresh_interval", "3s")

	// -- Navigation --
	v.SetDefault("navigation.max_attempts", 20)
	v.SetDefault("navigation.settle", "1s")

	// -- Supervisor --
	v.SetDefault("supervisor.command", "")
	v.SetDefault("supervisor.timeout_markers", []string{"Test timeout", "exceeded"})
	v.SetDefault("supervisor.process_timeout", "15m")
	v.SetDefault("supervisor.log_output", true)

	// -- Artifacts --
	v.SetDefault("artifacts.dir", "~/.flowreplay/reports")

	// -- Server --
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.scenario_dir", "")

	// -- Events --
	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "flowreplay.reports")

	// -- External services --
	v.SetDefault("external.rate_limit", 5.0)
	v.SetDefault("external.default_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("database.url", "FLOWREPLAY_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return fmt.Errorf("browser configuration invalid: %w", err)
	}
	if err := c.RunnerCfg.Validate(); err != nil {
		return fmt.Errorf("runner configuration invalid: %w", err)
	}
	if c.PollCfg.RefreshMaxAttempts <= 0 {
		return fmt.Errorf("poll.refresh_max_attempts must be a positive integer")
	}
	if c.PollCfg.RefreshInterval < 0 {
		return fmt.Errorf("poll.refresh_interval must not be negative")
	}
	if c.NavigationCfg.MaxAttempts <= 0 {
		return fmt.Errorf("navigation.max_attempts must be a positive integer")
	}
	if c.SupervisorCfg.ProcessTimeout < 0 {
		return fmt.Errorf("supervisor.process_timeout must not be negative")
	}
	if c.ArtifactsCfg.Dir == "" {
		return fmt.Errorf("artifacts.dir is a required configuration field")
	}
	if c.ExternalCfg.RateLimit <= 0 {
		return fmt.Errorf("external.rate_limit must be positive")
	}
	return nil
}

// Validate checks the browser settings.
func (b *BrowserConfig) Validate() error {
	switch b.Driver {
	case "playwright", "chromedp":
	default:
		return fmt.Errorf("driver must be \"playwright\" or \"chromedp\", got %q", b.Driver)
	}
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must have positive dimensions")
	}
	if b.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the runner settings.
func (r *RunnerConfig) Validate() error {
	if r.ScenarioTimeout <= 0 {
		return fmt.Errorf("scenario_timeout must be a positive duration")
	}
	if r.VisibleTimeout <= 0 {
		return fmt.Errorf("visible_timeout must be a positive duration")
	}
	if r.AssertionTimeout < 0 {
		return fmt.Errorf("assertion_timeout must not be negative")
	}
	return nil
}
