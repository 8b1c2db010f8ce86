// Package config provides YAML-based configuration loading for Dropline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Dropline configuration, loaded from dropline.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	Speech   SpeechConfig   `yaml:"speech"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Retry    RetryConfig    `yaml:"retry"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicBaseURL, when set, overrides any callback base URL supplied by
	// API callers.
	PublicBaseURL      string `yaml:"public_base_url"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec"`
}

// StoreConfig selects the database backing the ledger and the CSV files
// exchanged with operators.
type StoreConfig struct {
	Driver    string `yaml:"driver"` // "sqlite" or "mysql"
	Path      string `yaml:"path"`   // sqlite file
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Database  string `yaml:"database"`
	User      string `yaml:"user"`
	InputCSV  string `yaml:"input_csv"`
	OutputCSV string `yaml:"output_csv"`
}

// TwilioConfig holds telephony credentials and call script options.
type TwilioConfig struct {
	AccountSID      string `yaml:"account_sid"`
	AuthToken       string `yaml:"auth_token"`
	PhoneNumber     string `yaml:"phone_number"`
	Voice           string `yaml:"voice"`
	Company         string `yaml:"company"`
	RecordMaxLength int    `yaml:"record_max_length"`
}

// HasCredentials reports whether every value needed to place a call is set.
func (t TwilioConfig) HasCredentials() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.PhoneNumber != ""
}

// SpeechConfig points at an OpenAI-compatible speech-to-text endpoint.
type SpeechConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Language   string `yaml:"language"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// PipelineConfig tunes recording download and the transcription workers.
type PipelineConfig struct {
	GracePeriodSec     int      `yaml:"grace_period_sec"` // -1 disables the wait
	Formats            []string `yaml:"formats"`
	DownloadTimeoutSec int      `yaml:"download_timeout_sec"`
	AudioDir           string   `yaml:"audio_dir"`
	Workers            int      `yaml:"workers"`
	QueueSize          int      `yaml:"queue_size"`
	EnqueueTimeoutSec  int      `yaml:"enqueue_timeout_sec"`
	RecoverIntervalSec int      `yaml:"recover_interval_sec"`
}

// DispatchConfig controls call pacing and the pass lock.
type DispatchConfig struct {
	PacingMs             int `yaml:"pacing_ms"` // -1 places calls back to back
	LockTimeoutSec       int `yaml:"lock_timeout_sec"`
	HeartbeatIntervalSec int `yaml:"heartbeat_interval_sec"`
}

// RetryConfig configures scheduled retry passes.
type RetryConfig struct {
	Schedule string `yaml:"schedule"` // 5-field cron expression; empty disables
}

// NotifyConfig selects where pass summaries are posted.
type NotifyConfig struct {
	Platform string              `yaml:"platform"` // "", "slack", "discord"
	Slack    SlackNotifyConfig   `yaml:"slack"`
	Discord  DiscordNotifyConfig `yaml:"discord"`
}

// SlackNotifyConfig holds Slack bot settings.
type SlackNotifyConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// DiscordNotifyConfig holds Discord bot settings.
type DiscordNotifyConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultFormats is the recording suffix order tried by the pipeline.
var DefaultFormats = []string{".wav", ".mp3", ""}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
// An empty path yields the defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config, applying environment
// overrides from the process environment.
func Parse(data []byte) (*Config, error) {
	return parse(data, os.Getenv)
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnvOverrides(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments supply secrets and paths
// without editing the file.
func (c *Config) applyEnvOverrides(getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID},
		{"TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken},
		{"TWILIO_PHONE_NUMBER", &c.Twilio.PhoneNumber},
		{"PUBLIC_BASE_URL", &c.Server.PublicBaseURL},
		{"INPUT_CSV", &c.Store.InputCSV},
		{"OUTPUT_CSV", &c.Store.OutputCSV},
		{"DROPLINE_DB_PATH", &c.Store.Path},
		{"SPEECH_API_KEY", &c.Speech.APIKey},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ShutdownTimeoutSec == 0 {
		c.Server.ShutdownTimeoutSec = 10
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "dropline.db"
	}
	if c.Store.Driver == "mysql" {
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.User == "" {
			c.Store.User = "root"
		}
		if c.Store.Database == "" {
			c.Store.Database = "dropline"
		}
	}
	if c.Store.InputCSV == "" {
		c.Store.InputCSV = "input.csv"
	}
	if c.Store.OutputCSV == "" {
		c.Store.OutputCSV = "output.csv"
	}
	if c.Twilio.Voice == "" {
		c.Twilio.Voice = "alice"
	}
	if c.Twilio.Company == "" {
		c.Twilio.Company = "Predelix"
	}
	if c.Twilio.RecordMaxLength == 0 {
		c.Twilio.RecordMaxLength = 30
	}
	if c.Speech.Endpoint == "" {
		c.Speech.Endpoint = "https://api.openai.com/v1/audio/transcriptions"
	}
	if c.Speech.Model == "" {
		c.Speech.Model = "whisper-1"
	}
	if c.Speech.TimeoutSec == 0 {
		c.Speech.TimeoutSec = 60
	}
	if c.Pipeline.GracePeriodSec == 0 {
		c.Pipeline.GracePeriodSec = 7
	}
	if len(c.Pipeline.Formats) == 0 {
		c.Pipeline.Formats = append([]string(nil), DefaultFormats...)
	}
	if c.Pipeline.DownloadTimeoutSec == 0 {
		c.Pipeline.DownloadTimeoutSec = 30
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueSize == 0 {
		c.Pipeline.QueueSize = 64
	}
	if c.Pipeline.EnqueueTimeoutSec == 0 {
		c.Pipeline.EnqueueTimeoutSec = 5
	}
	if c.Pipeline.RecoverIntervalSec == 0 {
		c.Pipeline.RecoverIntervalSec = 300
	}
	if c.Dispatch.PacingMs == 0 {
		c.Dispatch.PacingMs = 2000
	}
	if c.Dispatch.LockTimeoutSec == 0 {
		c.Dispatch.LockTimeoutSec = 90
	}
	if c.Dispatch.HeartbeatIntervalSec == 0 {
		c.Dispatch.HeartbeatIntervalSec = 30
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Store.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or mysql", c.Store.Driver))
	}
	if c.Pipeline.Workers < 0 {
		errs = append(errs, "pipeline.workers must be positive")
	}
	if c.Pipeline.QueueSize < 0 {
		errs = append(errs, "pipeline.queue_size must be positive")
	}
	if c.Pipeline.GracePeriodSec < Disabled {
		errs = append(errs, "pipeline.grace_period_sec must be -1 (disabled) or positive")
	}
	if c.Dispatch.PacingMs < Disabled {
		errs = append(errs, "dispatch.pacing_ms must be -1 (disabled) or positive")
	}
	if c.Retry.Schedule != "" {
		if _, err := cronParser.Parse(c.Retry.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("retry.schedule %q: %v", c.Retry.Schedule, err))
		}
	}
	switch c.Notify.Platform {
	case "":
	case "slack":
		if c.Notify.Slack.BotToken == "" || c.Notify.Slack.ChannelID == "" {
			errs = append(errs, "notify.slack.bot_token and notify.slack.channel_id are required")
		}
	case "discord":
		if c.Notify.Discord.BotToken == "" || c.Notify.Discord.ChannelID == "" {
			errs = append(errs, "notify.discord.bot_token and notify.discord.channel_id are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q must be slack or discord", c.Notify.Platform))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Disabled turns off a wait whose zero value means "use the default".
const Disabled = -1

// GracePeriod returns the pipeline's wait before the first download, zero
// when grace_period_sec is Disabled.
func (c *Config) GracePeriod() time.Duration {
	if c.Pipeline.GracePeriodSec <= 0 {
		return 0
	}
	return time.Duration(c.Pipeline.GracePeriodSec) * time.Second
}

// Pacing returns the fixed delay between call placements, zero when
// pacing_ms is Disabled.
func (c *Config) Pacing() time.Duration {
	if c.Dispatch.PacingMs <= 0 {
		return 0
	}
	return time.Duration(c.Dispatch.PacingMs) * time.Millisecond
}
