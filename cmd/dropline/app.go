package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/campaign"
	"github.com/zulandar/dropline/internal/config"
	"github.com/zulandar/dropline/internal/db"
	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/metrics"
	"github.com/zulandar/dropline/internal/notify"
	"github.com/zulandar/dropline/internal/notify/discord"
	"github.com/zulandar/dropline/internal/notify/slack"
	"github.com/zulandar/dropline/internal/provider"
	"github.com/zulandar/dropline/internal/transcribe"
	"github.com/zulandar/dropline/internal/webhook"
	"gorm.io/gorm"
)

// loadConfig reads the config at path. When the flag was left at its
// default and the file does not exist, defaults plus environment apply.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	explicit := cmd.Flags().Changed("config")
	if !explicit && path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// connectFromConfig loads the config and opens a migrated database.
func connectFromConfig(cmd *cobra.Command, configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// newProvider returns the Twilio client, or nil when credentials are not
// configured. Passes then fail with a configuration error.
func newProvider(cfg *config.Config) (provider.Client, error) {
	if !cfg.Twilio.HasCredentials() {
		return nil, nil
	}
	tw, err := provider.NewTwilio(provider.TwilioOpts{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		From:       cfg.Twilio.PhoneNumber,
	})
	if err != nil {
		return nil, err
	}
	return tw, nil
}

func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	switch cfg.Platform {
	case "slack":
		return slack.New(slack.Opts{BotToken: cfg.Slack.BotToken, ChannelID: cfg.Slack.ChannelID})
	case "discord":
		return discord.New(discord.Opts{BotToken: cfg.Discord.BotToken, ChannelID: cfg.Discord.ChannelID})
	default:
		return notify.Noop{}, nil
	}
}

// app is the wired service graph shared by serve, dispatch and retry.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	ledger   *ledger.Store
	provider provider.Client
	campaign *campaign.Service
	sink     metrics.Sink
	registry *prometheus.Registry // nil when metrics are disabled
}

func newApp(cfg *config.Config, gormDB *gorm.DB) (*app, error) {
	a := &app{cfg: cfg, db: gormDB, ledger: ledger.New(gormDB)}

	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.sink = metrics.NewPrometheusSink(a.registry)
	} else {
		a.sink = metrics.NewNoopSink()
	}

	client, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	a.provider = client

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return nil, err
	}

	d := dispatch.New(client, cfg.Pacing()).
		WithAttempts(dispatch.NewAttemptLog(gormDB)).
		WithMetrics(a.sink)
	a.campaign = campaign.New(gormDB, a.ledger, d, campaign.Options{
		LockTimeout:       time.Duration(cfg.Dispatch.LockTimeoutSec) * time.Second,
		HeartbeatInterval: time.Duration(cfg.Dispatch.HeartbeatIntervalSec) * time.Second,
	}).WithNotifier(notifier).WithMetrics(a.sink)
	return a, nil
}

// newMachine builds the callback state machine and its transcription pool.
// The caller starts and stops the pool.
func (a *app) newMachine() (*webhook.Machine, *webhook.Pool) {
	cfg := a.cfg
	if cfg.Speech.APIKey == "" {
		log.Printf("dropline: warning: speech.api_key is not set; recordings will be marked %s", ledger.SpeechRecognitionFailed)
	}
	if cfg.Pipeline.AudioDir != "" {
		if err := os.MkdirAll(cfg.Pipeline.AudioDir, 0o755); err != nil {
			log.Printf("dropline: audio dir %s: %v", cfg.Pipeline.AudioDir, err)
		}
	}

	pipeline := transcribe.New(
		&transcribe.HTTPDownloader{
			Username: cfg.Twilio.AccountSID,
			Password: cfg.Twilio.AuthToken,
			Timeout:  time.Duration(cfg.Pipeline.DownloadTimeoutSec) * time.Second,
		},
		&transcribe.HTTPRecognizer{
			Endpoint: cfg.Speech.Endpoint,
			APIKey:   cfg.Speech.APIKey,
			Model:    cfg.Speech.Model,
			Language: cfg.Speech.Language,
			Timeout:  time.Duration(cfg.Speech.TimeoutSec) * time.Second,
		},
		transcribe.Options{
			GracePeriod: cfg.GracePeriod(),
			Formats:     cfg.Pipeline.Formats,
			AudioDir:    cfg.Pipeline.AudioDir,
		},
	)

	machine := webhook.NewMachine(a.ledger, pipeline, provider.ScriptOpts{
		Company:         cfg.Twilio.Company,
		Voice:           cfg.Twilio.Voice,
		RecordMaxLength: cfg.Twilio.RecordMaxLength,
	}).WithMetrics(a.sink)

	output := cfg.Store.OutputCSV
	if output != "" {
		machine.WithMirror(func(ctx context.Context) error {
			return a.ledger.ExportCSV(ctx, output)
		})
	}

	pool := machine.NewPoolFor(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize).
		WithEnqueueTimeout(time.Duration(cfg.Pipeline.EnqueueTimeoutSec) * time.Second).
		WithMetrics(a.sink)
	return machine, pool
}

func (a *app) close() { closeDB(a.db) }

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		sqlDB.Close()
	}
}
