package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/server"
	"github.com/zulandar/dropline/internal/webhook"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and telephony callbacks",
		Long: `Starts the HTTP server for the operator API and the voice/recording
callbacks, the transcription workers, and scheduled retries when
retry.schedule is set. An empty ledger is seeded from the input dataset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, gormDB)
	if err != nil {
		return err
	}
	defer a.close()
	if port > 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedLedger(ctx, a, cfg.Store.InputCSV); err != nil {
		return err
	}

	machine, pool := a.newMachine()
	pool.Start()
	defer pool.Stop(webhook.DrainTimeout)
	go machine.RunRecovery(ctx, time.Duration(cfg.Pipeline.RecoverIntervalSec)*time.Second)

	if cfg.Retry.Schedule != "" {
		if cfg.Server.PublicBaseURL == "" {
			log.Printf("dropline: retry.schedule is set but server.public_base_url is empty; scheduled retries disabled")
		} else {
			go func() {
				if err := a.campaign.RunSchedule(ctx, cfg.Retry.Schedule, cfg.Server.PublicBaseURL); err != nil {
					log.Printf("dropline: %v", err)
				}
			}()
		}
	}
	if a.provider == nil {
		fmt.Fprintln(out, "Warning: Twilio credentials are not configured; calls cannot be placed.")
	}

	var gatherer prometheus.Gatherer
	if a.registry != nil {
		gatherer = a.registry
	}
	return server.Start(ctx, server.StartOpts{
		Campaign:        a.campaign,
		Machine:         machine,
		Provider:        a.provider,
		Port:            cfg.Server.Port,
		PublicBaseURL:   cfg.Server.PublicBaseURL,
		InputCSV:        cfg.Store.InputCSV,
		OutputCSV:       cfg.Store.OutputCSV,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSec) * time.Second,
		Gatherer:        gatherer,
		MetricsPath:     cfg.Metrics.Path,
		Out:             out,
	})
}

// seedLedger imports the input dataset when the ledger is empty.
func seedLedger(ctx context.Context, a *app, inputCSV string) error {
	contacts, err := a.ledger.Load(ctx)
	if err != nil {
		return err
	}
	if len(contacts) > 0 || inputCSV == "" {
		return nil
	}
	if _, err := os.Stat(inputCSV); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	imported, err := ledger.ReadFile(inputCSV)
	if err != nil {
		return err
	}
	if err := a.campaign.ReplaceContacts(ctx, imported); err != nil {
		return err
	}
	log.Printf("dropline: seeded ledger with %d contacts from %s", len(imported), inputCSV)
	return nil
}
