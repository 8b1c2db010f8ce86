package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/config"
	"github.com/zulandar/dropline/internal/db"
	"github.com/zulandar/dropline/internal/dispatch"
	"github.com/zulandar/dropline/internal/ledger"
	"github.com/zulandar/dropline/internal/lock"
	"github.com/zulandar/dropline/internal/models"
	"gorm.io/gorm"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and provider access",
		Long:  "Runs diagnostic checks on Dropline prerequisites: config, database, schema, ledger, Twilio credentials, verified numbers, callback URL, speech API and notifications.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Dropline Doctor")
	fmt.Fprintln(out, "===============")

	var results []checkResult

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		results = append(results, checkResult{"Config file", "FAIL", err.Error()})
	} else {
		results = append(results, checkResult{"Config file", "PASS", configPath})
	}

	if cfg != nil {
		gormDB, dbResult := checkDatabase(cfg.Store)
		results = append(results, dbResult)
		if gormDB != nil {
			results = append(results, checkSchema(gormDB), checkLedger(cmd.Context(), gormDB), checkPassLock(gormDB))
			closeDB(gormDB)
		}
		results = append(results, checkTwilio(cmd.Context(), cfg)...)
		results = append(results,
			checkBaseURL(cfg.Server.PublicBaseURL),
			checkSpeech(cfg.Speech),
			checkNotify(cfg.Notify),
		)
	}

	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkDatabase(store config.StoreConfig) (*gorm.DB, checkResult) {
	gormDB, err := db.Connect(store)
	if err != nil {
		return nil, checkResult{"Database", "FAIL", err.Error()}
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, checkResult{"Database", "FAIL", fmt.Sprintf("get sql.DB: %v", err)}
	}
	if err := sqlDB.Ping(); err != nil {
		closeDB(gormDB)
		return nil, checkResult{"Database", "FAIL", fmt.Sprintf("%s ping failed: %v", storeLabel(store), err)}
	}
	return gormDB, checkResult{"Database", "PASS", storeLabel(store)}
}

func checkSchema(gormDB *gorm.DB) checkResult {
	all := db.AllModels()
	present := 0
	for _, m := range all {
		if gormDB.Migrator().HasTable(m) {
			present++
		}
	}
	if present == len(all) {
		return checkResult{"Schema", "PASS", fmt.Sprintf("%d/%d tables migrated", present, len(all))}
	}
	return checkResult{"Schema", "WARN", fmt.Sprintf("%d/%d tables migrated (run dropline db init)", present, len(all))}
}

func checkLedger(ctx context.Context, gormDB *gorm.DB) checkResult {
	if !gormDB.Migrator().HasTable(&models.Contact{}) {
		return checkResult{"Ledger", "WARN", "contacts table missing"}
	}
	contacts, err := ledger.New(gormDB).Load(ctx)
	if err != nil {
		return checkResult{"Ledger", "FAIL", err.Error()}
	}
	if len(contacts) == 0 {
		return checkResult{"Ledger", "WARN", "no contacts (run dropline contacts import)"}
	}
	counts := map[string]int{}
	for _, c := range contacts {
		counts[c.State()]++
	}
	return checkResult{"Ledger", "PASS", fmt.Sprintf("%d contacts: %d pending, %d awaiting transcription, %d transcribed",
		len(contacts), counts[models.StatePending], counts[models.StateRecordingReceived], counts[models.StateTranscribed])}
}

func checkPassLock(gormDB *gorm.DB) checkResult {
	if !gormDB.Migrator().HasTable(&models.PassSession{}) {
		return checkResult{"Pass lock", "WARN", "pass_sessions table missing"}
	}
	s, held, err := lock.Active(gormDB)
	if err != nil {
		return checkResult{"Pass lock", "FAIL", err.Error()}
	}
	if held {
		return checkResult{"Pass lock", "WARN", fmt.Sprintf("%s pass held by %s since %s (last heartbeat %s)",
			s.Kind, s.Holder, s.CreatedAt.Format(time.RFC3339), s.LastHeartbeat.Format(time.RFC3339))}
	}
	return checkResult{"Pass lock", "PASS", "free"}
}

func checkTwilio(ctx context.Context, cfg *config.Config) []checkResult {
	client, err := newProvider(cfg)
	if err != nil {
		return []checkResult{{"Twilio credentials", "FAIL", err.Error()}}
	}
	if client == nil {
		return []checkResult{{"Twilio credentials", "FAIL", "TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required"}}
	}
	results := []checkResult{{"Twilio credentials", "PASS", "caller id " + cfg.Twilio.PhoneNumber}}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	numbers, err := client.ListVerifiedNumbers(ctx)
	if err != nil {
		return append(results, checkResult{"Verified numbers", "WARN", fmt.Sprintf("could not list: %v", err)})
	}
	return append(results, checkResult{"Verified numbers", "PASS", fmt.Sprintf("%d verified", len(numbers))})
}

func checkBaseURL(raw string) checkResult {
	if raw == "" {
		return checkResult{"Public base URL", "WARN", "not set; API callers must send webhook_base_url"}
	}
	base, err := dispatch.NormalizeBaseURL(raw)
	if err != nil {
		return checkResult{"Public base URL", "FAIL", err.Error()}
	}
	return checkResult{"Public base URL", "PASS", base}
}

func checkSpeech(s config.SpeechConfig) checkResult {
	if s.APIKey == "" {
		return checkResult{"Speech API", "WARN", "speech.api_key not set; transcriptions will fail"}
	}
	return checkResult{"Speech API", "PASS", fmt.Sprintf("%s (%s)", s.Endpoint, s.Model)}
}

func checkNotify(n config.NotifyConfig) checkResult {
	if n.Platform == "" {
		return checkResult{"Notifications", "PASS", "disabled"}
	}
	if _, err := newNotifier(n); err != nil {
		return checkResult{"Notifications", "FAIL", err.Error()}
	}
	return checkResult{"Notifications", "PASS", n.Platform}
}
