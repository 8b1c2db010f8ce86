package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/config"
	"github.com/zulandar/dropline/internal/db"
	"golang.org/x/term"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Dropline database",
		Long:  "Creates the database (MySQL only) and migrates all tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == "mysql" {
		if err := createMySQLDatabase(cfg.Store); err != nil {
			return err
		}
		fmt.Fprintf(out, "Database %s ready on %s:%d\n", cfg.Store.Database, cfg.Store.Host, cfg.Store.Port)
	}

	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), storeLabel(cfg.Store))

	fmt.Fprintln(out, "\nDropline database initialized successfully.")
	return nil
}

func newDBResetCmd() *cobra.Command {
	var (
		configPath string
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-create every Dropline table",
		Long: `Deletes the ledger, the missed-call list, the call attempt log and pass
sessions, then re-creates the empty tables. On MySQL the whole database is
dropped and re-created.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, configPath, yes)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBReset(cmd *cobra.Command, configPath string, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	if !skipConfirm {
		if !stdinIsTerminal(cmd) {
			return fmt.Errorf("refusing to reset %s without a terminal; pass --yes", storeLabel(cfg.Store))
		}
		if !confirmReset(cmd, storeLabel(cfg.Store)) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if cfg.Store.Driver == "mysql" {
		admin, err := db.ConnectAdmin(cfg.Store.User, cfg.Store.Host, cfg.Store.Port)
		if err != nil {
			return err
		}
		defer closeDB(admin)
		if err := db.DropDatabase(admin, cfg.Store.Database); err != nil {
			return err
		}
		fmt.Fprintf(out, "Dropped database %s\n", cfg.Store.Database)
		if err := db.CreateDatabase(admin, cfg.Store.Database); err != nil {
			return err
		}
	}

	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	if err := db.Reset(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Re-created %d tables (%s)\n", len(db.AllModels()), storeLabel(cfg.Store))

	fmt.Fprintln(out, "\nDropline database reset successfully.")
	return nil
}

func createMySQLDatabase(store config.StoreConfig) error {
	admin, err := db.ConnectAdmin(store.User, store.Host, store.Port)
	if err != nil {
		return err
	}
	defer closeDB(admin)
	return db.CreateDatabase(admin, store.Database)
}

func storeLabel(store config.StoreConfig) string {
	if store.Driver == "mysql" {
		return fmt.Sprintf("mysql %s:%d/%s", store.Host, store.Port, store.Database)
	}
	return "sqlite " + store.Path
}

// stdinIsTerminal reports whether the command reads from an interactive
// terminal. Input replaced with SetIn (tests, pipes) is never a terminal.
func stdinIsTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.InOrStdin().(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func confirmReset(cmd *cobra.Command, target string) bool {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "WARNING: This will permanently delete all Dropline data in %s.\n", target)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
