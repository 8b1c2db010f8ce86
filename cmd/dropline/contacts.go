package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/ledger"
)

func newContactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Contact ledger commands",
	}

	cmd.AddCommand(newContactsImportCmd())
	cmd.AddCommand(newContactsExportCmd())
	cmd.AddCommand(newContactsListCmd())
	return cmd
}

func newContactsImportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the ledger with a CSV dataset",
		Long: `Reads a CSV dataset with at least the name and mobile_number columns and
replaces the ledger with it. Defaults to store.input_csv.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runContactsImport(cmd, configPath, path)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runContactsImport(cmd *cobra.Command, configPath, path string) error {
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

	if path == "" {
		path = cfg.Store.InputCSV
	}
	contacts, err := ledger.ReadFile(path)
	if err != nil {
		return err
	}
	if err := a.campaign.ReplaceContacts(cmd.Context(), contacts); err != nil {
		return err
	}
	fmt.Fprintf(out, "Imported %d contacts from %s\n", len(contacts), path)

	if cfg.Store.OutputCSV != "" {
		if err := a.ledger.ExportCSV(cmd.Context(), cfg.Store.OutputCSV); err != nil {
			return err
		}
		fmt.Fprintf(out, "Output dataset written to %s\n", cfg.Store.OutputCSV)
	}
	return nil
}

func newContactsExportCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the ledger to a CSV dataset",
		Long:  "Writes every contact with its response and transcription. Defaults to store.output_csv.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runContactsExport(cmd, configPath, path)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runContactsExport(cmd *cobra.Command, configPath, path string) error {
	cfg, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	if path == "" {
		path = cfg.Store.OutputCSV
	}
	if err := ledger.New(gormDB).ExportCSV(cmd.Context(), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Ledger exported to %s\n", path)
	return nil
}

func newContactsListCmd() *cobra.Command {
	var (
		configPath string
		state      string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contacts and their call state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runContactsList(cmd, configPath, state)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&state, "state", "", "filter by state (pending, recording_received, transcribed)")
	return cmd
}

func runContactsList(cmd *cobra.Command, configPath, state string) error {
	out := cmd.OutOrStdout()
	_, gormDB, err := connectFromConfig(cmd, configPath)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)

	contacts, err := ledger.New(gormDB).Load(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROW\tNAME\tMOBILE\tSTATE\tTRANSCRIPTION")
	shown := 0
	for _, c := range contacts {
		if state != "" && c.State() != state {
			continue
		}
		text := c.Transcription
		if text == "" {
			text = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.Index, c.Name, c.MobileNumber, c.State(), truncate(text, 50))
		shown++
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d of %d contacts\n", shown, len(contacts))
	return nil
}
