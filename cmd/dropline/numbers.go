package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/dropline/internal/provider"
)

func newNumbersCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "numbers",
		Short: "List caller ids verified on the Twilio account",
		Long: `Lists the numbers a trial account is allowed to call. Calls to any other
number are rejected; verify them at ` + provider.VerifyURL,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNumbers(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runNumbers(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}
	client, err := newProvider(cfg)
	if err != nil {
		return err
	}
	if client == nil {
		return fmt.Errorf("twilio credentials are not configured (TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER)")
	}

	numbers, err := client.ListVerifiedNumbers(cmd.Context())
	if err != nil {
		return err
	}
	if len(numbers) == 0 {
		fmt.Fprintln(out, "No verified numbers.")
		return nil
	}
	for _, n := range numbers {
		fmt.Fprintln(out, n)
	}
	fmt.Fprintf(out, "\n%d verified numbers\n", len(numbers))
	return nil
}
