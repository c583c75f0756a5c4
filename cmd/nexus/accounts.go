package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pysugar/account-nexus/internal/account"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import accounts from a JSON export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var inputs []account.ImportInput
		if err := json.Unmarshal(data, &inputs); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		app, store, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rep := app.Registry.Import(inputs)
		if err := app.SaveNow(cmd.Context()); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "imported %d, duplicates %d, failed %d\n", len(rep.Imported), len(rep.Duplicates), len(rep.Failed))
		for _, email := range rep.Duplicates {
			fmt.Fprintf(out, "  duplicate: %s\n", email)
		}
		for _, f := range rep.Failed {
			fmt.Fprintf(out, "  failed #%d %s: %s\n", f.Index, f.Email, f.Error)
		}
		return nil
	},
}

var accountsCmd = &cobra.Command{
	Use:     "accounts",
	Short:   "Inspect managed accounts",
	Aliases: []string{"account"},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts with status and remaining quota",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, store, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ACTIVE\tEMAIL\tPLAN\tSTATUS\tREMAINING\tEXPIRES")
		for _, a := range app.Registry.List() {
			active := ""
			if a.IsActive {
				active = "*"
			}
			status := string(a.Status)
			if a.ErrorCategory != account.CategoryNone {
				status += " (" + string(a.ErrorCategory) + ")"
			}
			expires := "-"
			if exp := a.ExpiresAt(); !exp.IsZero() {
				expires = exp.Local().Format("2006-01-02 15:04")
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f/%.1f\t%s\n", active, a.DisplayName(), a.Subscription.Plan, status, a.Remaining(), a.Usage.Limit, expires)
		}
		return tw.Flush()
	},
}

func init() {
	accountsCmd.AddCommand(accountsListCmd)
}
