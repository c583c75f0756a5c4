package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Show, change or restore the machine identity",
}

var identityShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current and original identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, store, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		current, err := app.Identity.RefreshCurrent(cmd.Context())
		if err != nil {
			return err
		}
		s := app.Identity.State()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "current:  %s\n", current)
		fmt.Fprintf(out, "original: %s\n", s.OriginalID)
		fmt.Fprintf(out, "bindings: %d, history entries: %d\n", len(s.Bindings), len(s.History))
		return app.SaveNow(cmd.Context())
	},
}

var identityChangeCmd = &cobra.Command{
	Use:   "change [id]",
	Short: "Apply the given identity, or a freshly generated one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, store, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		newID := ""
		if len(args) == 1 {
			newID = args[0]
		}
		id, err := app.Identity.Change(cmd.Context(), newID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return app.SaveNow(cmd.Context())
	},
}

var identityRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Write the backed-up original identity back",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, store, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := app.Identity.Restore(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return app.SaveNow(cmd.Context())
	},
}

func init() {
	identityCmd.AddCommand(identityShowCmd, identityChangeCmd, identityRestoreCmd)
}
