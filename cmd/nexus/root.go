package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pysugar/account-nexus/internal/config"
	"github.com/pysugar/account-nexus/internal/db"
	"github.com/pysugar/account-nexus/internal/logging"
	"github.com/pysugar/account-nexus/internal/nexus"
	"github.com/pysugar/account-nexus/internal/version"
)

var (
	cfgFile  string
	logLevel string
	cfg      config.Config
)

var rootCmd = &cobra.Command{
	Use:           "nexus",
	Short:         "nexus manages a pool of service accounts",
	Long:          `Keeps account credentials fresh, fails over between accounts by remaining quota and keeps the machine identity consistent with the active account.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logging.Setup(cfg.Log.Level, cfg.Log.Pretty)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nexus %s (commit %s, built %s)\n", version.Version, version.Commit, version.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the user config dir's account-nexus/nexus.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the log level")
	rootCmd.AddCommand(versionCmd, serveCmd, importCmd, accountsCmd, identityCmd)
}

// openApp opens the database and loads the last snapshot without starting
// any loop.
func openApp(ctx context.Context) (*nexus.App, *db.Store, error) {
	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	app, err := nexus.New(cfg, nexus.Options{Store: store})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	if err := app.Load(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return app, store, nil
}
