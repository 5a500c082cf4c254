package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/cmd/vaultsync/commands"
	"github.com/systmms/vaultsync/internal/config"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", vserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "vaultsync",
		Short: "Sync an encrypted 2FA vault with a remote record store",
		Long: `vaultsync keeps the local credential store of this device consistent with
a zoned remote record store, migrating legacy vaults and re-encrypting
credentials when the vault password changes.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Required = cmd.Flags().Changed("config")
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewProbeCommand(cfg),
		commands.NewSyncCommand(cfg),
		commands.NewWatchCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewPasswordCommand(cfg),
		commands.NewServiceCommand(cfg),
		commands.NewSectionCommand(cfg),
	)

	return rootCmd.Execute()
}
