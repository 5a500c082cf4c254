package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
	vsync "github.com/systmms/vaultsync/internal/sync"
)

// NewSyncCommand creates the sync command
func NewSyncCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle",
		Long: `Determine the vault generation, then pull remote changes and push local
ones. A legacy vault is migrated within the same cycle.`,
		Example: `  # Sync once
  vaultsync sync

  # Sync with a specific config
  vaultsync sync --config /etc/vaultsync.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openSync(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.bus.Subscribe(reportEvents(rt.logger))
			rt.bus.Start(ctx)

			if err := rt.syncer.Bootstrap(ctx); err != nil {
				return err
			}
			result, err := rt.syncer.RunCycle(ctx)
			if err != nil {
				return err
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printResult(w io.Writer, r vsync.Result) {
	_, _ = fmt.Fprintf(w, "Synced zone %s: %d pushed, %d pulled, %d deleted", r.Zone.Name, r.Pushed, r.Pulled, r.Deleted)
	if r.Passes > 1 {
		_, _ = fmt.Fprintf(w, " (%d passes)", r.Passes)
	}
	if r.Rotated {
		_, _ = fmt.Fprint(w, ", credentials re-encrypted")
	}
	_, _ = fmt.Fprintln(w)
}
