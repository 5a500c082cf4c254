package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// NewWatchCommand creates the watch command
func NewWatchCommand(cfg *config.Config) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the vault in sync until interrupted",
		Long: `Run a sync cycle at startup, after local edits have settled and on a fixed
interval. The metrics endpoint is served when metrics are enabled.

Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := openSync(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			def := rt.def
			var health healthState
			server := metrics.NewServer(metrics.ServerConfig{
				Enabled:      def.Metrics.Enabled,
				Port:         def.Metrics.Port,
				Path:         def.Metrics.Path,
				ReadTimeout:  metrics.DefaultServerConfig().ReadTimeout,
				WriteTimeout: metrics.DefaultServerConfig().WriteTimeout,
			}, health.check, rt.logger)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = server.Stop(shutdownCtx)
			}()

			rt.bus.Subscribe(reportEvents(rt.logger))
			rt.bus.Start(ctx)

			if err := rt.syncer.Bootstrap(ctx); err != nil {
				return err
			}
			rt.syncer.StartObserver(ctx, rt.bus)
			defer rt.syncer.StopObserver()

			cycle := func() {
				result, err := rt.syncer.RunCycle(ctx)
				switch {
				case errors.Is(err, vserrors.ErrSyncInProgress):
					rt.logger.Debug("cycle skipped, another one is running")
				case err != nil:
					health.set(err)
					rt.logger.Error("Sync failed: %v", vserrors.SimplifyError(err))
				default:
					health.set(nil)
					printResult(cmd.OutOrStdout(), result)
				}
				if err := rt.state.CleanupOldEntries(def.Sync.HistoryRetention); err != nil {
					rt.logger.Warn("Failed to prune sync history: %v", err)
				}
			}

			cycle()
			if once {
				return nil
			}

			rt.logger.Info("Watching for changes, syncing every %s", def.Sync.Interval)
			ticker := time.NewTicker(def.Sync.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Stopping")
					return nil
				case <-ticker.C:
					cycle()
				}
			}
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Run the startup cycle and exit")
	return cmd
}
