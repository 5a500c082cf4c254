package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/internal/state"
	"gopkg.in/yaml.v3"
)

// statusReport is the machine readable form of the status command.
type statusReport struct {
	MigratedToV3     bool                 `json:"migrated_to_v3" yaml:"migrated_to_v3"`
	RotationRequired bool                 `json:"rotation_required" yaml:"rotation_required"`
	Encryption       string               `json:"encryption" yaml:"encryption"`
	UpdatedAt        time.Time            `json:"updated_at" yaml:"updated_at"`
	Sections         int                  `json:"sections" yaml:"sections"`
	Services         int                  `json:"services" yaml:"services"`
	PendingDeletions int                  `json:"pending_deletions" yaml:"pending_deletions"`
	History          []state.HistoryEntry `json:"history" yaml:"history"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var (
		format string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local sync state and recent cycles",
		Long: `Display the persisted sync flags, the size of the local vault and the
most recent sync cycles. The remote store is not contacted.`,
		Example: `  # Show status
  vaultsync status

  # Show the last 20 cycles as JSON
  vaultsync status --limit 20 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			snap := rt.state.Snapshot()
			report := statusReport{
				MigratedToV3:     snap.MigratedToV3,
				RotationRequired: snap.RotationRequired,
				Encryption:       string(snap.Encryption),
				UpdatedAt:        snap.UpdatedAt,
			}
			sections, err := rt.repo.Sections(ctx)
			if err != nil {
				return err
			}
			services, err := rt.repo.Services(ctx)
			if err != nil {
				return err
			}
			pending, err := rt.repo.PendingDeletions(ctx)
			if err != nil {
				return err
			}
			report.Sections = len(sections)
			report.Services = len(services)
			report.PendingDeletions = len(pending)

			report.History, err = rt.state.History(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			case "yaml":
				enc := yaml.NewEncoder(out)
				defer func() { _ = enc.Close() }()
				return enc.Encode(report)
			case "table":
				return printStatusTable(out, report, time.Now())
			default:
				return fmt.Errorf("unknown format %q, use table, json or yaml", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of recent cycles to show")
	return cmd
}

func printStatusTable(out io.Writer, r statusReport, now time.Time) error {
	encryption := r.Encryption
	if encryption == "" {
		encryption = "system"
	}
	_, _ = fmt.Fprintf(out, "Encryption:         %s\n", encryption)
	_, _ = fmt.Fprintf(out, "Migrated to v3:     %t\n", r.MigratedToV3)
	_, _ = fmt.Fprintf(out, "Rotation required:  %t\n", r.RotationRequired)
	_, _ = fmt.Fprintf(out, "Sections:           %d\n", r.Sections)
	_, _ = fmt.Fprintf(out, "Services:           %d\n", r.Services)
	_, _ = fmt.Fprintf(out, "Pending deletions:  %d\n", r.PendingDeletions)
	_, _ = fmt.Fprintln(out)

	if len(r.History) == 0 {
		_, _ = fmt.Fprintln(out, "No sync cycles recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "WHEN\tZONE\tRESULT\tPASSES\tPUSHED\tPULLED\tDELETED\tDURATION")
	for _, h := range r.History {
		result := h.Result
		if h.Rotated {
			result += " (rotated)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			formatTimestamp(h.Timestamp, now), h.Zone, result,
			h.Passes, h.Pushed, h.Pulled, h.Deleted, h.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}
