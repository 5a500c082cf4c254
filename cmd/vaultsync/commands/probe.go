package commands

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
)

// NewProbeCommand creates the probe command
func NewProbeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Show which vault generations exist remotely",
		Long: `Query the Info record of every zone and print the vault generation found
in each. Nothing is written locally or remotely.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openSync(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			result, err := rt.syncer.Probe(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if result.Empty() {
				_, _ = fmt.Fprintln(out, "No vault found remotely")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "ZONE\tGENERATION\tLEGACY")
			names := make([]string, 0, len(result.Zones))
			gens := make(map[string]string, len(result.Zones))
			legacy := make(map[string]bool, len(result.Zones))
			for zone, gen := range result.Zones {
				names = append(names, zone.Name)
				gens[zone.Name] = gen.String()
				legacy[zone.Name] = gen.IsLegacy()
			}
			sort.Strings(names)
			for _, name := range names {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%t\n", name, gens[name], legacy[name])
			}
			return w.Flush()
		},
	}
}
