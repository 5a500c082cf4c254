package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
)

// NewSectionCommand creates the parent 'section' command
func NewSectionCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "section",
		Short: "Manage the sections services are grouped in",
	}
	cmd.AddCommand(
		newSectionListCmd(cfg),
		newSectionAddCmd(cfg),
		newSectionRemoveCmd(cfg),
	)
	return cmd
}

func newSectionListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			sections, err := rt.repo.Sections(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sections) == 0 {
				_, _ = fmt.Fprintln(out, "No sections")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tTITLE\tORDER")
			for _, s := range sections {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", s.Value.SectionID, s.Value.Title, s.Value.Order)
			}
			return w.Flush()
		},
	}
}

func newSectionAddCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "add <title>",
		Short: "Add a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			sec, err := rt.editor.AddSection(ctx, args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added section %s (%s)\n", sec.Title, sec.SectionID)
			return nil
		},
	}
}

func newSectionRemoveCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a section; its services become unsectioned",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.editor.RemoveSection(ctx, args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed section %s\n", args[0])
			return nil
		},
	}
}
