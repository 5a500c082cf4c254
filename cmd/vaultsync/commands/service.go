package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
	"github.com/systmms/vaultsync/pkg/vault"
)

// NewServiceCommand creates the parent 'service' command
func NewServiceCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the credentials in the local vault",
		Long: `List, add and remove services in the local vault. Changes are pushed on
the next sync; removals are remembered until then.`,
	}
	cmd.AddCommand(
		newServiceListCmd(cfg),
		newServiceAddCmd(cfg),
		newServiceRemoveCmd(cfg),
	)
	return cmd
}

func newServiceListCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			services, err := rt.repo.Services(ctx)
			if err != nil {
				return err
			}
			sections, err := rt.repo.Sections(ctx)
			if err != nil {
				return err
			}
			titles := make(map[string]string, len(sections))
			for _, s := range sections {
				titles[s.Value.SectionID] = s.Value.Title
			}

			out := cmd.OutOrStdout()
			if len(services) == 0 {
				_, _ = fmt.Fprintln(out, "No services")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tISSUER\tTYPE\tSECTION\tSYNCED")
			for _, s := range services {
				section := titles[s.Value.SectionID]
				if section == "" {
					section = "-"
				}
				synced := "-"
				if !s.Metadata.IsZero() {
					synced = s.Metadata.Zone.Name
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					s.Value.Name, s.Value.Issuer, s.Value.TokenType, section, synced)
			}
			return w.Flush()
		},
	}
}

func newServiceAddCmd(cfg *config.Config) *cobra.Command {
	var svc vault.Service

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or update a service",
		Example: `  # Add a TOTP credential
  vaultsync service add GitHub --secret JBSWY3DPEHPK3PXP --issuer GitHub`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			svc.Name = args[0]
			if !vault.IsValidSecret(svc.Secret) {
				rt.logger.Warn("The secret of %q cannot be used as a record name and will not sync", svc.Name)
			}
			if err := rt.editor.AddService(ctx, svc); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Saved service %s\n", svc.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&svc.Secret, "secret", "", "Base32 shared secret")
	cmd.Flags().StringVar(&svc.Issuer, "issuer", "", "Issuer")
	cmd.Flags().StringVar(&svc.AdditionalInfo, "info", "", "Additional information, such as the account name")
	cmd.Flags().StringVar(&svc.SectionID, "section", "", "Section identifier")
	cmd.Flags().StringVar(&svc.TokenType, "type", "TOTP", "Token type: TOTP, HOTP or STEAM")
	cmd.Flags().StringVar(&svc.Algorithm, "algorithm", "SHA1", "Hash algorithm")
	cmd.Flags().IntVar(&svc.Digits, "digits", 6, "Token length")
	cmd.Flags().IntVar(&svc.Period, "period", 30, "Token period in seconds")
	cmd.Flags().IntVar(&svc.Counter, "counter", 0, "HOTP counter")
	cmd.Flags().StringVar(&svc.LabelTitle, "label", "", "Short label shown instead of an icon")
	cmd.Flags().StringVar(&svc.LabelColor, "label-color", "", "Label colour")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}

func newServiceRemoveCmd(cfg *config.Config) *cobra.Command {
	var secret string

	cmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a service",
		Long: `Remove a service by name. When several services share a name, pass the
secret of the one to remove with --secret.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openLocal(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			if secret == "" {
				services, err := rt.repo.Services(ctx)
				if err != nil {
					return err
				}
				var matches []string
				for _, s := range services {
					if s.Value.Name == args[0] {
						matches = append(matches, s.Value.Secret)
					}
				}
				switch len(matches) {
				case 0:
					return fmt.Errorf("service %q not found", args[0])
				case 1:
					secret = matches[0]
				default:
					return fmt.Errorf("%d services are named %q, select one with --secret", len(matches), args[0])
				}
			}

			if err := rt.editor.RemoveService(ctx, secret); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed service %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Secret of the service to remove")
	return cmd
}
