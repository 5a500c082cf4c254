package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/systmms/vaultsync/internal/config"
	vserrors "github.com/systmms/vaultsync/internal/errors"
)

// NewPasswordEnv holds the replacement password for 'password change'.
const NewPasswordEnv = "VAULTSYNC_NEW_PASSWORD"

// NewPasswordCommand creates the parent 'password' command
func NewPasswordCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Protect synced credentials with a vault password",
		Long: `Set, change or remove the vault password.

Synced secrets are encrypted with the system key by default. With a vault
password they are encrypted with a key derived from it, and every device
needs the password to read them. Changing the scheme re-encrypts every
credential on the next sync.

Passwords are read from environment variables, never from arguments.`,
		Example: `  # Protect the vault
  VAULTSYNC_PASSWORD=... vaultsync password set

  # Replace the password
  VAULTSYNC_PASSWORD=old VAULTSYNC_NEW_PASSWORD=new vaultsync password change

  # Go back to the system key
  VAULTSYNC_PASSWORD=... vaultsync password remove`,
	}

	cmd.AddCommand(
		newPasswordSetCmd(cfg),
		newPasswordChangeCmd(cfg),
		newPasswordRemoveCmd(cfg),
	)
	return cmd
}

func newPasswordSetCmd(cfg *config.Config) *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Switch to password encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasswordChange(cmd, cfg, noSync, func(ctx context.Context, rt *runtime) error {
				password, err := requireEnv(rt.def.Encryption.PasswordEnv)
				if err != nil {
					return err
				}
				return rt.syncer.SetPassword(ctx, password)
			})
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Only record the change; re-encrypt on the next sync")
	return cmd
}

func newPasswordChangeCmd(cfg *config.Config) *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "change",
		Short: "Replace the vault password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasswordChange(cmd, cfg, noSync, func(ctx context.Context, rt *runtime) error {
				password, err := requireEnv(NewPasswordEnv)
				if err != nil {
					return err
				}
				return rt.syncer.ChangePassword(ctx, password)
			})
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Only record the change; re-encrypt on the next sync")
	return cmd
}

func newPasswordRemoveCmd(cfg *config.Config) *cobra.Command {
	var noSync bool
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Switch back to system key encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPasswordChange(cmd, cfg, noSync, func(ctx context.Context, rt *runtime) error {
				return rt.syncer.RemovePassword(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&noSync, "no-sync", false, "Only record the change; re-encrypt on the next sync")
	return cmd
}

// runPasswordChange applies change and, unless noSync is set, runs a cycle
// so the credentials are re-encrypted while the previous key is still held.
func runPasswordChange(cmd *cobra.Command, cfg *config.Config, noSync bool, change func(context.Context, *runtime) error) error {
	ctx := cmd.Context()
	rt, err := openSync(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := change(ctx, rt); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Vault encryption is now %s\n", rt.enc.Type())
	if noSync {
		return nil
	}

	rt.bus.Subscribe(reportEvents(rt.logger))
	rt.bus.Start(ctx)
	if err := rt.syncer.Bootstrap(ctx); err != nil {
		return err
	}
	result, err := rt.syncer.RunCycle(ctx)
	if err != nil {
		return err
	}
	printResult(out, result)
	return nil
}

func requireEnv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", vserrors.UserError{
			Message:    fmt.Sprintf("%s is not set", name),
			Suggestion: fmt.Sprintf("Export %s with the password to use", name),
		}
	}
	return value, nil
}
