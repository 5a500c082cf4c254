package sync

import (
	"context"
	"fmt"

	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/pkg/vault"
)

// SetPassword switches to user encryption. The next cycle re-encrypts every
// service under the password-derived key.
func (s *Syncer) SetPassword(ctx context.Context, password string) error {
	if s.enc.Type() == vault.EncryptionUser {
		return vserrors.UserError{
			Message:    "A vault password is already set",
			Suggestion: "Use 'vaultsync password change' to replace it",
		}
	}
	return s.switchKey(ctx, vault.EncryptionUser, func() error {
		return s.enc.SetPassword(password)
	})
}

// ChangePassword replaces the user key. Records under the previous key stay
// readable until the rotation finished.
func (s *Syncer) ChangePassword(ctx context.Context, password string) error {
	if s.enc.Type() != vault.EncryptionUser {
		return errNoPassword
	}
	return s.switchKey(ctx, vault.EncryptionUser, func() error {
		return s.enc.SetPassword(password)
	})
}

// RemovePassword switches back to system encryption.
func (s *Syncer) RemovePassword(ctx context.Context) error {
	if s.enc.Type() != vault.EncryptionUser {
		return errNoPassword
	}
	return s.switchKey(ctx, vault.EncryptionSystem, func() error {
		s.enc.RemovePassword()
		return nil
	})
}

var errNoPassword = vserrors.UserError{
	Message:    "No vault password is set",
	Suggestion: "Use 'vaultsync password set' first",
}

// switchKey applies a key change between cycles and persists the rotation
// latch before anything is re-encrypted.
func (s *Syncer) switchKey(_ context.Context, scheme vault.EncryptionType, apply func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := apply(); err != nil {
		return fmt.Errorf("failed to switch encryption key: %w", err)
	}
	if err := s.state.SetEncryption(scheme); err != nil {
		return fmt.Errorf("failed to persist encryption scheme: %w", err)
	}
	if err := s.state.SetRotationRequired(true); err != nil {
		return fmt.Errorf("failed to persist rotation flag: %w", err)
	}
	s.rotation.Request()
	s.logger.Info("Encryption switched to %s, re-encrypting on next sync", scheme)
	return nil
}
