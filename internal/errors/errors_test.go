package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
)

func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Details: Connection timeout")
	assert.Contains(t, errMsg, "Try: Check network connectivity")
}

func TestUserError_FallsBackToWrapped(t *testing.T) {
	t.Parallel()

	inner := fmt.Errorf("socket closed")
	err := errors.UserError{Err: inner}

	assert.Equal(t, "socket closed", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "remote.type",
		Value:      "ftp",
		Message:    "unsupported remote store",
		Suggestion: "Use memory or s3",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "remote.type")
	assert.Contains(t, errMsg, "ftp")
	assert.Contains(t, errMsg, "unsupported remote store")
	assert.Contains(t, errMsg, "Use memory or s3")
}

func TestCommitError_WrapsConflict(t *testing.T) {
	t.Parallel()

	err := error(errors.CommitError{
		Zone:      "Vault2",
		Conflicts: []string{"Vault2/ServiceRecord3/ABC"},
		Err:       errors.ErrConflict,
	})

	assert.ErrorIs(t, err, errors.ErrConflict)
	assert.Contains(t, err.Error(), "1 conflicting")
	assert.Contains(t, err.Error(), "Vault2")

	var commitErr errors.CommitError
	require.True(t, stderrors.As(fmt.Errorf("cycle: %w", err), &commitErr))
	assert.Equal(t, "Vault2", commitErr.Zone)
}

func TestValidationError_DoesNotLeakSecret(t *testing.T) {
	t.Parallel()

	err := errors.ValidationError{DisplayName: "GitHub"}

	assert.Contains(t, err.Error(), "GitHub")
}

func TestProbeAndEncryptionErrorsUnwrap(t *testing.T) {
	t.Parallel()

	inner := stderrors.New("network down")

	assert.ErrorIs(t, errors.ProbeError{Err: inner}, inner)
	assert.ErrorIs(t, errors.EncryptionError{Op: "decrypt", Err: errors.ErrKeyUnavailable}, errors.ErrKeyUnavailable)
	assert.Contains(t, errors.EncryptionError{Op: "decrypt", Err: inner}.Error(), "decrypt failed")
}

func TestRemoteStoreError_Suggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		backend    string
		err        error
		suggestion string
	}{
		{name: "conflict", backend: "s3", err: errors.ErrConflict, suggestion: "vaultsync sync"},
		{name: "password", backend: "memory", err: errors.ErrPasswordRequired, suggestion: "password set"},
		{name: "bucket", backend: "s3", err: stderrors.New("NoSuchBucket: gone"), suggestion: "remote.bucket"},
		{name: "s3 access", backend: "s3", err: stderrors.New("AccessDenied"), suggestion: "s3:PutObject"},
		{name: "secrets manager", backend: "aws-secretsmanager", err: stderrors.New("ResourceNotFoundException"), suggestion: "secretId"},
		{name: "keyring", backend: "keyring", err: stderrors.New("dbus: session bus unavailable"), suggestion: "gnome-keyring"},
		{name: "timeout", backend: "s3", err: stderrors.New("i/o timeout"), suggestion: "timed out"},
		{name: "unknown", backend: "s3", err: stderrors.New("weird"), suggestion: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := errors.RemoteStoreError(tt.backend, "fetch", tt.err)

			var userErr errors.UserError
			require.True(t, stderrors.As(err, &userErr))
			assert.Contains(t, userErr.Message, tt.backend)
			assert.ErrorIs(t, err, tt.err)
			if tt.suggestion == "" {
				assert.Empty(t, userErr.Suggestion)
			} else {
				assert.Contains(t, userErr.Suggestion, tt.suggestion)
			}
		})
	}
}

func TestRemoteStoreError_KeepsRedaction(t *testing.T) {
	t.Parallel()

	secret := "JBSWY3DPEHPK3PXP"
	base := fmt.Errorf("rejected record %s", logging.Secret(secret))

	err := errors.RemoteStoreError("s3", "modify", base)

	assert.NotContains(t, err.Error(), secret)
	assert.Contains(t, stderrors.Unwrap(err).Error(), "[REDACTED]")
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "conflict", err: errors.CommitError{Err: errors.ErrConflict}, want: true},
		{name: "timeout", err: stderrors.New("request Timeout"), want: true},
		{name: "throttled", err: stderrors.New("SlowDown: reduce request rate"), want: true},
		{name: "password", err: fmt.Errorf("wrap: %w", errors.ErrPasswordRequired), want: false},
		{name: "key", err: errors.ErrKeyUnavailable, want: false},
		{name: "other", err: stderrors.New("invalid argument"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errors.IsRetryable(tt.err))
		})
	}
}

func TestSimplifyError(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.SimplifyError(nil))

	userErr := errors.UserError{Message: "already friendly"}
	assert.Equal(t, userErr, errors.SimplifyError(userErr))

	simplified := errors.SimplifyError(fmt.Errorf("cycle: %w", errors.ErrPasswordRequired))
	var ue errors.UserError
	require.True(t, stderrors.As(simplified, &ue))
	assert.Contains(t, ue.Suggestion, "password set")

	simplified = errors.SimplifyError(fmt.Errorf("load: %w", stderrors.New("yaml: line 3: did not find expected key")))
	var ce errors.ConfigError
	require.True(t, stderrors.As(simplified, &ce))
	assert.Equal(t, "Invalid YAML format", ce.Message)

	plain := stderrors.New("something else")
	assert.Equal(t, plain, errors.SimplifyError(plain))
}
