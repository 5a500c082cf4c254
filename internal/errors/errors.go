package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel conditions shared across the sync layers. Match them with
// errors.Is; the typed errors below wrap them where relevant.
var (
	// ErrConflict is reported when a remote write carried stale metadata.
	ErrConflict = errors.New("remote record changed since last fetch")

	// ErrNotFound is reported when a record or key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrKeyUnavailable is reported when no key can decrypt a payload.
	ErrKeyUnavailable = errors.New("encryption key unavailable")

	// ErrPasswordRequired is reported when the remote vault is encrypted
	// with a user password this device does not hold.
	ErrPasswordRequired = errors.New("vault is protected by a password this device does not know")

	// ErrSyncInProgress is reported when a pass is requested while another
	// is running.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// ProbeError wraps a failure to determine which vault generations exist.
type ProbeError struct {
	Err error
}

func (e ProbeError) Error() string {
	return fmt.Sprintf("version probe failed: %v", e.Err)
}

func (e ProbeError) Unwrap() error {
	return e.Err
}

// ValidationError reports a service whose secret cannot be used as a record
// name. The display name is safe to log; the secret is never included.
type ValidationError struct {
	DisplayName string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("service %q has a secret that cannot be synced", e.DisplayName)
}

// CommitError reports a rejected remote write. It wraps ErrConflict when the
// store refused stale metadata.
type CommitError struct {
	Zone      string
	Conflicts []string
	Err       error
}

func (e CommitError) Error() string {
	msg := fmt.Sprintf("commit to %s failed", e.Zone)
	if len(e.Conflicts) > 0 {
		msg += fmt.Sprintf(" (%d conflicting: %s)", len(e.Conflicts), strings.Join(e.Conflicts, ", "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e CommitError) Unwrap() error {
	return e.Err
}

// EncryptionError wraps a failure to encrypt or decrypt a payload.
type EncryptionError struct {
	Op  string
	Err error
}

func (e EncryptionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e EncryptionError) Unwrap() error {
	return e.Err
}

// RemoteStoreError enhances backend-specific errors with context
func RemoteStoreError(backend string, operation string, err error) error {
	return UserError{
		Message:    fmt.Sprintf("%s error during %s", backend, operation),
		Suggestion: getBackendSuggestion(backend, err),
		Err:        err,
	}
}

// getBackendSuggestion returns helpful suggestions based on backend and error
func getBackendSuggestion(backend string, err error) string {
	if errors.Is(err, ErrConflict) {
		return "Another device updated the vault. Run 'vaultsync sync' again to merge its changes"
	}
	if errors.Is(err, ErrPasswordRequired) {
		return "Set the vault password with 'vaultsync password set' or export VAULTSYNC_PASSWORD"
	}

	errStr := err.Error()

	switch backend {
	case "s3":
		if strings.Contains(errStr, "NoSuchBucket") {
			return "Verify remote.bucket and remote.region in the config file"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for s3:GetObject, s3:PutObject, s3:DeleteObject and s3:ListBucket"
		}
		if strings.Contains(errStr, "credentials") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}

	case "aws-secretsmanager":
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue"
		}
		if strings.Contains(errStr, "ResourceNotFoundException") {
			return "Verify encryption.systemKey.secretId and region"
		}

	case "keyring":
		if strings.Contains(errStr, "dbus") || strings.Contains(errStr, "secret service") {
			return "Start a Secret Service provider (gnome-keyring or kwallet) or use encryption.systemKey.source: static"
		}

	case "sqlite3", "postgres", "mysql":
		if strings.Contains(errStr, "unable to open database") {
			return "Check that local.dsn points to a writable location"
		}
	}

	// Generic suggestions
	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and remote configuration"
	}

	return ""
}

// IsRetryable checks if an error is retryable. Conflicts are retryable
// because the next pass refetches the remote state.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	if errors.Is(err, ErrPasswordRequired) || errors.Is(err, ErrKeyUnavailable) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout",
		"temporary failure",
		"connection reset",
		"broken pipe",
		"rate limit",
		"throttling",
		"too many requests",
		"slowdown",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var userErr UserError
	if errors.As(err, &userErr) {
		return err
	}
	var cfgErr ConfigError
	if errors.As(err, &cfgErr) {
		return err
	}

	if errors.Is(err, ErrPasswordRequired) {
		return UserError{
			Message:    "The synced vault is password protected",
			Suggestion: "Set the vault password with 'vaultsync password set' or export VAULTSYNC_PASSWORD",
			Err:        err,
		}
	}
	if errors.Is(err, ErrConflict) {
		return UserError{
			Message:    "The vault changed on another device during sync",
			Suggestion: "Run 'vaultsync sync' again",
			Err:        err,
		}
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}
