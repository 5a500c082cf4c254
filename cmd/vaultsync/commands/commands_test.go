package commands

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/vaultsync/internal/config"
	vserrors "github.com/systmms/vaultsync/internal/errors"
	"github.com/systmms/vaultsync/internal/logging"
	"github.com/systmms/vaultsync/pkg/vault"
)

const (
	testKeyEnv = "VAULTSYNC_TEST_SYSTEM_KEY"
	testSecret = "JBSWY3DPEHPK3PXP"
)

// newTestConfig writes a config using a sqlite vault and state directory
// under a temp dir, the in-memory remote and a static system key.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(testKeyEnv, base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))
	t.Setenv("VAULTSYNC_PASSWORD", "")
	t.Setenv(NewPasswordEnv, "")

	body := fmt.Sprintf(`
version: 1
stateDir: %s
remote:
  type: memory
local:
  driver: sqlite3
  dsn: %s
encryption:
  systemKey:
    source: static
    keyEnv: %s
`, filepath.Join(dir, "state"), filepath.Join(dir, "vault.db"), testKeyEnv)

	path := filepath.Join(dir, "vaultsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return &config.Config{Path: path, Required: true, Logger: logging.Discard()}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, cmd *cobra.Command, args ...string) string {
	t.Helper()
	out, err := execute(t, cmd, args...)
	require.NoError(t, err, out)
	return out
}

func TestSectionCommands(t *testing.T) {
	cfg := newTestConfig(t)

	out := mustExecute(t, NewSectionCommand(cfg), "list")
	assert.Contains(t, out, "No sections")

	out = mustExecute(t, NewSectionCommand(cfg), "add", "Work")
	assert.Contains(t, out, "Added section Work")
	id := strings.TrimSuffix(strings.TrimSpace(out[strings.Index(out, "(")+1:]), ")")

	out = mustExecute(t, NewSectionCommand(cfg), "list")
	assert.Contains(t, out, "Work")
	assert.Contains(t, out, id)

	mustExecute(t, NewSectionCommand(cfg), "remove", id)
	out = mustExecute(t, NewSectionCommand(cfg), "list")
	assert.Contains(t, out, "No sections")

	_, err := execute(t, NewSectionCommand(cfg), "remove", "missing")
	assert.Error(t, err)
}

func TestServiceCommands(t *testing.T) {
	cfg := newTestConfig(t)

	mustExecute(t, NewServiceCommand(cfg), "add", "GitHub", "--secret", testSecret, "--issuer", "GitHub")

	out := mustExecute(t, NewServiceCommand(cfg), "list")
	assert.Contains(t, out, "GitHub")
	assert.Contains(t, out, "TOTP")
	assert.NotContains(t, out, testSecret, "secrets are never listed")

	_, err := execute(t, NewServiceCommand(cfg), "remove", "Unknown")
	assert.ErrorContains(t, err, "not found")

	mustExecute(t, NewServiceCommand(cfg), "remove", "GitHub")
	out = mustExecute(t, NewServiceCommand(cfg), "list")
	assert.Contains(t, out, "No services")

	out = mustExecute(t, NewStatusCommand(cfg), "--format", "json")
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 1, report.PendingDeletions)
}

func TestServiceAdd_RequiresSecret(t *testing.T) {
	cfg := newTestConfig(t)

	_, err := execute(t, NewServiceCommand(cfg), "add", "GitHub")
	assert.Error(t, err)
}

func TestServiceRemove_AmbiguousName(t *testing.T) {
	cfg := newTestConfig(t)

	mustExecute(t, NewServiceCommand(cfg), "add", "Mail", "--secret", testSecret)
	mustExecute(t, NewServiceCommand(cfg), "add", "Mail", "--secret", "GEZDGNBVGY3TQOJQ")

	_, err := execute(t, NewServiceCommand(cfg), "remove", "Mail")
	assert.ErrorContains(t, err, "--secret")

	mustExecute(t, NewServiceCommand(cfg), "remove", "Mail", "--secret", testSecret)
	out := mustExecute(t, NewServiceCommand(cfg), "list")
	assert.Equal(t, 1, strings.Count(out, "Mail"))
}

func TestSyncAndStatus(t *testing.T) {
	cfg := newTestConfig(t)

	out := mustExecute(t, NewStatusCommand(cfg))
	assert.Contains(t, out, "No sync cycles recorded")

	mustExecute(t, NewServiceCommand(cfg), "add", "GitHub", "--secret", testSecret)

	out = mustExecute(t, NewSyncCommand(cfg))
	assert.Contains(t, out, "Synced zone")
	assert.Contains(t, out, "pushed")

	out = mustExecute(t, NewServiceCommand(cfg), "list")
	assert.Contains(t, out, vault.ZoneV2, "the service carries remote metadata after sync")

	out = mustExecute(t, NewStatusCommand(cfg))
	assert.Contains(t, out, "Migrated to v3:     true")
	assert.Contains(t, out, "success")

	out = mustExecute(t, NewStatusCommand(cfg), "--format", "yaml")
	assert.Contains(t, out, "migrated_to_v3: true")

	_, err := execute(t, NewStatusCommand(cfg), "--format", "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestProbe_EmptyRemote(t *testing.T) {
	cfg := newTestConfig(t)

	out := mustExecute(t, NewProbeCommand(cfg))
	assert.Contains(t, out, "No vault found remotely")
}

func TestWatch_Once(t *testing.T) {
	cfg := newTestConfig(t)
	mustExecute(t, NewServiceCommand(cfg), "add", "GitHub", "--secret", testSecret)

	out := mustExecute(t, NewWatchCommand(cfg), "--once")
	assert.Contains(t, out, "Synced zone")
}

func TestPasswordLifecycle(t *testing.T) {
	cfg := newTestConfig(t)
	mustExecute(t, NewServiceCommand(cfg), "add", "GitHub", "--secret", testSecret)

	_, err := execute(t, NewPasswordCommand(cfg), "set")
	assert.ErrorContains(t, err, "VAULTSYNC_PASSWORD")

	t.Setenv("VAULTSYNC_PASSWORD", "correct horse")
	out := mustExecute(t, NewPasswordCommand(cfg), "set")
	assert.Contains(t, out, "Vault encryption is now user")
	assert.Contains(t, out, "Synced zone")

	out = mustExecute(t, NewStatusCommand(cfg))
	assert.Contains(t, out, "Encryption:         user")
	assert.Contains(t, out, "Rotation required:  false")

	_, err = execute(t, NewPasswordCommand(cfg), "set")
	assert.ErrorContains(t, err, "already set")

	_, err = execute(t, NewPasswordCommand(cfg), "change")
	assert.ErrorContains(t, err, NewPasswordEnv)

	t.Setenv(NewPasswordEnv, "battery staple")
	out = mustExecute(t, NewPasswordCommand(cfg), "change", "--no-sync")
	assert.NotContains(t, out, "Synced zone")

	out = mustExecute(t, NewStatusCommand(cfg))
	assert.Contains(t, out, "Rotation required:  true")

	t.Setenv("VAULTSYNC_PASSWORD", "")
	_, err = execute(t, NewSyncCommand(cfg))
	require.Error(t, err)
	assert.True(t, errors.Is(err, vserrors.ErrPasswordRequired))

	t.Setenv("VAULTSYNC_PASSWORD", "battery staple")
	mustExecute(t, NewPasswordCommand(cfg), "remove")

	out = mustExecute(t, NewStatusCommand(cfg))
	assert.Contains(t, out, "Encryption:         system")
}

func TestHealthState(t *testing.T) {
	var h healthState
	assert.NoError(t, h.check())

	h.set(errors.New("boom"))
	assert.ErrorContains(t, h.check(), "boom")

	h.set(nil)
	assert.NoError(t, h.check())
}
