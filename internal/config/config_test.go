package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret, "AUTH_SECRET must stay empty when unset")
	assert.Empty(t, cfg.ManagerPIN, "MANAGER_PIN must stay empty when unset")
}

func TestLoadDefaults(t *testing.T) {
	unsetenv(t, "OPERATION_TIMEOUT", "PORT", "CHANGES_CHANNEL", "APP_ENV")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.OperationTimeout)
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "kedaipos:changes", cfg.ChangesChannel)
	assert.False(t, cfg.IsProduction())
}

func TestLoadReadsDotEnvButEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(file, []byte("SHOP_NAME=Kedai Fail\nOPERATION_TIMEOUT=20s\n"), 0o600))
	t.Setenv("SHOP_NAME", "Kedai Env")
	unsetenv(t, "OPERATION_TIMEOUT")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "Kedai Env", cfg.ShopName)
	assert.Equal(t, 20*time.Second, cfg.OperationTimeout)
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	t.Setenv("OPERATION_TIMEOUT", "-1s")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, Config{TimeZone: "Nowhere/Land"}.Location())
}

// unsetenv clears keys for the test and restores them afterwards.
func unsetenv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
