package crypto

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyManager_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	km, err := OpenKeyManager(dir, clock)
	require.NoError(t, err)
	svc := NewService(km, clock, slog.Default(), 30*24*time.Hour, 24*time.Hour)

	env, err := svc.Encrypt([]byte("persisted"), "user_data", nil)
	require.NoError(t, err)

	reopened, err := OpenKeyManager(dir, clock)
	require.NoError(t, err)
	svc2 := NewService(reopened, clock, slog.Default(), 30*24*time.Hour, 24*time.Hour)

	got, err := svc2.Decrypt(env, nil)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))

	_, meta, ok := reopened.Key("user_data")
	require.True(t, ok)
	assert.Equal(t, 1, meta.Version)
	assert.Equal(t, KeyStatusActive, meta.Status)
}

func TestKeyManager_ArchivedVersionsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	km, err := OpenKeyManager(dir, clock)
	require.NoError(t, err)
	svc := NewService(km, clock, slog.Default(), 30*24*time.Hour, 24*time.Hour)

	env, err := svc.Encrypt([]byte("old generation"), "user_data", nil)
	require.NoError(t, err)
	_, err = svc.RotateKey("user_data")
	require.NoError(t, err)

	reopened, err := OpenKeyManager(dir, clock)
	require.NoError(t, err)
	svc2 := NewService(reopened, clock, slog.Default(), 30*24*time.Hour, 24*time.Hour)

	got, err := svc2.Decrypt(env, nil)
	require.NoError(t, err)
	assert.Equal(t, "old generation", string(got))

	assert.Equal(t, []string{"user_data_v1"}, reopened.ArchivedVersions("user_data"))
}

func TestKeyManager_KeyFilesAreCiphertext(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()

	km, err := OpenKeyManager(dir, clock)
	require.NoError(t, err)
	require.NoError(t, km.Generate("user_data", "general"))

	key, _, ok := km.Key("user_data")
	require.True(t, ok)

	blob, err := os.ReadFile(filepath.Join(dir, "user_data.key"))
	require.NoError(t, err)
	assert.NotContains(t, string(blob), string(key))
	assert.Greater(t, len(blob), keyLength)
}

func TestKeyManager_GenerateRejectsDuplicate(t *testing.T) {
	km, err := OpenKeyManager(t.TempDir(), clockwork.NewFakeClock())
	require.NoError(t, err)

	require.NoError(t, km.Generate("user_data", "general"))
	assert.Error(t, km.Generate("user_data", "general"))
}

func TestKeyManager_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	km, err := OpenKeyManager(dir, clockwork.NewFakeClock())
	require.NoError(t, err)
	require.NoError(t, km.Generate("user_data", "general"))

	for _, name := range []string{"master.key", "user_data.key", "user_data.meta"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), name)
	}
}
