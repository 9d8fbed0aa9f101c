package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gild/internal/keys"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/gild.db", cfg.Database.DSN)
	assert.Equal(t, "data/signing-key.yaml", cfg.Auth.KeyFile)
	assert.Equal(t, keys.DefaultParams, cfg.KDFParams())
	assert.Equal(t, 256, cfg.Audit.QueueSize)
	assert.Equal(t, "audit", cfg.Storage.KeyPrefix)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GILD_SERVER_ADDR", "127.0.0.1:9999")
	t.Setenv("GILD_DATABASE_DRIVER", "postgres")
	t.Setenv("GILD_AUDIT_QUEUESIZE", "8")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Audit.QueueSize)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "gild.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: 127.0.0.1:4000\nlog:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GILD_DATABASE_DRIVER", "mysql")

	_, err := Load("")
	require.Error(t, err)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	cfg.Auth.KDF.Time = 1
	cfg.Auth.KDF.Memory = 64
	cfg.Auth.KDF.Threads = 1
	cfg.Auth.KeyFile = filepath.Join(t.TempDir(), "signing-key.yaml")
	return cfg
}

func TestDeriveSigningKey_FromConfiguredMaterial(t *testing.T) {
	cfg := testConfig(t)
	m, err := keys.Generate()
	require.NoError(t, err)
	cfg.Auth.SigningKey = base64.StdEncoding.EncodeToString(m.Key)
	cfg.Auth.SigningKeySalt = base64.StdEncoding.EncodeToString(m.Salt)

	key, generated, err := cfg.DeriveSigningKey()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Len(t, key, keys.DerivedKeySize)
	assert.Empty(t, cfg.Auth.SigningKey)
	assert.Empty(t, cfg.Auth.SigningKeySalt)

	_, err = os.Stat(cfg.Auth.KeyFile)
	assert.True(t, os.IsNotExist(err), "configured material must not touch the key file")
}

func TestDeriveSigningKey_KeyFileStableAcrossLoads(t *testing.T) {
	cfg := testConfig(t)

	k1, generated, err := cfg.DeriveSigningKey()
	require.NoError(t, err)
	assert.True(t, generated)

	k2, generated, err := cfg.DeriveSigningKey()
	require.NoError(t, err)
	assert.False(t, generated)
	assert.Equal(t, k1, k2)
}

func TestDeriveSigningKey_Fatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.SigningKey = base64.StdEncoding.EncodeToString([]byte("too short"))
	cfg.Auth.SigningKeySalt = base64.StdEncoding.EncodeToString(make([]byte, keys.SaltSize))

	_, _, err := cfg.DeriveSigningKey()
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Auth.KDF.Threads = 0
	_, _, err = cfg.DeriveSigningKey()
	require.Error(t, err)
}
