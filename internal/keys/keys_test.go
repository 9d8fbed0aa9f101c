package keys

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters keep the tests fast
var testParams = Params{Time: 1, Memory: 64, Threads: 1}

func TestDerive_DeterministicAndSized(t *testing.T) {
	m1, err := Generate()
	require.NoError(t, err)
	m2 := Material{Key: bytes.Clone(m1.Key), Salt: bytes.Clone(m1.Salt)}

	k1, err := Derive(m1, testParams)
	require.NoError(t, err)
	k2, err := Derive(m2, testParams)
	require.NoError(t, err)

	assert.Len(t, k1, DerivedKeySize)
	assert.Equal(t, k1, k2)
}

func TestDerive_ZeroesMaterial(t *testing.T) {
	m, err := Generate()
	require.NoError(t, err)
	original := bytes.Clone(m.Key)

	key, err := Derive(m, testParams)
	require.NoError(t, err)

	assert.Equal(t, make([]byte, KeyMaterialSize), m.Key)
	assert.Equal(t, make([]byte, SaltSize), m.Salt)
	assert.NotEqual(t, original, key[:KeyMaterialSize])
}

func TestDerive_DifferentSaltDifferentKey(t *testing.T) {
	m1, err := Generate()
	require.NoError(t, err)
	m2, err := Generate()
	require.NoError(t, err)
	copy(m2.Key, m1.Key)

	k1, err := Derive(m1, testParams)
	require.NoError(t, err)
	k2, err := Derive(m2, testParams)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDerive_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		m      Material
		params Params
	}{
		{"short key", Material{Key: make([]byte, 10), Salt: make([]byte, SaltSize)}, testParams},
		{"short salt", Material{Key: make([]byte, KeyMaterialSize), Salt: make([]byte, 4)}, testParams},
		{"zero time", Material{Key: make([]byte, KeyMaterialSize), Salt: make([]byte, SaltSize)}, Params{Time: 0, Memory: 64, Threads: 1}},
		{"zero threads", Material{Key: make([]byte, KeyMaterialSize), Salt: make([]byte, SaltSize)}, Params{Time: 1, Memory: 64, Threads: 0}},
		{"tiny memory", Material{Key: make([]byte, KeyMaterialSize), Salt: make([]byte, SaltSize)}, Params{Time: 1, Memory: 8, Threads: 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			key, err := Derive(tc.m, tc.params)
			require.Error(t, err)
			assert.Nil(t, key)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "signing-key.yaml")

	m1, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	m2, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m1.Key, m2.Key)
	assert.Equal(t, m1.Salt, m2.Salt)
}

func TestLoadOrCreate_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing-key.yaml")
	require.NoError(t, os.WriteFile(path, []byte("signing_key: \"!!!\"\nsigning_key_salt: \"\"\n"), 0o600))

	_, _, err := LoadOrCreate(path)
	require.Error(t, err)
}
