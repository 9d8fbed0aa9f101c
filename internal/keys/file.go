package keys

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type keyFile struct {
	SigningKey     string `yaml:"signing_key"`
	SigningKeySalt string `yaml:"signing_key_salt"`
}

// LoadOrCreate reads key material from path. When the file does not exist,
// fresh material is generated and written there with owner-only permissions.
// created reports whether the file was written.
func LoadOrCreate(path string) (m Material, created bool, err error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		m, err = decodeFile(raw)
		if err != nil {
			return Material{}, false, fmt.Errorf("key file %s: %w", path, err)
		}
		return m, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return Material{}, false, fmt.Errorf("read key file: %w", err)
	}

	m, err = Generate()
	if err != nil {
		return Material{}, false, err
	}
	if err := write(path, m); err != nil {
		return Material{}, false, err
	}
	return m, true, nil
}

func decodeFile(raw []byte) (Material, error) {
	var f keyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Material{}, fmt.Errorf("decode: %w", err)
	}
	key, err := DecodeBase64(f.SigningKey)
	if err != nil {
		return Material{}, fmt.Errorf("signing_key: %w", err)
	}
	salt, err := DecodeBase64(f.SigningKeySalt)
	if err != nil {
		return Material{}, fmt.Errorf("signing_key_salt: %w", err)
	}
	m := Material{Key: key, Salt: salt}
	if err := m.validate(); err != nil {
		return Material{}, err
	}
	return m, nil
}

func write(path string, m Material) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	out, err := yaml.Marshal(keyFile{
		SigningKey:     base64.StdEncoding.EncodeToString(m.Key),
		SigningKeySalt: base64.StdEncoding.EncodeToString(m.Salt),
	})
	if err != nil {
		return fmt.Errorf("encode key file: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// DecodeBase64 accepts standard or URL-safe base64, padded or not.
func DecodeBase64(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("not valid base64")
}
