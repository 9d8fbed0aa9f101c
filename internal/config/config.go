package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"gild/internal/keys"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr string
	}
	Database struct {
		Driver string
		DSN    string
	}
	Auth struct {
		// SigningKey and SigningKeySalt are base64 key material. They are
		// cleared once the signing key has been derived.
		SigningKey     string
		SigningKeySalt string
		KeyFile        string
		KDF            struct {
			Time    uint32
			Memory  uint32
			Threads uint8
		}
	}
	Audit struct {
		QueueSize int
	}
	Storage struct {
		Bucket    string
		KeyPrefix string
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
	Log struct {
		Level string
	}
}

// Load reads configuration from environment variables and optional config files.
// An explicit path overrides the default config.yaml lookup.
func Load(path string) (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("GILD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:3000")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/gild.db")
	v.SetDefault("auth.signingkey", "")
	v.SetDefault("auth.signingkeysalt", "")
	v.SetDefault("auth.keyfile", "data/signing-key.yaml")
	v.SetDefault("auth.kdf.time", keys.DefaultParams.Time)
	v.SetDefault("auth.kdf.memory", keys.DefaultParams.Memory)
	v.SetDefault("auth.kdf.threads", keys.DefaultParams.Threads)
	v.SetDefault("audit.queuesize", 256)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.keyprefix", "audit")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // optional file
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	switch cfg.Database.Driver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
	if cfg.Audit.QueueSize <= 0 {
		return Config{}, fmt.Errorf("audit queue size must be positive")
	}

	return cfg, nil
}

// KDFParams returns the configured key derivation parameters.
func (c *Config) KDFParams() keys.Params {
	return keys.Params{
		Time:    c.Auth.KDF.Time,
		Memory:  c.Auth.KDF.Memory,
		Threads: c.Auth.KDF.Threads,
	}
}

// DeriveSigningKey resolves key material (configured values first, then the
// key file, generating it on first run), derives the signing key and clears
// the raw material from the configuration. Callers must treat any error as fatal.
func (c *Config) DeriveSigningKey() (key []byte, generated bool, err error) {
	var m keys.Material
	switch {
	case c.Auth.SigningKey != "" || c.Auth.SigningKeySalt != "":
		m.Key, err = keys.DecodeBase64(c.Auth.SigningKey)
		if err != nil {
			return nil, false, fmt.Errorf("auth.signingkey: %w", err)
		}
		m.Salt, err = keys.DecodeBase64(c.Auth.SigningKeySalt)
		if err != nil {
			return nil, false, fmt.Errorf("auth.signingkeysalt: %w", err)
		}
	case c.Auth.KeyFile != "":
		m, generated, err = keys.LoadOrCreate(c.Auth.KeyFile)
		if err != nil {
			return nil, false, err
		}
	default:
		return nil, false, fmt.Errorf("no signing key configured and no key file set")
	}

	c.Auth.SigningKey = ""
	c.Auth.SigningKeySalt = ""

	key, err = keys.Derive(m, c.KDFParams())
	if err != nil {
		return nil, false, fmt.Errorf("derive signing key: %w", err)
	}
	return key, generated, nil
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
