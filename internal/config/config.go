// Package config resolves the trackify home directory and loads server
// configuration from <home>/config.yaml with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr     = ":8080"
	DefaultTokenTTL = 24 * time.Hour
)

// DB selects the storage backend. Driver is "sqlite" (default, data
// lives under the home directory) or "postgres" (URL or DATABASE_URL).
type DB struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

type Auth struct {
	// Secret signs the session tokens. Required to serve.
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type Config struct {
	Addr string `yaml:"addr"`
	DB   DB     `yaml:"db"`
	Auth Auth   `yaml:"auth"`
}

// Load reads <home>/config.yaml when present, applies TRACKIFY_*
// environment overrides, and fills in defaults. A missing file is fine;
// a malformed one is an error.
func Load(home string) (Config, error) {
	cfg := Config{
		Addr: DefaultAddr,
		DB:   DB{Driver: "sqlite"},
		Auth: Auth{TokenTTL: DefaultTokenTTL},
	}

	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	if v := os.Getenv("TRACKIFY_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("TRACKIFY_DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("TRACKIFY_DB_URL"); v != "" {
		cfg.DB.URL = v
	}
	if v := os.Getenv("TRACKIFY_JWT_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("TRACKIFY_TOKEN_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse TRACKIFY_TOKEN_TTL: %w", err)
		}
		cfg.Auth.TokenTTL = d
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "sqlite"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = DefaultTokenTTL
	}
	return cfg, nil
}
