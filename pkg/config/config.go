// Package config loads the skaler-d YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

const (
	DefaultListen         = "127.0.0.1:8095"
	DefaultBlockTTL       = 60 * time.Second
	DefaultUsageWindow    = time.Minute
	DefaultTimeout        = 10 * time.Second
	DefaultEventCapacity  = 1000
	DefaultEventRetention = 7 * 24 * time.Hour
	DefaultSQLitePath     = "skaler.db"
	DefaultRedisAddr      = "127.0.0.1:6379"
	DefaultRedisPrefix    = "skaler"
)

// Environment overrides, applied after the file is read.
const (
	EnvListen        = "SKALER_LISTEN"
	EnvAPIToken      = "SKALER_API_TOKEN"
	EnvStore         = "SKALER_STORE"
	EnvSQLitePath    = "SKALER_SQLITE_PATH"
	EnvRedisAddr     = "SKALER_REDIS_ADDR"
	EnvRedisPassword = "SKALER_REDIS_PASSWORD"
	EnvRedisDB       = "SKALER_REDIS_DB"
	EnvRedisPrefix   = "SKALER_REDIS_PREFIX"
	EnvProxies       = "SKALER_PROXIES"
	EnvBlockTTL      = "SKALER_BLOCK_TTL"
	EnvUsageWindow   = "SKALER_USAGE_WINDOW"
)

var (
	ErrNoProviders       = errors.New("config defines no providers")
	ErrDuplicateProvider = errors.New("duplicate provider name")
)

// ProviderConfig describes one credential. Credential may be indirected
// through CredentialEnv so secrets stay out of the file.
type ProviderConfig struct {
	Name          string `yaml:"name"`
	Credential    string `yaml:"credential"`
	CredentialEnv string `yaml:"credential-env"`
	Limit         int64  `yaml:"limit"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type StoreConfig struct {
	Backend    string      `yaml:"backend"`
	SQLitePath string      `yaml:"sqlite-path"`
	Redis      RedisConfig `yaml:"redis"`
}

// Config is the daemon configuration.
type Config struct {
	Listen   string `yaml:"listen"`
	APIToken string `yaml:"api-token"`

	Providers []ProviderConfig `yaml:"providers"`
	// DummyProvider appends a credential-less, always-available provider
	// for proxy-rotation-only workloads.
	DummyProvider bool     `yaml:"dummy-provider"`
	Proxies       []string `yaml:"proxies"`

	Store StoreConfig `yaml:"store"`

	BlockTTL time.Duration `yaml:"block-ttl"`
	// UsageWindow is how often usage counters restart. Zero counts for the
	// lifetime of the store.
	UsageWindow    time.Duration `yaml:"usage-window"`
	DefaultTimeout time.Duration `yaml:"default-timeout"`
	EventCapacity  int           `yaml:"event-capacity"`
	// EventRetention bounds the SQLite event log. Zero keeps events forever.
	EventRetention time.Duration `yaml:"event-retention"`
}

// Default returns a config with every default filled in and no providers.
func Default() Config {
	return Config{
		Listen: DefaultListen,
		Store: StoreConfig{
			Backend:    BackendMemory,
			SQLitePath: DefaultSQLitePath,
			Redis: RedisConfig{
				Addr:   DefaultRedisAddr,
				Prefix: DefaultRedisPrefix,
			},
		},
		BlockTTL:       DefaultBlockTTL,
		UsageWindow:    DefaultUsageWindow,
		DefaultTimeout: DefaultTimeout,
		EventCapacity:  DefaultEventCapacity,
		EventRetention: DefaultEventRetention,
	}
}

// Load reads path, applies environment overrides, resolves credentials
// and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.ResolveCredentials(); err != nil {
		return Config{}, err
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SKALER_* variables.
func (c *Config) ApplyEnv() error {
	setString(&c.Listen, EnvListen)
	setString(&c.APIToken, EnvAPIToken)
	setString(&c.Store.Backend, EnvStore)
	setString(&c.Store.SQLitePath, EnvSQLitePath)
	setString(&c.Store.Redis.Addr, EnvRedisAddr)
	setString(&c.Store.Redis.Password, EnvRedisPassword)
	setString(&c.Store.Redis.Prefix, EnvRedisPrefix)

	if raw := strings.TrimSpace(os.Getenv(EnvRedisDB)); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRedisDB, err)
		}
		c.Store.Redis.DB = db
	}
	if raw := strings.TrimSpace(os.Getenv(EnvProxies)); raw != "" {
		c.Proxies = nil
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Proxies = append(c.Proxies, p)
			}
		}
	}
	if err := setDuration(&c.BlockTTL, EnvBlockTTL); err != nil {
		return err
	}
	return setDuration(&c.UsageWindow, EnvUsageWindow)
}

// ResolveCredentials reads CredentialEnv into Credential where set.
func (c *Config) ResolveCredentials() error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.CredentialEnv == "" {
			continue
		}
		v, ok := os.LookupEnv(p.CredentialEnv)
		if !ok {
			return fmt.Errorf("provider %q: credential env %s is not set", p.Name, p.CredentialEnv)
		}
		p.Credential = v
	}
	return nil
}

// Validate checks the config is usable by the daemon.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return errors.New("listen cannot be empty")
	}
	if len(c.Providers) == 0 && !c.DummyProvider {
		return ErrNoProviders
	}

	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if p.Limit <= 0 {
			return fmt.Errorf("provider %q: limit must be positive", p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.Name)
		}
		seen[p.Name] = struct{}{}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite-path is required for the sqlite backend")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return errors.New("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.BlockTTL <= 0 {
		return errors.New("block-ttl must be positive")
	}
	if c.UsageWindow < 0 {
		return errors.New("usage-window cannot be negative")
	}
	if c.DefaultTimeout <= 0 {
		return errors.New("default-timeout must be positive")
	}
	if c.EventCapacity <= 0 {
		return errors.New("event-capacity must be positive")
	}
	if c.EventRetention < 0 {
		return errors.New("event-retention cannot be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
