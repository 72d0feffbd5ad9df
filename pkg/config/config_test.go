package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
listen: 0.0.0.0:9000
providers:
  - name: openai-1
    credential: sk-one
    limit: 60
  - name: openai-2
    credential-env: TEST_SKALER_KEY
    limit: 30
proxies:
  - http://proxy-a:8080
  - proxy-b:3128
store:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
block-ttl: 2m
usage-window: 30s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skaler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("TEST_SKALER_KEY", "sk-two")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "sk-one", cfg.Providers[0].Credential)
	assert.Equal(t, "sk-two", cfg.Providers[1].Credential)
	assert.Equal(t, int64(30), cfg.Providers[1].Limit)
	assert.Equal(t, []string{"http://proxy-a:8080", "proxy-b:3128"}, cfg.Proxies)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, DefaultRedisPrefix, cfg.Store.Redis.Prefix, "unset keys keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.BlockTTL)
	assert.Equal(t, 30*time.Second, cfg.UsageWindow)
	assert.Equal(t, DefaultTimeout, cfg.DefaultTimeout)
	assert.Equal(t, DefaultEventCapacity, cfg.EventCapacity)
	assert.Equal(t, DefaultEventRetention, cfg.EventRetention)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("TEST_SKALER_KEY", "sk-two")
	t.Setenv(EnvListen, "127.0.0.1:7000")
	t.Setenv(EnvRedisAddr, "other:6380")
	t.Setenv(EnvRedisDB, "5")
	t.Setenv(EnvProxies, " p1:1 , ,p2:2")
	t.Setenv(EnvBlockTTL, "5s")
	t.Setenv(EnvUsageWindow, "0s")

	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "other:6380", cfg.Store.Redis.Addr)
	assert.Equal(t, 5, cfg.Store.Redis.DB)
	assert.Equal(t, []string{"p1:1", "p2:2"}, cfg.Proxies)
	assert.Equal(t, 5*time.Second, cfg.BlockTTL)
	assert.Equal(t, time.Duration(0), cfg.UsageWindow)
}

func TestParse_ExplicitZeroWindowDisablesReset(t *testing.T) {
	cfg, err := Parse([]byte("dummy-provider: true\nusage-window: 0s\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.UsageWindow)
	assert.True(t, cfg.DummyProvider)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "empty", body: ""},
		{name: "unknown key", body: "dummy-provider: true\nbogus: 1\n"},
		{name: "missing name", body: "providers:\n  - limit: 1\n"},
		{name: "zero limit", body: "providers:\n  - name: a\n"},
		{name: "duplicate", body: "providers:\n  - {name: a, limit: 1}\n  - {name: a, limit: 2}\n"},
		{name: "unset credential env", body: "providers:\n  - {name: a, limit: 1, credential-env: TEST_SKALER_UNSET}\n"},
		{name: "bad backend", body: "dummy-provider: true\nstore:\n  backend: etcd\n"},
		{name: "bad block ttl", body: "dummy-provider: true\nblock-ttl: 0s\n"},
		{name: "negative window", body: "dummy-provider: true\nusage-window: -1s\n"},
		{name: "negative retention", body: "dummy-provider: true\nevent-retention: -1h\n"},
		{name: "bad env duration", body: "dummy-provider: true\n", env: map[string]string{EnvBlockTTL: "soon"}},
		{name: "bad env db", body: "dummy-provider: true\n", env: map[string]string{EnvRedisDB: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParse_BackendIsCaseInsensitive(t *testing.T) {
	cfg, err := Parse([]byte("dummy-provider: true\nstore:\n  backend: SQLite\n  sqlite-path: /tmp/x.db\n"))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
}
