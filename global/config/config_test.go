package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for env := range envOverrides {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLAndDefaults(t *testing.T) {
	path := writeConfig(t, `
redis:
  url: redis://cache:6379/2
store:
  driver: memory
nats:
  servers: ["nats://a:4222", "nats://b:4222"]
pos:
  preview_keep: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.Servers)
	assert.Equal(t, 90*time.Second, cfg.Pos.PreviewKeep)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "space", cfg.NATS.SubjectPrefix)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
redis:
  url: redis://file:6379/0
store:
  driver: memory
`)
	t.Setenv("REDIS_URL", "redis://env:6379/1")
	t.Setenv("NATS_SERVERS", "nats://x:4222,nats://y:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis://env:6379/1", cfg.Redis.URL)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.Servers)
}

func TestLoadMissingRedisFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", StoreDriverMemory)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRedisURL, cfg.Redis.URL)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "postgres without url")

	cfg.Postgres.URL = "postgres://localhost/ppos"
	assert.NoError(t, cfg.Validate())

	cfg.Store.Driver = StoreDriverMongo
	cfg.Mongo.URI = ""
	assert.Error(t, cfg.Validate())

	cfg.Store.Driver = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Store.Driver = StoreDriverMemory
	cfg.Pos.PreviewKeep = 500 * time.Millisecond
	assert.Error(t, cfg.Validate())
}

func TestPreviewKeepSecondsRoundsUp(t *testing.T) {
	assert.Equal(t, int64(60), PosConfig{PreviewKeep: time.Minute}.PreviewKeepSeconds())
	assert.Equal(t, int64(2), PosConfig{PreviewKeep: 1500 * time.Millisecond}.PreviewKeepSeconds())
}

func TestMustRedisURL(t *testing.T) {
	t.Setenv("REDIS_URL", "")
	assert.Panics(t, func() { MustRedisURL() })

	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	assert.Equal(t, "redis://127.0.0.1:6379/0", MustRedisURL())
}
