package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"PPos/logger"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const DefaultRedisURL = "redis://127.0.0.1:6379/0"

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

// 环境变量 -> 配置路径
var envOverrides = map[string]string{
	"REDIS_URL":    "redis.url",
	"STORE_DRIVER": "store.driver",
	"DATABASE_URL": "postgres.url",
	"MONGO_URI":    "mongo.uri",
	"MONGO_DB":     "mongo.database",
	"NATS_SERVERS": "nats.servers",
	"HTTP_ADDR":    "http.addr",
	"JWT_SECRET":   "auth.jwt_secret",
	"LOG_LEVEL":    "log.level",
}

func Default() *AppConfig {
	return &AppConfig{
		Redis: RedisConfig{
			PoolSize: 20,
		},
		Store: StoreConfig{
			Driver: StoreDriverPostgres,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
			Migrate:  true,
		},
		Mongo: MongoConfig{
			Database:    "ppos",
			MaxPoolSize: 20,
		},
		NATS: NATSConfig{
			Name:          "ppos",
			SubjectPrefix: "space",
			ReconnectWait: 500 * time.Millisecond,
			Timeout:       3 * time.Second,
			Retries:       2,
			RetryBackoff:  100 * time.Millisecond,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Alg: "HS256",
		},
		Pos: PosConfig{
			PreviewKeep: 60 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load 读 yaml（文件不存在时跳过），叠加环境变量，再补默认值并校验。
// redis.url 缺失时回落到本地地址并打 warning。
func Load(path string) (*AppConfig, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &raw); err != nil {
				return nil, fmt.Errorf("parsing config %s: %w", path, err)
			}
			if raw == nil {
				raw = map[string]any{}
			}
		case os.IsNotExist(err):
			logger.Warn("config file not found, using defaults and environment", zap.String("path", path))
		default:
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	overlayEnv(raw, os.LookupEnv)

	cfg := Default()
	if err := decode(raw, cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.URL == "" {
		logger.Warn("REDIS_URL not set, use default", zap.String("url", DefaultRedisURL))
		cfg.Redis.URL = DefaultRedisURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustRedisURL 测试/引导场景下要求 REDIS_URL 必须存在
func MustRedisURL() string {
	url, ok := os.LookupEnv("REDIS_URL")
	if !ok || strings.TrimSpace(url) == "" {
		panic("Failed to load Redis URL: REDIS_URL is not set")
	}
	return url
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required for store driver %q", c.Store.Driver)
		}
	case StoreDriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			return fmt.Errorf("mongo.uri and mongo.database are required for store driver %q", c.Store.Driver)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Pos.PreviewKeep < time.Second {
		return fmt.Errorf("pos.preview_keep must be at least 1s, got %s", c.Pos.PreviewKeep)
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must not be negative")
	}
	return nil
}

// PreviewKeepSeconds 预览位置的 TTL，向上取整到秒
func (c PosConfig) PreviewKeepSeconds() int64 {
	secs := int64(c.PreviewKeep / time.Second)
	if c.PreviewKeep%time.Second != 0 {
		secs++
	}
	return secs
}

func decode(raw map[string]any, out *AppConfig) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("new config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func overlayEnv(raw map[string]any, lookup func(string) (string, bool)) {
	for env, path := range envOverrides {
		v, ok := lookup(env)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		setPath(raw, strings.Split(path, "."), strings.TrimSpace(v))
	}
}

func setPath(m map[string]any, path []string, v any) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	setPath(child, path[1:], v)
}
