package config

import "time"

// AppConfig 进程级配置，yaml 文件 + 环境变量覆盖
type AppConfig struct {
	Redis    RedisConfig    `yaml:"redis"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	NATS     NATSConfig     `yaml:"nats"`
	HTTP     HTTPConfig     `yaml:"http"`
	Auth     AuthConfig     `yaml:"auth"`
	Pos      PosConfig      `yaml:"pos"`
	Log      LogConfig      `yaml:"log"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

// StoreConfig 选择消息持久层：postgres | mongo | memory
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

type PostgresConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
	Migrate  bool   `yaml:"migrate"`
}

type MongoConfig struct {
	URI         string `yaml:"uri"`
	Database    string `yaml:"database"`
	MaxPoolSize int    `yaml:"max_pool_size"`
}

// NATSConfig Servers 为空时不广播事件
type NATSConfig struct {
	Servers       []string      `yaml:"servers"`
	Name          string        `yaml:"name"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	JetStream     bool          `yaml:"jetstream"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Retries       int           `yaml:"retries"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Alg       string `yaml:"alg"`
}

// PosConfig PreviewKeep 为预览位置的保留时长（按秒取整）
type PosConfig struct {
	PreviewKeep time.Duration `yaml:"preview_keep"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}
