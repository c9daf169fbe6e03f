package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"PPos/service/metrics"
	"PPos/tools/errs"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCache 任何 transport/protocol 失败
	ErrCache = errors.New("cache failure")
	// ErrDecode 存储的值无法解码成期望类型，同时也是 ErrCache
	ErrDecode = errors.New("cache value decode failure")
)

// CacheError 统一的缓存失败类型，不做重试，由调用方决定
type CacheError struct {
	Op     string
	Key    string
	Err    error
	decode bool
}

func (e *CacheError) Error() string {
	kind := "cache"
	if e.decode {
		kind = "cache decode"
	}
	return fmt.Sprintf("%s %s %q: %v", kind, e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

func (e *CacheError) Is(target error) bool {
	return target == ErrCache || (e.decode && target == ErrDecode)
}

func cacheErr(op, key string, err error) error {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	return &CacheError{Op: op, Key: key, Err: err}
}

func decodeErr(op, key string, err error) error {
	metrics.CacheErrors.WithLabelValues(op).Inc()
	return &CacheError{Op: op, Key: key, Err: err, decode: true}
}

// Config 用于初始化 Redis
type Config struct {
	URL      string
	PoolSize int
}

// Conn 共享的多路复用连接，go-redis 连接池本身并发安全，不需要外部加锁
type Conn struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Conn {
	return &Conn{client: client}
}

// Open 解析 URL 建连并 Ping 一次
func Open(ctx context.Context, c Config) (*Conn, error) {
	opts, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse redis url", "url", c.URL)
	}
	if c.PoolSize > 0 {
		opts.PoolSize = c.PoolSize
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, cacheErr("ping", "", err)
	}
	return &Conn{client: rdb}, nil
}

func (c *Conn) Client() redis.UniversalClient { return c.client }

func (c *Conn) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Get 不存在时返回 (nil, false, nil)
func (c *Conn) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cacheErr("get", key, err)
	}
	return b, true, nil
}

// GetInt 读整数值；值存在但不是整数时返回 ErrDecode
func (c *Conn) GetInt(ctx context.Context, key string) (int64, bool, error) {
	b, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false, decodeErr("get", key, err)
	}
	return v, true, nil
}

func (c *Conn) Set(ctx context.Context, key string, value any) error {
	if err := c.client.Set(ctx, key, value, 0).Err(); err != nil {
		return cacheErr("set", key, err)
	}
	return nil
}

// SetWithExpiration seconds 必须为正
func (c *Conn) SetWithExpiration(ctx context.Context, key string, value any, seconds int64) error {
	if seconds <= 0 {
		return errs.ErrArgs.WrapMsg("expiration must be positive", "key", key, "seconds", seconds)
	}
	if err := c.client.Set(ctx, key, value, time.Duration(seconds)*time.Second).Err(); err != nil {
		return cacheErr("setex", key, err)
	}
	return nil
}

// Remove 删除不存在的 key 也算成功
func (c *Conn) Remove(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return cacheErr("del", key, err)
	}
	return nil
}

// Incr 原子 +1，返回新值
func (c *Conn) Incr(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		// 非整数值时 redis 返回 ERR value is not an integer
		return 0, cacheErr("incr", key, err)
	}
	return v, nil
}

// SetNX key 不存在时才写入，返回是否生效
func (c *Conn) SetNX(ctx context.Context, key string, value any) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, cacheErr("setnx", key, err)
	}
	return ok, nil
}

// SetNXWithExpiration SET key value NX EX seconds
func (c *Conn) SetNXWithExpiration(ctx context.Context, key string, value any, seconds int64) (bool, error) {
	if seconds <= 0 {
		return false, errs.ErrArgs.WrapMsg("expiration must be positive", "key", key, "seconds", seconds)
	}
	ok, err := c.client.SetNX(ctx, key, value, time.Duration(seconds)*time.Second).Result()
	if err != nil {
		return false, cacheErr("setnx", key, err)
	}
	return ok, nil
}
