package natsx

import (
	"context"
	"strings"
	"sync"
	"time"

	"PPos/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// Mode 工作模式
type Mode int

const (
	Core      Mode = iota // 无持久化
	JetStream             // 写入 stream，发布带 Nats-Msg-Id 去重
)

// Config 客户端配置
type Config struct {
	Servers       []string
	Name          string
	User          string
	Password      string
	ReconnectWait time.Duration
	Timeout       time.Duration
	Mode          Mode
	// Stream/Subjects 仅 JetStream 模式使用
	Stream   string
	Subjects []string
}

// Client 统一客户端
type Client struct {
	cfg Config
	nc  *nats.Conn
	js  jetstream.JetStream
	log *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewClient 连接 NATS；JetStream 模式下同时确保 stream 存在
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errs.WrapMsg(err, "nats connect", "servers", cfg.Servers)
	}
	c := &Client{cfg: cfg, nc: nc, log: log}
	if cfg.Mode == JetStream {
		if err := c.ensureStream(ctx); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// Close 优雅关闭：先排空订阅再排空连接
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
	c.subs = nil
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}

func (c *Client) ensureStream(ctx context.Context) error {
	if c.cfg.Stream == "" || len(c.cfg.Subjects) == 0 {
		return errs.ErrArgs.WrapMsg("jetstream mode requires stream and subjects")
	}
	js, err := jetstream.New(c.nc)
	if err != nil {
		return errs.WrapMsg(err, "init jetstream")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       c.cfg.Stream,
		Subjects:   c.cfg.Subjects,
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure stream", "stream", c.cfg.Stream)
	}
	c.js = js
	c.log.Info("jetstream stream ready", zap.String("stream", c.cfg.Stream), zap.Strings("subjects", c.cfg.Subjects))
	return nil
}
