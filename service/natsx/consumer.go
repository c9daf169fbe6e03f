package natsx

import (
	"context"
	"fmt"

	"PPos/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Delivery 一次投递：header 只保留每个 key 的第一个值
type Delivery struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// MsgID 发布端写入的去重 id，没有则为空
func (d Delivery) MsgID() string {
	for _, k := range []string{HeaderMsgID, "nats-msg-id", "X-Msg-Id", "x-msg-id"} {
		if v, ok := d.Header[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

type Handler func(ctx context.Context, d Delivery) error

type Middleware func(Handler) Handler

// chain 第一个中间件在最外层
func chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// RecoverMiddleware handler panic 转成错误，订阅回调所在的协程不会被带崩
func RecoverMiddleware(log *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, d Delivery) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("nats handler panic", zap.String("subject", d.Subject), zap.Any("panic", r))
					err = errs.ErrInternalServer.WrapMsg(fmt.Sprint(r), "subject", d.Subject)
				}
			}()
			return next(ctx, d)
		}
	}
}

// Subscribe Core 订阅，queue 非空时同组分摊；广播则 queue 置空。
// JetStream 模式发布的消息同样会投递给 Core 订阅者。
func (c *Client) Subscribe(subject, queue string, h Handler, mws ...Middleware) error {
	h = chain(h, mws...)
	cb := func(m *nats.Msg) {
		d := Delivery{
			Subject: m.Subject,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		}
		if err := h(context.Background(), d); err != nil {
			c.log.Warn("nats handler failed", zap.String("subject", m.Subject), zap.Error(err))
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.nc.Subscribe(subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return errs.WrapMsg(err, "subscribe", "subject", subject)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)
	if err := c.nc.Flush(); err != nil {
		return errs.WrapMsg(err, "flush subscribe", "subject", subject)
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
