package natsx

import (
	"context"

	"PPos/tools/errs"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

func newMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

func (c *Client) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(newMsg(subject, data, hdr)); err != nil {
		return errs.WrapMsg(err, "publish failed", "subject", subject)
	}
	return nil
}

func (c *Client) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	var opts []jetstream.PublishOpt
	if id := (Delivery{Header: hdr}).MsgID(); id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}
	ack, err := c.js.PublishMsg(ctx, newMsg(subject, data, hdr), opts...)
	if err != nil {
		return errs.WrapMsg(err, "publish failed", "subject", subject)
	}
	if ack.Duplicate {
		c.log.Debug("duplicate publish dropped by stream", zap.String("subject", subject))
	}
	return nil
}

// Publish 按模式发送
func (c *Client) Publish(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if c.cfg.Mode == JetStream {
		return c.sendJS(ctx, subject, data, hdr)
	}
	return c.sendCore(subject, data, hdr)
}
