package natsx

import (
	"context"

	"github.com/google/uuid"
)

const HeaderMsgID = "Nats-Msg-Id"

// PublishOnce 带 Nats-Msg-Id 的发布，msgID 为空则自动生成。
// JetStream 模式下服务端按 id 去重，Core 模式下由订阅端的幂等中间件去重。
func (c *Client) PublishOnce(ctx context.Context, subject string, data []byte, hdr map[string]string, msgID string) error {
	out := make(map[string]string, len(hdr)+1)
	for k, v := range hdr {
		out[k] = v
	}
	if msgID == "" {
		msgID = uuid.NewString()
	}
	out[HeaderMsgID] = msgID
	return c.Publish(ctx, subject, data, out)
}
