package natsx

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// OncePublisher 带去重 id 的单次发布，*Client 实现
type OncePublisher interface {
	PublishOnce(ctx context.Context, subject string, payload []byte, hdr map[string]string, msgID string) error
}

// SyncPublisher 同步发布（带重试）。msgID 为空时在第一次尝试前生成，
// 之后每次重试都用同一个，服务端或订阅端据此丢弃重复投递。
type SyncPublisher struct {
	Sender  OncePublisher
	Retries int
	Backoff time.Duration
}

func (sp *SyncPublisher) PublishOnce(ctx context.Context, subject string, payload []byte, hdr map[string]string, msgID string) error {
	if msgID == "" {
		msgID = uuid.NewString()
	}
	var err error
	for i := 0; i <= sp.Retries; i++ {
		err = sp.Sender.PublishOnce(ctx, subject, payload, hdr, msgID)
		if err == nil {
			return nil
		}
		if i == sp.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sp.Backoff):
		}
	}
	return err
}

var _ OncePublisher = (*Client)(nil)
