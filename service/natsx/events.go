package natsx

import (
	"context"
	"encoding/json"
	"time"

	"PPos/module/chat/message"
	"PPos/tools/errs"

	"github.com/google/uuid"
)

const HeaderEventType = "Event-Type"

// EventBus 把消息事件广播到空间主题 <prefix>.<space-id>.events
type EventBus struct {
	client *Client
	pub    *SyncPublisher
	prefix string
}

func NewEventBus(c *Client, prefix string, retries int, backoff time.Duration) *EventBus {
	if prefix == "" {
		prefix = "space"
	}
	return &EventBus{
		client: c,
		pub:    &SyncPublisher{Sender: c, Retries: retries, Backoff: backoff},
		prefix: prefix,
	}
}

// EventSubjects JetStream stream 需要覆盖的主题
func EventSubjects(prefix string) []string {
	return []string{prefix + ".*.events"}
}

func (b *EventBus) Subject(spaceID uuid.UUID) string {
	return b.prefix + "." + spaceID.String() + ".events"
}

func (b *EventBus) Publish(ctx context.Context, spaceID uuid.UUID, ev message.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal event", "type", ev.Type)
	}
	// 一次事件一个 id，重试不换
	return b.pub.PublishOnce(ctx, b.Subject(spaceID), data, map[string]string{HeaderEventType: ev.Type}, uuid.NewString())
}

// SubscribeSpace 订阅某个空间的事件，重复投递按 msg id 丢弃
func (b *EventBus) SubscribeSpace(ctx context.Context, spaceID uuid.UUID, h func(context.Context, message.Event) error) error {
	idem := NewMemIdem(ctx, 5*time.Minute, b.client.log)
	return b.client.Subscribe(b.Subject(spaceID), "", func(ctx context.Context, d Delivery) error {
		var ev message.Event
		if err := json.Unmarshal(d.Data, &ev); err != nil {
			return errs.WrapMsg(err, "decode event", "subject", d.Subject)
		}
		return h(ctx, ev)
	}, RecoverMiddleware(b.client.log), IdemMiddleware(idem, 0))
}

var _ message.Publisher = (*EventBus)(nil)
