package natsx

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"PPos/module/chat/message"
	chatmodel "PPos/module/chat/model"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  filepath.Join(t.TempDir(), "jetstream"),
		NoLog:     true,
		NoSigs:    true,
	}
	ns, err := server.NewServer(opts)
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func newClient(t *testing.T, ns *server.Server, mode Mode) *Client {
	t.Helper()
	cfg := Config{Servers: []string{ns.ClientURL()}, Name: "test", Mode: mode}
	if mode == JetStream {
		cfg.Stream = "EVENTS"
		cfg.Subjects = EventSubjects("space")
	}
	c, err := NewClient(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type collector struct {
	mu     sync.Mutex
	events []message.Event
}

func (c *collector) handle(_ context.Context, ev message.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestNewClientRequiresServers(t *testing.T) {
	_, err := NewClient(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestEventBusSubject(t *testing.T) {
	b := NewEventBus(nil, "", 0, 0)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	assert.Equal(t, "space.6ba7b810-9dad-11d1-80b4-00c04fd430c8.events", b.Subject(id))
	assert.Equal(t, []string{"space.*.events"}, EventSubjects("space"))
}

func testEventRoundTrip(t *testing.T, mode Mode) {
	ns := startEmbeddedNATS(t)
	c := newClient(t, ns, mode)
	bus := NewEventBus(c, "space", 1, 10*time.Millisecond)

	space := uuid.New()
	got := &collector{}
	require.NoError(t, bus.SubscribeSpace(context.Background(), space, got.handle))

	other := &collector{}
	require.NoError(t, bus.SubscribeSpace(context.Background(), uuid.New(), other.handle))

	m := &chatmodel.Message{ID: uuid.New(), ChannelID: uuid.New(), Pos: 12.5}
	require.NoError(t, bus.Publish(context.Background(), space, message.Event{
		Type:      message.EventMessageEdited,
		ChannelID: m.ChannelID,
		Message:   m,
	}))

	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	got.mu.Lock()
	ev := got.events[0]
	got.mu.Unlock()
	assert.Equal(t, message.EventMessageEdited, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, 12.5, ev.Message.Pos)
	assert.Equal(t, m.ID, ev.Message.ID)
	assert.Zero(t, other.len())
}

func TestEventRoundTripCore(t *testing.T) {
	testEventRoundTrip(t, Core)
}

func TestEventRoundTripJetStream(t *testing.T) {
	testEventRoundTrip(t, JetStream)
}

func TestJetStreamRequiresStream(t *testing.T) {
	ns := startEmbeddedNATS(t)
	_, err := NewClient(context.Background(), Config{Servers: []string{ns.ClientURL()}, Mode: JetStream}, nil)
	assert.Error(t, err)
}

func TestIdemMiddlewareDropsDuplicates(t *testing.T) {
	ns := startEmbeddedNATS(t)
	c := newClient(t, ns, Core)

	var (
		mu    sync.Mutex
		count int
	)
	idem := NewMemIdem(context.Background(), time.Minute, zap.NewNop())
	require.NoError(t, c.Subscribe("dup.test", "", func(context.Context, Delivery) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, IdemMiddleware(idem, 0)))

	ctx := context.Background()
	require.NoError(t, c.PublishOnce(ctx, "dup.test", []byte("a"), nil, "same"))
	require.NoError(t, c.PublishOnce(ctx, "dup.test", []byte("a"), nil, "same"))
	require.NoError(t, c.PublishOnce(ctx, "dup.test", []byte("b"), nil, "other"))
	require.NoError(t, c.Conn().Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, count)
	mu.Unlock()
}

func TestMemIdemExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	mi := &memIdem{m: map[string]time.Time{}, ttl: time.Second, now: func() time.Time { return now }}

	seen, _ := mi.SeenOnce("k", 0)
	assert.False(t, seen)
	seen, _ = mi.SeenOnce("k", 0)
	assert.True(t, seen)

	now = now.Add(2 * time.Second)
	mi.sweep()
	assert.Empty(t, mi.m)
	seen, _ = mi.SeenOnce("k", 0)
	assert.False(t, seen)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, d Delivery) error {
				order = append(order, name)
				return next(ctx, d)
			}
		}
	}
	h := chain(func(context.Context, Delivery) error {
		order = append(order, "handler")
		return nil
	}, mw("outer"), mw("inner"))
	require.NoError(t, h(context.Background(), Delivery{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

// flakySender 前 failures 次返回错误，记录每次收到的 msg id
type flakySender struct {
	mu       sync.Mutex
	failures int
	ids      []string
}

func (f *flakySender) PublishOnce(_ context.Context, _ string, _ []byte, _ map[string]string, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, msgID)
	if len(f.ids) <= f.failures {
		return errors.New("nats: timeout")
	}
	return nil
}

func TestSyncPublisherKeepsMsgIDAcrossRetries(t *testing.T) {
	sender := &flakySender{failures: 2}
	sp := &SyncPublisher{Sender: sender, Retries: 3, Backoff: time.Millisecond}

	require.NoError(t, sp.PublishOnce(context.Background(), "space.x.events", []byte("{}"), nil, ""))
	require.Len(t, sender.ids, 3)
	assert.NotEmpty(t, sender.ids[0])
	assert.Equal(t, sender.ids[0], sender.ids[1])
	assert.Equal(t, sender.ids[0], sender.ids[2])
}

func TestSyncPublisherGivesUp(t *testing.T) {
	sender := &flakySender{failures: 10}
	sp := &SyncPublisher{Sender: sender, Retries: 1, Backoff: time.Millisecond}

	err := sp.PublishOnce(context.Background(), "s", nil, nil, "fixed")
	assert.Error(t, err)
	assert.Equal(t, []string{"fixed", "fixed"}, sender.ids)
}

func TestRetriedEventIsDeliveredOnce(t *testing.T) {
	ns := startEmbeddedNATS(t)
	c := newClient(t, ns, Core)
	bus := NewEventBus(c, "space", 0, 0)
	space := uuid.New()
	got := &collector{}
	require.NoError(t, bus.SubscribeSpace(context.Background(), space, got.handle))

	// 第一次其实已经送达但调用方没收到确认，重试用同一个 id
	sp := &SyncPublisher{Sender: c, Retries: 0}
	for i := 0; i < 2; i++ {
		require.NoError(t, sp.PublishOnce(context.Background(), bus.Subject(space), []byte(`{"type":"NEW_MESSAGE"}`), nil, "evt-1"))
	}
	require.NoError(t, c.Conn().Flush())

	require.Eventually(t, func() bool { return got.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.len())
}

func TestRecoverMiddleware(t *testing.T) {
	h := chain(func(context.Context, Delivery) error {
		panic("boom")
	}, RecoverMiddleware(zap.NewNop()))
	err := h(context.Background(), Delivery{Subject: "s"})
	assert.Error(t, err)
}

func TestDeliveryMsgID(t *testing.T) {
	assert.Equal(t, "a", Delivery{Header: map[string]string{HeaderMsgID: "a"}}.MsgID())
	assert.Equal(t, "b", Delivery{Header: map[string]string{"x-msg-id": "b"}}.MsgID())
	assert.Empty(t, Delivery{}.MsgID())
}
