package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"PPos/tools/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConn(t *testing.T) (*Conn, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestGetAbsentIsNotError(t *testing.T) {
	c, _ := newTestConn(t)
	ctx := context.Background()

	b, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, b)

	n, ok, err := c.GetInt(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, n)
}

func TestSetGetRemove(t *testing.T) {
	c, mr := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), b)
	assert.Zero(t, mr.TTL("k"))

	require.NoError(t, c.Remove(ctx, "k"))
	require.NoError(t, c.Remove(ctx, "k"), "removing an absent key succeeds")
	assert.False(t, mr.Exists("k"))
}

func TestSetWithExpiration(t *testing.T) {
	c, mr := newTestConn(t)
	ctx := context.Background()

	require.NoError(t, c.SetWithExpiration(ctx, "k", 7, 5))
	assert.Equal(t, 5*time.Second, mr.TTL("k"))

	mr.FastForward(6 * time.Second)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	err = c.SetWithExpiration(ctx, "k", 7, 0)
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestIncrAndSetNX(t *testing.T) {
	c, _ := newTestConn(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "n", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.SetNX(ctx, "n", 100)
	require.NoError(t, err)
	assert.False(t, ok, "second SETNX must not take effect")

	v, err := c.Incr(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, int64(6), v)

	n, ok, err := c.GetInt(ctx, "n")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(6), n)
}

func TestSetNXWithExpiration(t *testing.T) {
	c, mr := newTestConn(t)
	ctx := context.Background()

	ok, err := c.SetNXWithExpiration(ctx, "p", 3, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL("p"))

	ok, err = c.SetNXWithExpiration(ctx, "p", 9, 10)
	require.NoError(t, err)
	assert.False(t, ok)
	v, err := mr.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	_, err = c.SetNXWithExpiration(ctx, "p", 9, 0)
	assert.True(t, errors.Is(err, errs.ErrArgs))
}

func TestDecodeFailure(t *testing.T) {
	c, mr := newTestConn(t)
	require.NoError(t, mr.Set("n", "not-a-number"))

	_, _, err := c.GetInt(context.Background(), "n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.True(t, errors.Is(err, ErrCache))
}

func TestTransportFailure(t *testing.T) {
	c, mr := newTestConn(t)
	mr.Close()

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCache))
	assert.False(t, errors.Is(err, ErrDecode))

	var ce *CacheError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "get", ce.Op)
}

func TestOpen(t *testing.T) {
	mr := miniredis.RunT(t)

	c, err := Open(context.Background(), Config{URL: "redis://" + mr.Addr() + "/0", PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Set(context.Background(), "k", "v"))

	_, err = Open(context.Background(), Config{URL: "://bad"})
	assert.Error(t, err)
}

func TestMakeKey(t *testing.T) {
	id := uuid.MustParse("6F9619FF-8B86-D011-B42D-00C04FC964FF")
	assert.Equal(t, "user:6f9619ff-8b86-d011-b42d-00c04fc964ff:profile", MakeKey("user", id, "profile"))
}
