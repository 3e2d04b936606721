package redisstore

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemir/asyncproxy/pkg/store"
)

type fakeRedisError string

func (e fakeRedisError) Error() string { return string(e) }
func (fakeRedisError) RedisError() {}

func TestToReply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		val  interface{}
		err  error
		want store.Reply
	}{
		{"nil reply", nil, redis.Nil, store.Reply{Kind: store.KindNil}},
		{"server error", nil, fakeRedisError("WRONGTYPE bad"), store.Reply{Kind: store.KindError, Str: "WRONGTYPE bad"}},
		{"status", "OK", nil, store.Reply{Kind: store.KindString, Str: "OK"}},
		{"integer", int64(-7), nil, store.Reply{Kind: store.KindInteger, Int: -7}},
		{"array", []interface{}{"a", int64(2), nil, []interface{}{"x"}}, nil, store.Reply{Kind: store.KindArray, Elems: []store.Reply{
			{Kind: store.KindString, Str: "a"},
			{Kind: store.KindInteger, Int: 2},
			{Kind: store.KindNil},
			{Kind: store.KindArray, Elems: []store.Reply{{Kind: store.KindString, Str: "x"}}},
		}}},
		{"empty array", []interface{}{}, nil, store.Reply{Kind: store.KindArray, Elems: []store.Reply{}}},
		{"error element", []interface{}{fakeRedisError("ERR x")}, nil, store.Reply{Kind: store.KindArray, Elems: []store.Reply{
			{Kind: store.KindError, Str: "ERR x"},
		}}},
		{"double", 1.5, nil, store.Reply{Kind: store.KindString, Str: "1.5"}},
		{"bool", true, nil, store.Reply{Kind: store.KindInteger, Int: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := toReply(tt.val, tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToReplyTransportError(t *testing.T) {
	t.Parallel()

	transport := errors.New("connection reset by peer")
	_, err := toReply(nil, transport)
	assert.ErrorIs(t, err, transport)
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	opts := NewDialer(Options{Password: "pw", DB: 3, DialTimeout: time.Second, WriteTimeout: 2 * time.Second}).
		clientOptions("cache:6379")
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 2, opts.Protocol)
	assert.Equal(t, 1, opts.PoolSize)
	assert.Equal(t, -1, opts.MaxRetries)
	assert.Equal(t, time.Duration(-1), opts.ReadTimeout)
	assert.Equal(t, 2*time.Second, opts.WriteTimeout)
}

func TestDialRefused(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	_, err = NewDialer(Options{DialTimeout: time.Second}).Dial(context.Background(), addr)
	assert.ErrorContains(t, err, "failed to connect")
}
