// Package redisstore is a store.Dialer backed by go-redis.
//
// Every Conn wraps a go-redis client pinned to one pooled connection with
// client-side retries disabled, so it behaves like a single session: the
// proxy worker owns the reconnect-and-retry policy.
//
//	dialer := redisstore.NewDialer(redisstore.Options{
//		Password:    os.Getenv("REDIS_PASSWORD"),
//		DialTimeout: 5 * time.Second,
//	})
//	reg := proxy.New(dialer)
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cachemir/asyncproxy/pkg/store"
)

// Options configures connections opened by the Dialer. Zero read and write
// timeouts mean no deadline.
type Options struct {
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dialer opens Redis sessions.
type Dialer struct {
	opts Options
}

// NewDialer returns a Dialer using opts.
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

// clientOptions maps Options onto go-redis settings. go-redis treats a zero
// timeout as "use the default", so zero is translated to -1 (no deadline).
func (d *Dialer) clientOptions(addr string) *redis.Options {
	noZero := func(t time.Duration) time.Duration {
		if t == 0 {
			return -1
		}
		return t
	}
	return &redis.Options{
		Addr:         addr,
		Password:     d.opts.Password,
		DB:           d.opts.DB,
		Protocol:     2,
		DialTimeout:  d.opts.DialTimeout,
		ReadTimeout:  noZero(d.opts.ReadTimeout),
		WriteTimeout: noZero(d.opts.WriteTimeout),
		PoolSize:     1,
		MaxRetries:   -1,
	}
}

// Dial connects to addr and verifies the session with PING.
func (d *Dialer) Dial(ctx context.Context, addr string) (store.Conn, error) {
	client := redis.NewClient(d.clientOptions(addr))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Conn{client: client}, nil
}

// Conn is one Redis session.
type Conn struct {
	client *redis.Client
}

// Do sends args as one command. Replies the server marks as errors come back
// as KindError replies; only transport failures are returned as errors.
func (c *Conn) Do(ctx context.Context, args []string) (store.Reply, error) {
	cmdArgs := make([]interface{}, len(args))
	for i, arg := range args {
		cmdArgs[i] = arg
	}
	return toReply(c.client.Do(ctx, cmdArgs...).Result())
}

// Close closes the session.
func (c *Conn) Close() error {
	return c.client.Close()
}

func toReply(val interface{}, err error) (store.Reply, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return store.Reply{Kind: store.KindNil}, nil
		}
		var redisErr redis.Error
		if errors.As(err, &redisErr) {
			return store.Reply{Kind: store.KindError, Str: redisErr.Error()}, nil
		}
		return store.Reply{}, err
	}
	return convert(val), nil
}

// convert maps a decoded RESP2 value. go-redis returns status and bulk
// strings alike as string, so both become KindString.
func convert(val interface{}) store.Reply {
	switch v := val.(type) {
	case nil:
		return store.Reply{Kind: store.KindNil}
	case string:
		return store.Reply{Kind: store.KindString, Str: v}
	case int64:
		return store.Reply{Kind: store.KindInteger, Int: v}
	case []interface{}:
		elems := make([]store.Reply, len(v))
		for i, item := range v {
			elems[i] = convert(item)
		}
		return store.Reply{Kind: store.KindArray, Elems: elems}
	case error:
		return store.Reply{Kind: store.KindError, Str: v.Error()}
	case float64:
		return store.Reply{Kind: store.KindString, Str: strconv.FormatFloat(v, 'f', -1, 64)}
	case bool:
		if v {
			return store.Reply{Kind: store.KindInteger, Int: 1}
		}
		return store.Reply{Kind: store.KindInteger, Int: 0}
	}
	return store.Reply{Kind: store.KindString, Str: fmt.Sprint(val)}
}
