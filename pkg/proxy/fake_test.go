package proxy

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cachemir/asyncproxy/pkg/store"
)

// fakeBackend is an in-memory store.Dialer whose replies and failures are
// scripted per test.
type fakeBackend struct {
	mu sync.Mutex
	// handle answers the n-th command (1-based) across all connections.
	handle   func(n int, args []string) (store.Reply, error)
	failDial func(n int) bool
	calls    [][]string
	dials    int
	closes   int
}

func (b *fakeBackend) Dial(_ context.Context, _ string) (store.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if b.failDial != nil && b.failDial(b.dials) {
		return nil, errors.New("connection refused")
	}
	return &fakeConn{b: b}, nil
}

func (b *fakeBackend) commands() [][]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]string(nil), b.calls...)
}

func (b *fakeBackend) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

func (b *fakeBackend) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

type fakeConn struct {
	b *fakeBackend
}

func (c *fakeConn) Do(_ context.Context, args []string) (store.Reply, error) {
	c.b.mu.Lock()
	c.b.calls = append(c.b.calls, append([]string(nil), args...))
	n := len(c.b.calls)
	handle := c.b.handle
	c.b.mu.Unlock()

	if handle == nil {
		return store.Reply{Kind: store.KindStatus, Str: "OK"}, nil
	}
	return handle(n, args)
}

func (c *fakeConn) Close() error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.closes++
	return nil
}

// echoLast replies with the last argument as a bulk string.
func echoLast(_ int, args []string) (store.Reply, error) {
	return store.Reply{Kind: store.KindString, Str: args[len(args)-1]}, nil
}

type staticResolver []string

func (s staticResolver) Resolve(_ context.Context, _ string, _ ...func(string) bool) []string {
	return s
}

func newTestRegistry(t *testing.T, backend *fakeBackend, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{
		WithResolver(staticResolver{"127.0.0.1"}),
		WithLogger(zerolog.Nop()),
	}, opts...)
	reg := New(backend, opts...)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// drainUntil calls HandleResultCallbacks on the test goroutine until at
// least want callbacks ran.
func drainUntil(t *testing.T, reg *Registry, want int) int {
	t.Helper()
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got += reg.HandleResultCallbacks()
		if got >= want {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("drained %d callbacks, want %d", got, want)
	return got
}

// waitStats polls Stats for id until cond holds.
func waitStats(t *testing.T, reg *Registry, id int, cond func(Stats) bool) Stats {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st, ok := reg.Stats(id)
		if ok && cond(st) {
			return st
		}
		time.Sleep(time.Millisecond)
	}
	st, _ := reg.Stats(id)
	t.Fatalf("stats condition not met: %+v", st)
	return st
}

func goroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	buf = buf[:bytes.IndexByte(buf, ' ')]
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
