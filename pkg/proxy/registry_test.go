package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachemir/asyncproxy/pkg/store"
)

func TestCallbacksArriveInSubmissionOrder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
	reg.RunAll()

	const n = 200
	var got []string
	for i := 0; i < n; i++ {
		reg.SendCommand(0, func(ok bool, values []string) {
			assert.True(t, ok)
			got = append(got, values...)
		}, "GET", fmt.Sprintf("key:%03d", i))
	}

	assert.Equal(t, n, drainUntil(t, reg, n))
	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, fmt.Sprintf("key:%03d", i), v)
	}
}

func TestFireAndForgetNeverCallsBack(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{handle: echoLast}
		reg := newTestRegistry(t, backend)
		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
		reg.Run(0)

		reg.FireCommand(0, "INCR", "hits")
		reg.FireCommandf(0, "SET greeting %s", "hello")

		waitStats(t, reg, 0, func(st Stats) bool { return st.Executed == 2 })
		assert.Zero(t, reg.HandleResultCallbacks())
		assert.Equal(t, [][]string{{"INCR", "hits"}, {"SET", "greeting", "hello"}}, backend.commands())
	})

	t.Run("error reply", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{handle: func(int, []string) (store.Reply, error) {
			return store.Reply{Kind: store.KindError, Str: "ERR unknown command"}, nil
		}}
		reg := newTestRegistry(t, backend)
		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
		reg.Run(0)

		reg.FireCommand(0, "BOGUS")

		waitStats(t, reg, 0, func(st Stats) bool { return st.Executed == 1 })
		assert.Zero(t, reg.HandleResultCallbacks())
	})

	t.Run("nil callback", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{}
		reg := newTestRegistry(t, backend)
		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
		reg.Run(0)

		reg.SendCommand(0, nil, "PING")

		waitStats(t, reg, 0, func(st Stats) bool { return st.Executed == 1 })
		assert.Zero(t, reg.HandleResultCallbacks())
	})
}

func TestReconnectAndRetry(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: func(n int, args []string) (store.Reply, error) {
		if n == 1 {
			return store.Reply{}, errors.New("broken pipe")
		}
		return store.Reply{Kind: store.KindInteger, Int: 42}, nil
	}}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
	reg.Run(0)

	var values []string
	reg.SendCommand(0, func(ok bool, v []string) {
		assert.True(t, ok)
		values = v
	}, "INCR", "hits")

	drainUntil(t, reg, 1)
	assert.Equal(t, []string{"42"}, values)

	st, ok := reg.Stats(0)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.Reconnects)
	assert.EqualValues(t, 1, st.Executed)
	assert.Zero(t, st.Dropped)
	assert.Equal(t, 2, backend.dialCount())
	assert.Equal(t, 1, backend.closeCount())
	assert.Equal(t, [][]string{{"INCR", "hits"}, {"INCR", "hits"}}, backend.commands())
}

func TestDropAfterFailedRetryIsSilent(t *testing.T) {
	t.Parallel()

	t.Run("retry fails", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{handle: func(n int, args []string) (store.Reply, error) {
			if n <= 2 {
				return store.Reply{}, errors.New("connection reset by peer")
			}
			return store.Reply{Kind: store.KindStatus, Str: "OK"}, nil
		}}
		reg := newTestRegistry(t, backend)
		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
		reg.Run(0)

		called := false
		reg.SendCommand(0, func(bool, []string) { called = true }, "SET", "k", "v")

		st := waitStats(t, reg, 0, func(st Stats) bool { return st.Dropped == 1 })
		assert.EqualValues(t, 1, st.Reconnects)
		assert.Zero(t, reg.HandleResultCallbacks())
		assert.False(t, called)

		// The instance keeps serving after a drop.
		reg.SendCommand(0, func(ok bool, v []string) {
			called = true
			assert.Equal(t, []string{"OK"}, v)
		}, "SET", "k", "v")
		drainUntil(t, reg, 1)
		assert.True(t, called)
	})

	t.Run("reconnect fails", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{
			handle: func(int, []string) (store.Reply, error) {
				return store.Reply{}, errors.New("i/o timeout")
			},
			failDial: func(n int) bool { return n > 1 },
		}
		reg := newTestRegistry(t, backend)
		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
		reg.Run(0)

		reg.SendCommand(0, func(bool, []string) { t.Error("callback must not run") }, "GET", "k")
		reg.SendCommand(0, func(bool, []string) { t.Error("callback must not run") }, "GET", "k")

		st := waitStats(t, reg, 0, func(st Stats) bool { return st.Dropped == 2 })
		assert.Zero(t, st.Reconnects)
		assert.Zero(t, reg.HandleResultCallbacks())
		// The second command found no connection and went straight to reconnect.
		assert.Len(t, backend.commands(), 1)
		assert.Equal(t, 3, backend.dialCount())
	})
}

func TestEndToEndDecoding(t *testing.T) {
	t.Parallel()

	replies := map[string]store.Reply{
		"PING":   {Kind: store.KindStatus, Str: "PONG"},
		"INCR":   {Kind: store.KindInteger, Int: 42},
		"LRANGE": {Kind: store.KindArray, Elems: []store.Reply{{Kind: store.KindString, Str: "a"}, {Kind: store.KindString, Str: "b"}}},
		"LPUSH":  {Kind: store.KindError, Str: "WRONGTYPE Operation against a key holding the wrong kind of value"},
		"GET":    {Kind: store.KindNil},
	}
	backend := &fakeBackend{handle: func(_ int, args []string) (store.Reply, error) {
		return replies[args[0]], nil
	}}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
	reg.Run(0)

	type outcome struct {
		ok     bool
		values []string
	}
	got := map[string]outcome{}
	record := func(name string) Callback {
		return func(ok bool, values []string) { got[name] = outcome{ok, values} }
	}

	reg.SendCommand(0, record("PING"), "PING")
	reg.SendCommand(0, record("INCR"), "INCR", "n")
	reg.SendCommand(0, record("LRANGE"), "LRANGE", "l", "0", "-1")
	reg.SendCommand(0, record("LPUSH"), "LPUSH", "s", "x")
	reg.SendCommand(0, record("GET"), "GET", "missing")
	drainUntil(t, reg, 5)

	assert.Equal(t, outcome{true, []string{"PONG"}}, got["PING"])
	assert.Equal(t, outcome{true, []string{"42"}}, got["INCR"])
	assert.Equal(t, outcome{true, []string{"a", "b"}}, got["LRANGE"])
	assert.Equal(t, outcome{false, []string{"WRONGTYPE Operation against a key holding the wrong kind of value"}}, got["LPUSH"])
	assert.Equal(t, outcome{true, []string{}}, got["GET"])
}

func TestUnboundInstanceIsNoop(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 2, "cache.internal", 6379))

	for _, id := range []int{-1, 0, 1, 7} {
		reg.Run(id)
		reg.SendCommand(id, func(bool, []string) { t.Error("unexpected callback") }, "PING")
		reg.SendCommandf(id, nil, "SET k %d", id)
		reg.FireCommand(id, "PING")
		reg.FireCommandf(id, "PING")
		reg.Stop(id)
		_, ok := reg.Stats(id)
		assert.False(t, ok, "instance %d", id)
	}

	assert.Zero(t, reg.HandleResultCallbacks())
	assert.Empty(t, backend.commands())
}

func TestRunAndStopAreIdempotent(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))

	w := reg.instance(0)
	reg.Run(0)
	done := w.doneCh
	reg.Run(0)
	reg.RunAll()
	assert.Equal(t, done, w.doneCh, "second run must not start another loop")

	stopped := make(chan struct{})
	go func() {
		reg.Stop(0)
		reg.Stop(0)
		reg.StopAll()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop deadlocked")
	}

	select {
	case <-done:
	default:
		t.Fatal("loop still running after stop")
	}
}

func TestStopKeepsQueuedRequests(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))

	var got []string
	cb := func(_ bool, v []string) { got = append(got, v...) }

	reg.SendCommand(0, cb, "GET", "a")
	reg.SendCommand(0, cb, "GET", "b")
	st, _ := reg.Stats(0)
	assert.Equal(t, 2, st.PendingRequests)
	assert.Empty(t, backend.commands(), "nothing executes before Run")

	reg.Run(0)
	drainUntil(t, reg, 2)
	reg.Stop(0)

	reg.SendCommand(0, cb, "GET", "c")
	time.Sleep(20 * time.Millisecond)
	st, _ = reg.Stats(0)
	assert.Equal(t, 1, st.PendingRequests)

	reg.Run(0)
	drainUntil(t, reg, 1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestCallbacksRunOnDrainingGoroutine(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	for id := 0; id < 3; id++ {
		require.NoError(t, reg.Init(context.Background(), id, "cache.internal", 6379))
	}
	reg.RunAll()

	var wg sync.WaitGroup
	for id := 0; id < 3; id++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				reg.SendCommand(id, func(bool, []string) {}, "GET", "k")
			}
		}()
	}
	wg.Wait()

	var invoked atomic.Int32
	self := goroutineID()
	for id := 0; id < 3; id++ {
		reg.SendCommand(id, func(bool, []string) {
			invoked.Add(1)
			assert.Equal(t, self, goroutineID(), "callback ran off the draining goroutine")
		}, "PING")
	}

	for id := 0; id < 3; id++ {
		waitStats(t, reg, id, func(st Stats) bool { return st.Executed == 51 })
	}
	assert.Zero(t, invoked.Load(), "callbacks must wait for a drain")

	assert.Equal(t, 153, drainUntil(t, reg, 153))
	assert.EqualValues(t, 3, invoked.Load())
}

func TestInit(t *testing.T) {
	t.Parallel()

	t.Run("bind once", func(t *testing.T) {
		t.Parallel()
		reg := newTestRegistry(t, &fakeBackend{})
		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
		err := reg.Init(context.Background(), 0, "cache.internal", 6380)
		assert.ErrorIs(t, err, ErrInstanceBound)
	})

	t.Run("lazy growth", func(t *testing.T) {
		t.Parallel()
		reg := newTestRegistry(t, &fakeBackend{})
		require.NoError(t, reg.Init(context.Background(), 5, "cache.internal", 6379))
		_, ok := reg.Stats(5)
		assert.True(t, ok)
		for id := 0; id < 5; id++ {
			_, ok := reg.Stats(id)
			assert.False(t, ok)
		}
		require.NoError(t, reg.Init(context.Background(), 3, "cache.internal", 6379))
	})

	t.Run("negative id", func(t *testing.T) {
		t.Parallel()
		reg := newTestRegistry(t, &fakeBackend{})
		assert.ErrorIs(t, reg.Init(context.Background(), -1, "cache.internal", 6379), ErrInvalidInstance)
	})

	t.Run("connect failure leaves slot free", func(t *testing.T) {
		t.Parallel()
		backend := &fakeBackend{failDial: func(n int) bool { return n == 1 }}
		reg := newTestRegistry(t, backend)

		err := reg.Init(context.Background(), 0, "cache.internal", 6379)
		assert.ErrorIs(t, err, store.ErrConnectFailed)
		_, ok := reg.Stats(0)
		assert.False(t, ok)

		require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
	})

	t.Run("unresolvable host", func(t *testing.T) {
		t.Parallel()
		reg := newTestRegistry(t, &fakeBackend{}, WithResolver(staticResolver{}))
		assert.ErrorIs(t, reg.Init(context.Background(), 0, "nowhere.invalid", 6379), store.ErrNoAddresses)
	})
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
	require.NoError(t, reg.Init(context.Background(), 1, "cache.internal", 6379))
	reg.RunAll()

	require.NoError(t, reg.Close())
	assert.Equal(t, 2, backend.closeCount())
	assert.ErrorIs(t, reg.Init(context.Background(), 2, "cache.internal", 6379), ErrClosed)

	reg.SendCommand(0, func(bool, []string) { t.Error("unexpected callback") }, "PING")
	reg.RunAll()
	assert.Zero(t, reg.HandleResultCallbacks())
	require.NoError(t, reg.Close())
}

func TestRunAfterCloseDoesNotRestartWorker(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))

	// A Run that looked up the worker just before Close still reaches it.
	w := reg.instance(0)
	require.NotNil(t, w)
	require.NoError(t, reg.Close())

	w.enqueue(Request{Args: []string{"PING"}})
	w.run()

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	assert.False(t, running)
	assert.Nil(t, w.doneCh)
	assert.Empty(t, backend.commands())
	assert.Equal(t, 1, backend.closeCount())
	assert.Equal(t, 1, backend.dialCount())
}

func TestPanickingCallbackKeepsLaterResults(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend)
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))

	var got []string
	reg.SendCommand(0, func(bool, []string) { panic("callback failed") }, "GET", "a")
	for _, key := range []string{"b", "c"} {
		reg.SendCommand(0, func(_ bool, values []string) { got = append(got, values...) }, "GET", key)
	}
	reg.Run(0)
	waitStats(t, reg, 0, func(st Stats) bool { return st.PendingResults == 3 })

	assert.Panics(t, func() { reg.HandleResultCallbacks() })
	st, ok := reg.Stats(0)
	require.True(t, ok)
	assert.Equal(t, 2, st.PendingResults)

	assert.Equal(t, 2, reg.HandleResultCallbacks())
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestPumpDrainsOnEveryTick(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	backend := &fakeBackend{handle: echoLast}
	reg := newTestRegistry(t, backend, WithClock(clock))
	require.NoError(t, reg.Init(context.Background(), 0, "cache.internal", 6379))
	reg.RunAll()

	ctx, cancel := context.WithCancel(context.Background())
	pumpErr := make(chan error, 1)
	go func() { pumpErr <- reg.Pump(ctx, 10*time.Millisecond) }()
	clock.BlockUntil(1)

	var invoked atomic.Int32
	reg.SendCommand(0, func(bool, []string) { invoked.Add(1) }, "GET", "k")
	waitStats(t, reg, 0, func(st Stats) bool { return st.Executed == 1 && st.PendingResults == 1 })
	assert.Zero(t, invoked.Load())

	deadline := time.Now().Add(2 * time.Second)
	for invoked.Load() == 0 && time.Now().Before(deadline) {
		clock.Advance(10 * time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	assert.EqualValues(t, 1, invoked.Load())

	cancel()
	select {
	case err := <-pumpErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not return after cancel")
	}
}
