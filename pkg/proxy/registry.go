// Package proxy implements the asynchronous command proxy: a Registry of
// independent instances, each owning one store connection, a request queue,
// a response queue and a worker goroutine that executes commands serially.
//
// Callers enqueue commands from any goroutine without blocking. Results come
// back only through HandleResultCallbacks (or Pump), so callbacks always run
// on a goroutine the caller controls, never on a worker.
//
// Basic usage:
//
//	reg := proxy.New(redisstore.NewDialer(redisstore.Options{}))
//	defer reg.Close()
//
//	if err := reg.Init(ctx, 0, "localhost", 6379); err != nil {
//		log.Fatal(err)
//	}
//	reg.RunAll()
//
//	reg.SendCommand(0, func(ok bool, values []string) {
//		fmt.Println(ok, values)
//	}, "HGET", "user:1", "name")
//	reg.FireCommand(0, "INCR", "hits")
//
//	for {
//		reg.HandleResultCallbacks()
//		time.Sleep(10 * time.Millisecond)
//	}
//
// A command whose execution fails triggers one reconnect and one retry. If
// that also fails the command is dropped: its callback is never invoked.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cachemir/asyncproxy/internal/logging"
	"github.com/cachemir/asyncproxy/pkg/resolver"
	"github.com/cachemir/asyncproxy/pkg/store"
)

var (
	// ErrInvalidInstance is returned by Init for a negative instance id.
	ErrInvalidInstance = errors.New("proxy: invalid instance id")
	// ErrInstanceBound is returned by Init when the id is already bound.
	ErrInstanceBound = errors.New("proxy: instance already bound")
	// ErrClosed is returned by Init after Close.
	ErrClosed = errors.New("proxy: registry closed")

	errNotConnected = errors.New("proxy: no store connection")
)

// Registry holds the bound instances, indexed by id.
type Registry struct {
	dialer   store.Dialer
	resolver store.AddrResolver
	logger   zerolog.Logger
	clock    clockwork.Clock

	mu        sync.RWMutex
	instances []*worker // nil entries are unbound slots
	closed    bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithResolver overrides the hostname resolver used for (re)connects.
func WithResolver(r store.AddrResolver) Option {
	return func(reg *Registry) { reg.resolver = r }
}

// WithLogger sets the logger for the registry and its workers.
func WithLogger(logger zerolog.Logger) Option {
	return func(reg *Registry) { reg.logger = logger }
}

// WithClock sets the clock driving Pump.
func WithClock(clock clockwork.Clock) Option {
	return func(reg *Registry) { reg.clock = clock }
}

// New creates an empty Registry whose instances connect through dialer.
func New(dialer store.Dialer, opts ...Option) *Registry {
	reg := &Registry{
		dialer: dialer,
		logger: logging.Log,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.resolver == nil {
		reg.resolver = resolver.New(nil, reg.logger)
	}
	return reg
}

// Init binds id to a new instance connected to host:port. An id can be bound
// only once; a failed Init leaves the slot unbound.
func (r *Registry) Init(ctx context.Context, id int, host string, port int) error {
	if id < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidInstance, id)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.grow(id)
	bound := r.instances[id] != nil
	r.mu.Unlock()
	if bound {
		return fmt.Errorf("%w: %d", ErrInstanceBound, id)
	}

	connector := &store.Connector{
		Resolver: r.resolver,
		Dialer:   r.dialer,
		Logger:   r.logger,
	}
	w := newWorker(id, host, port, connector, r.logger)
	if err := w.connect(ctx); err != nil {
		return fmt.Errorf("instance %d: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.instances[id] != nil {
		w.release()
		if r.closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: %d", ErrInstanceBound, id)
	}
	r.instances[id] = w
	r.logger.Info().Int("instance", id).Str("host", host).Int("port", port).Msg("instance bound")
	return nil
}

// grow extends the index space to fit id. Caller holds r.mu.
func (r *Registry) grow(id int) {
	if id < len(r.instances) {
		return
	}
	grown := make([]*worker, id+1)
	copy(grown, r.instances)
	r.instances = grown
}

func (r *Registry) instance(id int) *worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed || id < 0 || id >= len(r.instances) {
		return nil
	}
	return r.instances[id]
}

func (r *Registry) bound() []*worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil
	}
	return r.boundLocked()
}

func (r *Registry) boundLocked() []*worker {
	out := make([]*worker, 0, len(r.instances))
	for _, w := range r.instances {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}

// Run starts the worker of instance id. Unbound ids are ignored.
func (r *Registry) Run(id int) {
	if w := r.instance(id); w != nil {
		w.run()
	}
}

// RunAll starts every bound instance.
func (r *Registry) RunAll() {
	for _, w := range r.bound() {
		w.run()
	}
}

// Stop stops instance id and waits for its worker to exit. Queued requests
// are kept and execute if the instance is run again.
func (r *Registry) Stop(id int) {
	if w := r.instance(id); w != nil {
		w.stop()
	}
}

// StopAll stops every bound instance and waits for all of them.
func (r *Registry) StopAll() {
	stopAll(r.bound())
}

func stopAll(workers []*worker) {
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			w.stop()
			return nil
		})
	}
	_ = g.Wait()
}

// SendCommand queues name with args on instance id; cb receives the result
// during a later HandleResultCallbacks. Unbound ids are ignored.
func (r *Registry) SendCommand(id int, cb Callback, name string, args ...string) {
	tokens := make([]string, 0, len(args)+1)
	tokens = append(tokens, name)
	tokens = append(tokens, args...)
	r.send(id, Request{Args: tokens, Callback: cb})
}

// SendCommandf queues a command line built from format, split on whitespace
// at execution time.
func (r *Registry) SendCommandf(id int, cb Callback, format string, a ...interface{}) {
	r.send(id, Request{Args: []string{fmt.Sprintf(format, a...)}, Callback: cb})
}

// FireCommand queues a command without completion interest.
func (r *Registry) FireCommand(id int, name string, args ...string) {
	r.SendCommand(id, nil, name, args...)
}

// FireCommandf is the formatted form of FireCommand.
func (r *Registry) FireCommandf(id int, format string, a ...interface{}) {
	r.SendCommandf(id, nil, format, a...)
}

func (r *Registry) send(id int, req Request) {
	w := r.instance(id)
	if w == nil {
		return
	}
	if len(req.argv()) == 0 {
		w.logger.Debug().Msg("empty command ignored")
		return
	}
	w.enqueue(req)
}

// HandleResultCallbacks drains every instance's results, invoking callbacks
// on the calling goroutine in per-instance FIFO order. It returns the number
// of callbacks invoked. Call it regularly or results accumulate.
func (r *Registry) HandleResultCallbacks() int {
	n := 0
	for _, w := range r.bound() {
		n += w.drain()
	}
	return n
}

// Pump calls HandleResultCallbacks every interval until ctx is done, and
// returns ctx.Err(). Callbacks run on the goroutine calling Pump.
func (r *Registry) Pump(ctx context.Context, interval time.Duration) error {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			r.HandleResultCallbacks()
		}
	}
}

// Stats reports counters for instance id; false if the id is unbound.
func (r *Registry) Stats(id int) (Stats, bool) {
	w := r.instance(id)
	if w == nil {
		return Stats{}, false
	}
	return w.stats(), true
}

// Close stops every instance and releases its connection. Afterwards Init
// fails with ErrClosed and every other call is a no-op.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	workers := r.boundLocked()
	r.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			w.shutdown()
			return nil
		})
	}
	_ = g.Wait()
	return nil
}
