package proxy

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cachemir/asyncproxy/pkg/store"
)

// Stats is a snapshot of one instance's counters.
type Stats struct {
	PendingRequests int    // queued, not yet executed
	PendingResults  int    // executed, callback not yet invoked
	Executed        uint64 // requests that obtained a reply
	Dropped         uint64 // requests lost after the reconnect-and-retry failed
	Reconnects      uint64 // successful reconnects
}

// worker owns one store connection and the goroutine that feeds it.
type worker struct {
	id        int
	host      string
	port      int
	connector *store.Connector
	logger    zerolog.Logger

	// conn is only touched by the loop goroutine while running.
	conn store.Conn

	requests  *requestQueue
	responses responseQueue

	mu      sync.Mutex
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	executed   atomic.Uint64
	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

func newWorker(id int, host string, port int, connector *store.Connector, logger zerolog.Logger) *worker {
	return &worker{
		id:        id,
		host:      host,
		port:      port,
		connector: connector,
		logger:    logger.With().Int("instance", id).Logger(),
		requests:  newRequestQueue(),
	}
}

func (w *worker) connect(ctx context.Context) error {
	conn, err := w.connector.Connect(ctx, w.host, w.port)
	if err != nil {
		return err
	}
	w.conn = conn
	return nil
}

func (w *worker) run() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running || w.closed {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop(w.stopCh, w.doneCh)
}

// stop signals the loop and waits for it to exit. The request being
// executed finishes; queued requests stay queued.
func (w *worker) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.halt()
}

// halt stops the loop if it is running. Caller holds w.mu.
func (w *worker) halt() {
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	<-w.doneCh
}

// shutdown stops the loop, releases the connection and keeps run from
// starting the loop again.
func (w *worker) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.halt()
	w.release()
}

// release closes the connection. Only call while the loop is stopped.
func (w *worker) release() {
	if w.conn == nil {
		return
	}
	if err := w.conn.Close(); err != nil {
		w.logger.Debug().Err(err).Msg("error closing store connection")
	}
	w.conn = nil
}

func (w *worker) enqueue(req Request) {
	w.requests.push(req)
}

func (w *worker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		req, ok := w.requests.pop()
		if !ok {
			select {
			case <-stop:
				return
			case <-w.requests.signal():
			}
			continue
		}

		w.execute(req)
	}
}

func (w *worker) execute(req Request) {
	ctx := context.Background()
	argv := req.argv()

	reply, err := w.do(ctx, argv)
	if err != nil {
		w.logger.Warn().Err(err).Str("command", commandName(argv)).Msg("store command failed, reconnecting")

		w.release()
		if cerr := w.connect(ctx); cerr != nil {
			w.dropped.Add(1)
			w.logger.Error().Err(cerr).Str("command", commandName(argv)).Msg("reconnect failed, command dropped")
			return
		}
		w.reconnects.Add(1)

		reply, err = w.do(ctx, argv)
		if err != nil {
			w.dropped.Add(1)
			w.logger.Error().Err(err).Str("command", commandName(argv)).Msg("retry failed, command dropped")
			return
		}
	}
	w.executed.Add(1)

	if req.Callback == nil {
		return
	}
	ok, values := decodeReply(reply)
	w.responses.push(Result{OK: ok, Values: values, Callback: req.Callback})
}

func (w *worker) do(ctx context.Context, argv []string) (store.Reply, error) {
	if w.conn == nil {
		return store.Reply{}, errNotConnected
	}
	return w.conn.Do(ctx, argv)
}

// drain invokes every pending callback on the calling goroutine, including
// results that arrive while draining. If a callback panics, the results
// behind it stay queued for the next drain.
func (w *worker) drain() int {
	n := 0
	for {
		res, ok := w.responses.pop()
		if !ok {
			return n
		}
		res.Callback(res.OK, res.Values)
		n++
	}
}

func (w *worker) stats() Stats {
	return Stats{
		PendingRequests: w.requests.len(),
		PendingResults:  w.responses.len(),
		Executed:        w.executed.Load(),
		Dropped:         w.dropped.Load(),
		Reconnects:      w.reconnects.Load(),
	}
}

func commandName(argv []string) string {
	if len(argv) == 0 {
		return ""
	}
	return argv[0]
}
