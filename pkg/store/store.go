// Package store defines the boundary between the proxy and a key-value store
// client library: a Dialer that opens a Conn, a Conn that executes one command
// and returns a typed Reply, and the connect policy that walks resolved
// addresses until one accepts a connection.
//
// Two client implementations live in subpackages:
//
//   - redisstore: RESP over github.com/redis/go-redis
//   - wirestore: the CacheMir binary protocol (see pkg/protocol)
//
// A Conn is not safe for concurrent use. The proxy gives each Conn to exactly
// one worker goroutine.
package store

import (
	"context"
	"errors"
	"strconv"
)

var (
	// ErrNoAddresses is returned by Connect when the host resolves to nothing.
	ErrNoAddresses = errors.New("store: host resolved to no addresses")
	// ErrConnectFailed is returned by Connect when every candidate address
	// refused the connection.
	ErrConnectFailed = errors.New("store: all candidate addresses failed")
)

// Kind discriminates the payload carried by a Reply.
type Kind uint8

const (
	KindNil     Kind = iota // no value (missing key, empty pop)
	KindString              // bulk string, Str set
	KindStatus              // simple status such as OK, Str set
	KindInteger             // Int set
	KindArray               // Elems set
	KindError               // store-reported error, Str holds the message
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindString:
		return "string"
	case KindStatus:
		return "status"
	case KindInteger:
		return "integer"
	case KindArray:
		return "array"
	case KindError:
		return "error"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Reply is a decoded store reply.
type Reply struct {
	Kind  Kind
	Str   string
	Int   int64
	Elems []Reply
}

// Text returns the scalar string form of the reply: the raw string for
// string, status and error replies, the decimal form for integers, and ""
// for nil and array replies.
func (r Reply) Text() string {
	switch r.Kind {
	case KindString, KindStatus, KindError:
		return r.Str
	case KindInteger:
		return strconv.FormatInt(r.Int, 10)
	default:
		return ""
	}
}

// Conn is one live session with the store.
type Conn interface {
	// Do sends args as a single command and waits for its reply. A non-nil
	// error means no reply was obtained (I/O or protocol failure); store-side
	// errors come back as a Reply of KindError with a nil error.
	Do(ctx context.Context, args []string) (Reply, error)
	// Close releases the session.
	Close() error
}

// Dialer opens a Conn to addr, given in "ip:port" form.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) {
	return f(ctx, addr)
}
