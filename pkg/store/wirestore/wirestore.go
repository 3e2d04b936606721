// Package wirestore is a store.Dialer for servers speaking the CacheMir
// binary protocol (pkg/protocol), such as the development store server in
// internal/server.
//
// Each Conn is a single TCP connection. Commands are written and their
// responses read synchronously, with optional per-call deadlines:
//
//	dialer := wirestore.NewDialer(wirestore.Options{
//		DialTimeout:  5 * time.Second,
//		ReadTimeout:  30 * time.Second,
//		WriteTimeout: 10 * time.Second,
//	})
//	reg := proxy.New(dialer)
package wirestore

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cachemir/asyncproxy/pkg/protocol"
	"github.com/cachemir/asyncproxy/pkg/store"
)

// Options configures connections opened by the Dialer. Zero read and write
// timeouts mean no deadline.
type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Dialer opens protocol connections.
type Dialer struct {
	opts Options
}

// NewDialer returns a Dialer using opts.
func NewDialer(opts Options) *Dialer {
	return &Dialer{opts: opts}
}

// Dial connects to addr over TCP.
func (d *Dialer) Dial(ctx context.Context, addr string) (store.Conn, error) {
	dialer := &net.Dialer{Timeout: d.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &Conn{conn: conn, opts: d.opts}, nil
}

// Conn is one protocol session.
type Conn struct {
	conn net.Conn
	opts Options
}

// Do writes args as one command and reads its response. Any transport or
// framing failure is returned as an error; the connection should then be
// discarded.
func (c *Conn) Do(ctx context.Context, args []string) (store.Reply, error) {
	if err := c.setDeadline(ctx, c.opts.WriteTimeout, c.conn.SetWriteDeadline); err != nil {
		return store.Reply{}, err
	}
	if err := protocol.WriteCommand(c.conn, &protocol.Command{Args: args}); err != nil {
		return store.Reply{}, fmt.Errorf("write command: %w", err)
	}

	if err := c.setDeadline(ctx, c.opts.ReadTimeout, c.conn.SetReadDeadline); err != nil {
		return store.Reply{}, err
	}
	resp, err := protocol.ReadResponse(c.conn)
	if err != nil {
		return store.Reply{}, fmt.Errorf("read response: %w", err)
	}

	return toReply(resp)
}

// setDeadline applies the earlier of timeout and the context deadline.
func (c *Conn) setDeadline(ctx context.Context, timeout time.Duration, set func(time.Time) error) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return set(deadline)
}

// Close closes the underlying TCP connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func toReply(resp *protocol.Response) (store.Reply, error) {
	switch resp.Type {
	case protocol.RespOK:
		return store.Reply{Kind: store.KindStatus, Str: "OK"}, nil
	case protocol.RespStatus:
		str, _ := resp.Data.(string)
		return store.Reply{Kind: store.KindStatus, Str: str}, nil
	case protocol.RespString:
		str, _ := resp.Data.(string)
		return store.Reply{Kind: store.KindString, Str: str}, nil
	case protocol.RespInt:
		num, _ := resp.Data.(int64)
		return store.Reply{Kind: store.KindInteger, Int: num}, nil
	case protocol.RespArray:
		arr, _ := resp.Data.([]string)
		elems := make([]store.Reply, len(arr))
		for i, item := range arr {
			elems[i] = store.Reply{Kind: store.KindString, Str: item}
		}
		return store.Reply{Kind: store.KindArray, Elems: elems}, nil
	case protocol.RespError:
		return store.Reply{Kind: store.KindError, Str: resp.Error}, nil
	case protocol.RespNil:
		return store.Reply{Kind: store.KindNil}, nil
	}
	return store.Reply{}, fmt.Errorf("unexpected response type: %d", resp.Type)
}
