package store

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"
)

// AddrResolver turns a hostname into candidate IPv4 addresses. It is satisfied
// by *resolver.Resolver.
type AddrResolver interface {
	Resolve(ctx context.Context, host string, accept ...func(ip string) bool) []string
}

// Connector implements the connect policy: resolve, then dial candidates in
// resolver order and keep the first that succeeds.
type Connector struct {
	Resolver AddrResolver
	Dialer   Dialer
	Logger   zerolog.Logger
}

// Connect opens a new Conn to host:port. It never touches a previously held
// Conn; releasing that is the caller's job.
func (c *Connector) Connect(ctx context.Context, host string, port int) (Conn, error) {
	candidates := c.Resolver.Resolve(ctx, host)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, host)
	}

	var lastErr error
	for _, ip := range candidates {
		addr := net.JoinHostPort(ip, strconv.Itoa(port))
		conn, err := c.Dialer.Dial(ctx, addr)
		if err != nil {
			c.Logger.Debug().Err(err).Str("addr", addr).Msg("store dial failed")
			lastErr = err
			continue
		}
		return conn, nil
	}

	return nil, fmt.Errorf("%w: %s:%d: %v", ErrConnectFailed, host, port, lastErr)
}
