// Package resolver turns store hostnames into candidate IPv4 addresses for
// the connect policy. Resolution is single-shot: nothing is cached and
// nothing is retried.
package resolver

import (
	"context"
	"net"
	"net/netip"

	"github.com/rs/zerolog"
)

// Lookuper performs the underlying name lookup. *net.Resolver satisfies it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Resolver resolves hostnames to IPv4 address strings.
type Resolver struct {
	lookup Lookuper
	logger zerolog.Logger
}

// New returns a Resolver backed by lookup, or net.DefaultResolver when lookup
// is nil.
func New(lookup Lookuper, logger zerolog.Logger) *Resolver {
	if lookup == nil {
		lookup = net.DefaultResolver
	}
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve returns the IPv4 addresses of host in lookup order, keeping only
// those every accept predicate approves. A failed lookup yields an empty
// slice.
func (r *Resolver) Resolve(ctx context.Context, host string, accept ...func(ip string) bool) []string {
	addresses, err := r.lookup.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		r.logger.Debug().Err(err).Str("host", host).Msg("resolve failed")
		return []string{}
	}

	result := make([]string, 0, len(addresses))
	for _, address := range addresses {
		if !address.Is4() && !address.Is4In6() {
			continue
		}
		ip := address.Unmap().String()
		if !acceptAll(ip, accept) {
			continue
		}
		result = append(result, ip)
	}
	return result
}

func acceptAll(ip string, accept []func(string) bool) bool {
	for _, fn := range accept {
		if fn != nil && !fn(ip) {
			return false
		}
	}
	return true
}
