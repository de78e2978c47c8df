package domainfilter

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// ConnKey identifies a connection, the handle under which its resolved
// domain is attached.
type ConnKey struct {
	Network string // "tcp" or "udp"
	Src     netip.AddrPort
	Dst     netip.AddrPort
}

// String returns the key in the form accepted by ParseConnKey.
func (k ConnKey) String() string {
	return k.Network + ":" + k.Src.String() + "->" + k.Dst.String()
}

// ParseConnKey parses a connection key of form "tcp:10.0.0.2:53000->1.1.1.1:443".
func ParseConnKey(s string) (ConnKey, error) {
	network, rest, ok := strings.Cut(s, ":")
	if !ok {
		return ConnKey{}, fmt.Errorf("invalid connection %q: missing network", s)
	}
	return NewConnKey(network, rest)
}

// NewConnKey parses addrs of form "src->dst" for the given network.
func NewConnKey(network, addrs string) (ConnKey, error) {
	switch network {
	case "tcp", "udp":
	default:
		return ConnKey{}, fmt.Errorf("invalid connection network: %q", network)
	}
	srcStr, dstStr, ok := strings.Cut(addrs, "->")
	if !ok {
		return ConnKey{}, fmt.Errorf("invalid connection %q: want src->dst", addrs)
	}
	src, err := netip.ParseAddrPort(srcStr)
	if err != nil {
		return ConnKey{}, fmt.Errorf("invalid source address: %w", err)
	}
	dst, err := netip.ParseAddrPort(dstStr)
	if err != nil {
		return ConnKey{}, fmt.Errorf("invalid destination address: %w", err)
	}
	return ConnKey{Network: network, Src: src, Dst: dst}, nil
}

// DomainLookup returns the domain resolved for a connection.
// The second return value is false if no domain is known yet.
type DomainLookup interface {
	LookupDomain(ctx context.Context, key ConnKey) (string, bool)
}

// DomainLookupFunc is an adapter to allow the use of ordinary functions as DomainLookup.
type DomainLookupFunc func(ctx context.Context, key ConnKey) (string, bool)

// LookupDomain calls f(ctx, key).
func (f DomainLookupFunc) LookupDomain(ctx context.Context, key ConnKey) (string, bool) {
	return f(ctx, key)
}
