// Package geoip resolves client IP addresses to coarse geolocation (country
// and region codes). The default resolver knows nothing; deployments front a
// real GeoIP database behind the Resolver interface, and clients can always
// override the result explicitly in the request context.
package geoip

import (
	"net/netip"
)

// Location is a coarse geolocation result. Empty fields mean "unknown".
type Location struct {
	Country string
	Region  string
}

// Resolver maps a client IP to a location. Implementations must treat
// unparseable or unknown addresses as an empty Location, never an error:
// resolution requests proceed without geolocation.
type Resolver interface {
	Resolve(ip string) Location
}

// Compile-time interface checks.
var (
	_ Resolver = (*NoopResolver)(nil)
	_ Resolver = (*StaticResolver)(nil)
)

// NoopResolver resolves every address to an unknown location. The default
// when no GeoIP database is wired in.
type NoopResolver struct{}

func (NoopResolver) Resolve(string) Location {
	return Location{}
}

// StaticResolver resolves from a fixed prefix table, longest prefix first.
// Used in tests and in deployments with a small, known address plan (e.g.
// per-region ingress ranges).
type StaticResolver struct {
	entries []staticEntry
}

type staticEntry struct {
	prefix   netip.Prefix
	location Location
}

// NewStaticResolver builds a resolver from CIDR strings. Invalid CIDRs are
// rejected so a typo in the address plan surfaces at startup.
func NewStaticResolver(table map[string]Location) (*StaticResolver, error) {
	r := &StaticResolver{entries: make([]staticEntry, 0, len(table))}
	for cidr, loc := range table {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, err
		}
		r.entries = append(r.entries, staticEntry{prefix: prefix, location: loc})
	}
	// Longest prefix wins.
	for i := 1; i < len(r.entries); i++ {
		for j := i; j > 0 && r.entries[j].prefix.Bits() > r.entries[j-1].prefix.Bits(); j-- {
			r.entries[j], r.entries[j-1] = r.entries[j-1], r.entries[j]
		}
	}
	return r, nil
}

func (r *StaticResolver) Resolve(ip string) Location {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Location{}
	}
	for _, e := range r.entries {
		if e.prefix.Contains(addr) {
			return e.location
		}
	}
	return Location{}
}
