package session

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
)

// Tolerance is how far a request origin may drift from the bound origin.
type Tolerance int

const (
	// ToleranceExact requires the same address.
	ToleranceExact Tolerance = iota
	// ToleranceNetwork accepts the same /24 (IPv4) or /48 (IPv6) network.
	ToleranceNetwork
	// ToleranceCarrier extends ToleranceNetwork to addresses that share a
	// configured carrier-grade NAT prefix.
	ToleranceCarrier
	// ToleranceCountry extends ToleranceCarrier to any address resolved to
	// the bound country. A different country is always rejected.
	ToleranceCountry
)

const (
	ipv4NetworkBits = 24
	ipv6NetworkBits = 48
)

// DefaultCarrierPrefixes is the RFC 6598 shared address space.
var DefaultCarrierPrefixes = []netip.Prefix{netip.MustParsePrefix("100.64.0.0/10")}

func (t Tolerance) String() string {
	switch t {
	case ToleranceExact:
		return "exact"
	case ToleranceNetwork:
		return "network"
	case ToleranceCarrier:
		return "carrier"
	case ToleranceCountry:
		return "country"
	default:
		return fmt.Sprintf("tolerance(%d)", int(t))
	}
}

// UnmarshalText parses the names returned by String.
func (t *Tolerance) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "exact":
		*t = ToleranceExact
	case "network", "":
		*t = ToleranceNetwork
	case "carrier":
		*t = ToleranceCarrier
	case "country":
		*t = ToleranceCountry
	default:
		return fmt.Errorf("unknown origin tolerance %q", string(b))
	}
	return nil
}

// GeoResolver maps an address to an ISO country code. An empty code means
// unknown.
type GeoResolver interface {
	Country(ctx context.Context, addr netip.Addr) (string, error)
}

// ParseOrigin accepts a bare address or an address:port pair, as found in
// http.Request.RemoteAddr. IPv4-mapped IPv6 addresses are unmapped.
func ParseOrigin(s string) (netip.Addr, error) {
	s = strings.TrimSpace(s)
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), nil
	}
	a, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidOrigin, s)
	}
	return a.WithZone("").Unmap(), nil
}

type originMatcher struct {
	tolerance Tolerance
	carriers  []netip.Prefix
	geo       GeoResolver
}

func (m originMatcher) country(ctx context.Context, a netip.Addr) string {
	if m.tolerance != ToleranceCountry || m.geo == nil || !a.IsValid() {
		return ""
	}
	c, err := m.geo.Country(ctx, a)
	if err != nil {
		return ""
	}
	return strings.ToUpper(c)
}

// allows reports whether cur (resolved to country) is acceptable for a
// session bound to bound.
func (m originMatcher) allows(bound Origin, cur netip.Addr, country string) bool {
	if !bound.Bound() {
		return true
	}
	if !cur.IsValid() {
		return false
	}

	switch m.tolerance {
	case ToleranceExact:
		return bound.Addr == cur
	case ToleranceNetwork:
		return sameNetwork(bound.Addr, cur)
	case ToleranceCarrier:
		return sameNetwork(bound.Addr, cur) || m.sameCarrier(bound.Addr, cur)
	case ToleranceCountry:
		if bound.Country != "" && country != "" && bound.Country != country {
			return false
		}
		if sameNetwork(bound.Addr, cur) || m.sameCarrier(bound.Addr, cur) {
			return true
		}
		return bound.Country != "" && bound.Country == country
	default:
		return false
	}
}

func (m originMatcher) sameCarrier(a, b netip.Addr) bool {
	for _, p := range m.carriers {
		if p.Contains(a) && p.Contains(b) {
			return true
		}
	}
	return false
}

func sameNetwork(a, b netip.Addr) bool {
	if a.Is4() != b.Is4() {
		return false
	}
	bits := ipv6NetworkBits
	if a.Is4() {
		bits = ipv4NetworkBits
	}
	pa, err := a.Prefix(bits)
	if err != nil {
		return false
	}
	pb, err := b.Prefix(bits)
	if err != nil {
		return false
	}
	return pa == pb
}
