// Package session implements the dialog correlation core: endpoint and key
// identity, per-dialog session state, and the concurrent dual-indexed store
// with background eviction.
package session

import (
	"fmt"
	"net"
	"net/netip"
)

// Endpoint identifies a network peer. The forward flag marks peers that are
// reachable only via a forwarder hop. Endpoints are immutable values;
// equality is byte-wise on the address plus port and flag.
type Endpoint struct {
	addr    [16]byte
	addrLen uint8
	port    uint16
	forward bool
}

// NewEndpoint builds an Endpoint from a 4- or 16-byte address. Longer or
// shorter addresses are truncated or zero-padded into the 4-byte form.
func NewEndpoint(address []byte, port uint16, forward bool) Endpoint {
	e := Endpoint{port: port, forward: forward}
	switch {
	case len(address) == 0:
	case len(address) >= 16:
		e.addrLen = 16
		copy(e.addr[:], address[:16])
	default:
		e.addrLen = 4
		copy(e.addr[:4], address)
	}
	return e
}

// EndpointFromAddrPort converts a resolved UDP source address.
func EndpointFromAddrPort(ap netip.AddrPort, forward bool) Endpoint {
	addr := ap.Addr()
	if addr.Is4() || addr.Is4In6() {
		b := addr.Unmap().As4()
		return NewEndpoint(b[:], ap.Port(), forward)
	}
	b := addr.As16()
	return NewEndpoint(b[:], ap.Port(), forward)
}

// Address returns the raw address bytes (4 or 16).
func (e Endpoint) Address() []byte {
	if e.addrLen == 0 {
		return nil
	}
	return append([]byte(nil), e.addr[:e.addrLen]...)
}

func (e Endpoint) Port() uint16 { return e.port }

// Forward reports whether the peer must be reached via a forwarder hop.
func (e Endpoint) Forward() bool { return e.forward }

// IsZero reports whether the endpoint is the absent value, used only as the
// degenerate source of meta-session keys built before a source is known.
func (e Endpoint) IsZero() bool { return e == Endpoint{} }

// AddrPort converts the endpoint for use with the net stack.
func (e Endpoint) AddrPort() netip.AddrPort {
	if e.addrLen == 4 {
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(e.addr[:4])), e.port)
	}
	return netip.AddrPortFrom(netip.AddrFrom16(e.addr), e.port)
}

func (e Endpoint) String() string {
	if e.IsZero() {
		return "<none>"
	}
	host := net.IP(e.addr[:e.addrLen]).String()
	if e.forward {
		return fmt.Sprintf("%s (via forwarder)", net.JoinHostPort(host, fmt.Sprint(e.port)))
	}
	return net.JoinHostPort(host, fmt.Sprint(e.port))
}
