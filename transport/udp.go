// Package transport carries gateway datagrams over UDP, including the
// forwarder framing used to reach peers that are not directly routable.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/jmcleod/semigate/session"
)

// Forward frames prefix the payload with the final destination so a
// forwarder hop can relay it: magic, address length, address, port.
var frameMagic = [4]byte{'S', 'G', 'F', 'W'}

// ErrBadFrame indicates a forward frame that could not be parsed.
var ErrBadFrame = errors.New("transport: malformed forward frame")

// EncodeForwardFrame wraps a payload with the destination header understood
// by forwarder hops.
func EncodeForwardFrame(dst session.Endpoint, payload []byte) []byte {
	addr := dst.Address()
	out := make([]byte, 0, len(frameMagic)+1+len(addr)+2+len(payload))
	out = append(out, frameMagic[:]...)
	out = append(out, byte(len(addr)))
	out = append(out, addr...)
	out = binary.BigEndian.AppendUint16(out, dst.Port())
	return append(out, payload...)
}

// HasForwardFrame reports whether a datagram starts with the forward magic.
func HasForwardFrame(data []byte) bool {
	return len(data) >= len(frameMagic) && [4]byte(data[:4]) == frameMagic
}

// DecodeForwardFrame splits a framed datagram into the embedded endpoint and
// the payload. The embedded endpoint carries the forward flag: replies to it
// must travel back through a forwarder.
func DecodeForwardFrame(data []byte) (session.Endpoint, []byte, error) {
	if !HasForwardFrame(data) || len(data) < len(frameMagic)+1 {
		return session.Endpoint{}, nil, ErrBadFrame
	}
	rest := data[len(frameMagic):]
	addrLen := int(rest[0])
	if addrLen != 4 && addrLen != 16 {
		return session.Endpoint{}, nil, fmt.Errorf("%w: address length %d", ErrBadFrame, addrLen)
	}
	if len(rest) < 1+addrLen+2 {
		return session.Endpoint{}, nil, ErrBadFrame
	}
	addr := rest[1 : 1+addrLen]
	port := binary.BigEndian.Uint16(rest[1+addrLen:])
	return session.NewEndpoint(addr, port, true), rest[1+addrLen+2:], nil
}

// UDPSender sends gateway responses over UDP. It implements the gateway
// egress boundary; each call makes one send attempt and never retries.
type UDPSender struct {
	log *slog.Logger
}

// NewUDPSender creates a sender.
func NewUDPSender(logger *slog.Logger) *UDPSender {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return &UDPSender{log: logger.With("component", "udp-sender")}
}

// Send transmits the payload directly to dst.
func (s *UDPSender) Send(dst session.Endpoint, payload []byte) error {
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(dst.AddrPort()))
	if err != nil {
		return fmt.Errorf("dialing %s: %w", dst, err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("sending to %s: %w", dst, err)
	}
	return nil
}

// Forward hands the payload to a forwarder hop with dst embedded in the
// frame header.
func (s *UDPSender) Forward(forwarder, dst session.Endpoint, payload []byte) error {
	frame := EncodeForwardFrame(dst, payload)
	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(forwarder.AddrPort()))
	if err != nil {
		return fmt.Errorf("dialing forwarder %s: %w", forwarder, err)
	}
	defer conn.Close()
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("forwarding to %s via %s: %w", dst, forwarder, err)
	}
	return nil
}
