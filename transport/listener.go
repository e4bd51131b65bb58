package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sync"

	"github.com/jmcleod/semigate/gateway"
	"github.com/jmcleod/semigate/session"
)

const maxDatagram = 64 * 1024

// Listener reads datagrams from a UDP socket and hands each one to the
// engine on its own goroutine. Datagrams arriving through a forwarder carry
// the original peer endpoint in a forward frame.
type Listener struct {
	engine *gateway.Engine
	conn   net.PacketConn
	log    *slog.Logger
	wg     sync.WaitGroup
}

// NewListener binds a UDP socket on addr.
func NewListener(addr string, engine *gateway.Engine, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding udp listener on %s: %w", addr, err)
	}
	return &Listener{
		engine: engine,
		conn:   conn,
		log:    logger.With("component", "udp-listener"),
	}, nil
}

// LocalAddr returns the bound socket address.
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Run reads datagrams until the context is cancelled. Each datagram is
// processed on its own goroutine; Run waits for in-flight handlers before
// returning.
func (l *Listener) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			l.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}
		if n == 0 {
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		src, payload, ok := l.sourceOf(from, data)
		if !ok {
			continue
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.engine.Process(src, payload)
		}()
	}
}

// sourceOf resolves the logical peer endpoint: either the datagram's own
// source, or the endpoint embedded in a forward frame.
func (l *Listener) sourceOf(from net.Addr, data []byte) (session.Endpoint, []byte, bool) {
	if HasForwardFrame(data) {
		src, payload, err := DecodeForwardFrame(data)
		if err != nil {
			l.log.Error("dropping malformed forward frame", "from", from.String(), "error", err)
			return session.Endpoint{}, nil, false
		}
		return src, payload, true
	}
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		l.log.Error("dropping datagram with non-UDP source", "from", from.String())
		return session.Endpoint{}, nil, false
	}
	ap := udpAddr.AddrPort()
	if !ap.IsValid() {
		return session.Endpoint{}, nil, false
	}
	return session.EndpointFromAddrPort(netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), false), data, true
}

// Close shuts the socket; a running Run call returns after in-flight
// handlers finish.
func (l *Listener) Close() error { return l.conn.Close() }
