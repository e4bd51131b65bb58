package gateway

import (
	"log/slog"
	"os"

	"github.com/jmcleod/semigate/semi"
	"github.com/jmcleod/semigate/session"
)

// Dispatcher is the single funnel for outbound protocol messages. Its only
// externally visible side effect is at most one send (or forward) attempt
// per call; encode, sign, encrypt, and egress failures are logged and the
// send is skipped.
type Dispatcher struct {
	codec      semi.Codec
	sec        Security
	sender     Sender
	forwarder  session.Endpoint
	forwarding bool
	log        *slog.Logger
}

// DispatcherConfig wires a Dispatcher. Security is optional; when nil,
// payloads go out unsigned and unencrypted. Forwarding is enabled only when
// Forwarder is non-zero; an unresolvable forwarder is represented by a zero
// endpoint, which falls back to direct sends for the life of the process.
type DispatcherConfig struct {
	Codec     semi.Codec
	Security  Security
	Sender    Sender
	Forwarder session.Endpoint
	Logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return &Dispatcher{
		codec:      cfg.Codec,
		sec:        cfg.Security,
		sender:     cfg.Sender,
		forwarder:  cfg.Forwarder,
		forwarding: !cfg.Forwarder.IsZero(),
		log:        logger.With("component", "dispatcher"),
	}
}

// Dispatch encodes and protects the PDU, then sends it to dst, via the
// forwarder when dst carries the forward flag and forwarding is available.
// recipient is the certificate digest used when encrypting.
func (d *Dispatcher) Dispatch(dst session.Endpoint, pdu semi.PDU, recipient []byte, encrypt bool) {
	raw, err := d.codec.Encode(pdu)
	if err != nil {
		d.log.Error("couldn't encode outbound message", "marker", pdu.Marker().String(), "error", err)
		return
	}
	if d.sec != nil {
		if encrypt {
			raw, err = d.sec.Encrypt(raw, recipient)
		} else {
			raw, err = d.sec.Sign(raw)
		}
		if err != nil {
			d.log.Error("couldn't protect outbound message",
				"marker", pdu.Marker().String(), "encrypt", encrypt, "error", err)
			return
		}
	}
	if dst.Forward() && d.forwarding {
		d.log.Debug("forwarding message", "forwarder", d.forwarder.String(), "destination", dst.String())
		if err := d.sender.Forward(d.forwarder, dst, raw); err != nil {
			d.log.Error("couldn't forward message", "destination", dst.String(), "error", err)
		}
		return
	}
	d.log.Debug("sending message directly", "destination", dst.String())
	if err := d.sender.Send(dst, raw); err != nil {
		d.log.Error("couldn't send message", "destination", dst.String(), "error", err)
	}
}
