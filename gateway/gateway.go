// Package gateway implements the dialog engine: it correlates inbound
// datagrams to sessions, decides which response a message requires, emits
// that response, and reconciles asynchronous receipt notifications against
// waiting sessions.
//
// The wire codec, security envelope, network egress, and downstream publish
// channel are external collaborators reached through the narrow interfaces
// declared here.
package gateway

import (
	"github.com/jmcleod/semigate/semi"
	"github.com/jmcleod/semigate/session"
)

// Unwrapped is the result of removing the security envelope from an inbound
// datagram.
type Unwrapped struct {
	Payload     []byte
	Certificate []byte
	CertDigest  []byte
	// UsedDigest reports that the sender identified itself by certificate
	// digest rather than by a full certificate.
	UsedDigest bool
}

// Security is the envelope boundary. Failures are treated as drop-and-log.
type Security interface {
	Unwrap(raw []byte) (Unwrapped, error)
	Sign(payload []byte) ([]byte, error)
	Encrypt(payload []byte, recipientDigest []byte) ([]byte, error)
}

// Sender is the network egress boundary. Send transmits directly; Forward
// hands the payload to a forwarder hop with the final destination embedded.
// Failures are logged by the caller, never retried.
type Sender interface {
	Send(dst session.Endpoint, payload []byte) error
	Forward(forwarder, dst session.Endpoint, payload []byte) error
}

// PayloadEnvelope is a decoded, session-annotated payload handed to a
// downstream consumer.
type PayloadEnvelope struct {
	SessionID   string
	Host        string
	Port        uint16
	Forward     bool
	Certificate []byte
	Payload     []byte
}

// Publisher hands payload envelopes to a downstream consumer.
type Publisher interface {
	Publish(dialog semi.DialogID, env PayloadEnvelope) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(dialog semi.DialogID, env PayloadEnvelope) error

func (f PublisherFunc) Publish(dialog semi.DialogID, env PayloadEnvelope) error {
	return f(dialog, env)
}

// resolveDestination applies the reply destination rule used everywhere a
// response is sent: the session's destination override if present, else the
// session key's source endpoint.
func resolveDestination(sess *session.Session) session.Endpoint {
	if dst, ok := sess.Destination(); ok {
		return dst
	}
	return sess.Key().Source()
}
