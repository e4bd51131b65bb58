package gateway

import (
	"crypto/sha256"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/jmcleod/semigate/internal/util"
	"github.com/jmcleod/semigate/semi"
	"github.com/jmcleod/semigate/session"
	"github.com/jmcleod/semigate/stats"
)

// How long a service response remains valid.
const responseExpiry = time.Minute

// Engine processes decoded inbound messages: it resolves or creates the
// owning session and emits zero or one outbound protocol messages per input.
// Many Process calls may run concurrently.
type Engine struct {
	store      *session.Store
	codec      semi.Codec
	sec        Security
	disp       *Dispatcher
	region     semi.ServiceRegion
	publishers map[semi.DialogID]Publisher
	defaultPub Publisher
	counter    *stats.Counter
	onAccept   func()
	log        *slog.Logger

	dropped atomic.Int64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSecurity enables the security envelope on inbound and outbound
// payloads.
func WithSecurity(sec Security) EngineOption {
	return func(e *Engine) { e.sec = sec }
}

// WithServiceRegion sets the region bounds advertised in service responses.
func WithServiceRegion(region semi.ServiceRegion) EngineOption {
	return func(e *Engine) { e.region = region }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = logger.With("component", "engine") }
}

// WithPublisher registers the downstream consumer for one dialog kind.
func WithPublisher(dialog semi.DialogID, pub Publisher) EngineOption {
	return func(e *Engine) { e.publishers[dialog] = pub }
}

// WithDefaultPublisher sets the consumer for dialog kinds without a
// registered publisher.
func WithDefaultPublisher(pub Publisher) EngineOption {
	return func(e *Engine) { e.defaultPub = pub }
}

// WithCounter sets the received/success counter for this input channel.
func WithCounter(c *stats.Counter) EngineOption {
	return func(e *Engine) { e.counter = c }
}

// WithAcceptNotify registers a callback invoked whenever an accept marker is
// recorded on an active session, so the receipt correlator can poll early.
func WithAcceptNotify(fn func()) EngineOption {
	return func(e *Engine) { e.onAccept = fn }
}

// NewEngine creates an Engine over the given store, codec, and dispatcher.
func NewEngine(store *session.Store, codec semi.Codec, disp *Dispatcher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		codec:      codec,
		disp:       disp,
		region:     semi.DefaultServiceRegion(),
		publishers: make(map[semi.DialogID]Publisher),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "engine")
	}
	return e
}

// Dropped returns how many messages were dropped as out of sequence.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

// Process handles one inbound datagram payload from src. No failure inside
// Process escapes to the caller; every error is scoped to this one message.
func (e *Engine) Process(src session.Endpoint, raw []byte) {
	if e.counter != nil {
		e.counter.IncTotal()
	}
	if len(raw) == 0 {
		return
	}

	payload := raw
	var cert, certDigest []byte
	if e.sec != nil {
		uw, err := e.sec.Unwrap(raw)
		if err != nil {
			e.log.Error("couldn't unwrap secured message", "source", src.String(), "error", err)
			return
		}
		payload, cert, certDigest = uw.Payload, uw.Certificate, uw.CertDigest
	}
	if len(payload) == 0 {
		return
	}

	pdu, err := e.codec.Decode(payload)
	if err != nil {
		e.log.Error("couldn't decode message", "source", src.String(), "error", err)
		return
	}

	sess := e.resolveSession(src, pdu, cert, certDigest)
	if sess == nil {
		e.dropped.Add(1)
		e.log.Warn("dropping out of sequence message",
			"source", src.String(), "dialog", pdu.Dialog().String(), "marker", pdu.Marker().String())
		return
	}

	e.respond(sess, pdu, payload)
}

// resolveSession classifies the message into one of four dispositions:
// trust establishment, trivial dialog, session opening, or session
// continuation. It returns nil when no active session owns the message.
func (e *Engine) resolveSession(src session.Endpoint, pdu semi.PDU, cert, certDigest []byte) *session.Session {
	switch p := pdu.(type) {
	case *semi.ServiceRequest:
		// Trust establishment always yields a meta-session so destination
		// and certificate are available to later exchanges.
		meta := e.createMetaSession(p, src, cert, certDigest)
		switch p.DialogID {
		case semi.DialogIntersectionDeposit, semi.DialogAdvisoryDeposit, semi.DialogObjectRegistration:
			// These dialogs continue with a session-scoped handshake.
			if !p.HasRequestID {
				return meta
			}
			return e.createSession(src, p.DialogID, p.Marker(), p.GroupID, p.RequestID)
		}
		return meta

	case *semi.VehicleData:
		return e.metaOrTransient(src, semi.DialogVehicleData)
	case *semi.SubscriptionRequest:
		return e.metaOrTransient(src, semi.DialogDataSubscription)
	case *semi.SubscriptionCancel:
		return e.metaOrTransient(src, semi.DialogDataSubscription)

	case *semi.DataRequest:
		return e.createSession(src, p.DialogID, p.Marker(), p.GroupID, p.RequestID)
	case *semi.DiscoveryRequest:
		return e.createSession(src, semi.DialogObjectDiscovery, p.Marker(), p.GroupID, p.RequestID)

	case *semi.DataDelivery:
		increment := p.DialogID == semi.DialogIntersectionDeposit
		return e.findSession(src, p.DialogID, p.Marker(), p.GroupID, p.RequestID, increment)
	case *semi.RegistrationData:
		return e.findSession(src, semi.DialogObjectRegistration, p.Marker(), p.GroupID, p.RequestID, false)
	case *semi.Acceptance:
		return e.findSession(src, p.DialogID, p.Marker(), p.GroupID, p.RequestID, false)
	case *semi.Confirmation:
		return e.findSession(src, p.DialogID, p.Marker(), p.GroupID, p.RequestID, false)

	case *semi.ServiceResponse, *semi.DataReceipt:
		// Gateway-emitted kinds arriving inbound never own a session.
		return nil
	}
	return nil
}

// createMetaSession creates or replaces the meta-session for (src, dialog).
// A superseded meta-session is closed, not removed: its index rows stay
// until the next eviction, and lookups skip it because they check liveness.
func (e *Engine) createMetaSession(req *semi.ServiceRequest, src session.Endpoint, cert, certDigest []byte) *session.Session {
	key := session.NewMetaKey(src, req.DialogID)
	if prev, ok := e.store.GetByKey(key); ok {
		prev.Close()
	}
	sess := session.New(key, e.store.MetaTTL())
	if dst, ok := e.requestDestination(req, src); ok {
		sess.SetDestination(dst)
	}
	if cert != nil {
		sess.SetCertificate(cert)
	}
	if certDigest != nil {
		sess.SetCertDigest(certDigest)
	}
	e.store.Put(sess)
	return sess
}

// requestDestination extracts the declared reply destination from a service
// request. A destination without an address inherits the source address; the
// forward flag always comes from the source.
func (e *Engine) requestDestination(req *semi.ServiceRequest, src session.Endpoint) (session.Endpoint, bool) {
	cp := req.Destination
	if cp == nil {
		return session.Endpoint{}, false
	}
	address := cp.Address
	if len(address) == 0 {
		address = src.Address()
	}
	return session.NewEndpoint(address, cp.Port, src.Forward()), true
}

// metaOrTransient resolves the active meta-session for a trivial dialog, or
// synthesizes a transient, never-stored session so downstream logic has a
// uniform session to act on. Trivial dialogs need no replay protection or
// multi-message correlation.
func (e *Engine) metaOrTransient(src session.Endpoint, dialog semi.DialogID) *session.Session {
	if meta, ok := e.activeMeta(src, dialog); ok {
		meta.Touch()
		return meta
	}
	return session.New(session.NewMetaKey(src, dialog), 0)
}

func (e *Engine) activeMeta(src session.Endpoint, dialog semi.DialogID) (*session.Session, bool) {
	meta, ok := e.store.GetByKey(session.NewMetaKey(src, dialog))
	if !ok || meta.IsInactive() {
		return nil, false
	}
	return meta, true
}

// createSession opens a new exchange session, inheriting destination and
// certificate from any active meta-session for the same source and dialog.
func (e *Engine) createSession(src session.Endpoint, dialog semi.DialogID, marker semi.Marker, group, request int32) *session.Session {
	key := session.NewKey(src, dialog, group, request)
	sess := session.New(key, e.store.DialogTTL(dialog))
	if meta, ok := e.activeMeta(src, dialog); ok {
		if dst, ok := meta.Destination(); ok {
			sess.SetDestination(dst)
		}
		sess.SetCertificate(meta.Certificate())
		sess.SetCertDigest(meta.CertDigest())
		meta.Touch()
	}
	sess.AddMarker(marker)
	e.store.Put(sess)
	e.log.Debug("created session", "session", sess.String())
	return sess
}

// findSession correlates a session-continuing message. Absent or inactive
// sessions make the message out of sequence.
func (e *Engine) findSession(src session.Endpoint, dialog semi.DialogID, marker semi.Marker, group, request int32, increment bool) *session.Session {
	key := session.NewKey(src, dialog, group, request)
	sess, ok := e.store.GetByKey(key)
	if !ok || sess.IsInactive() {
		return nil
	}
	if increment {
		sess.IncrementCount()
	}
	sess.AddMarker(marker)
	if marker == semi.MarkerAccept && !sess.IsInactive() && e.onAccept != nil {
		e.onAccept()
	}
	return sess
}

// respond emits whatever outbound message the input requires.
func (e *Engine) respond(sess *session.Session, pdu semi.PDU, payload []byte) {
	dst := resolveDestination(sess)
	recipient := sess.CertDigest()
	switch p := pdu.(type) {
	case *semi.ServiceRequest:
		e.sendServiceResponse(payload, dst, p, recipient)
	case *semi.Acceptance:
		e.handleAcceptance(sess, p, dst, recipient)
	default:
		e.publish(sess, pdu.Dialog(), payload)
		if del, ok := pdu.(*semi.DataDelivery); ok && del.DialogID == semi.DialogAdvisoryDeposit {
			e.sendDataConfirmation(payload, dst, del, recipient)
		}
	}
}

func (e *Engine) sendServiceResponse(payload []byte, dst session.Endpoint, req *semi.ServiceRequest, recipient []byte) {
	requestID := req.RequestID
	if !req.HasRequestID {
		random, err := util.RandomInt31()
		if err != nil {
			e.log.Error("couldn't synthesize request ID", "error", err)
			return
		}
		e.log.Warn("service request has no request ID, responding with a random one")
		requestID = random
	}
	resp := &semi.ServiceResponse{
		DialogID:  req.DialogID,
		GroupID:   req.GroupID,
		RequestID: requestID,
		Expiry:    time.Now().Add(responseExpiry).Unix(),
		Region:    e.region,
		Hash:      sha256.Sum256(payload),
	}
	e.disp.Dispatch(dst, resp, recipient, false)
}

func (e *Engine) sendDataConfirmation(payload []byte, dst session.Endpoint, del *semi.DataDelivery, recipient []byte) {
	conf := &semi.Confirmation{
		DialogID:  del.DialogID,
		GroupID:   del.GroupID,
		RequestID: del.RequestID,
		Hash:      sha256.Sum256(payload),
	}
	e.disp.Dispatch(dst, conf, recipient, true)
}

// handleAcceptance reconciles the terminal message of a bulk-delivery
// dialog. For externally mediated dialogs the receipt waits for the
// downstream notification; otherwise the declared sent count must match the
// locally observed received count. The session is closed either way to
// bound retries.
func (e *Engine) handleAcceptance(sess *session.Session, p *semi.Acceptance, dst session.Endpoint, recipient []byte) {
	if p.DialogID.ExternallyMediated() {
		return
	}
	sent, received := int(p.RecordsSent), sess.Count()
	sess.Close()
	if sent != received {
		e.log.Warn("sent/received mismatch, suppressing receipt",
			"session_id", sess.ID(), "records_sent", sent, "records_received", received)
		return
	}
	if !p.HasRequestID {
		e.log.Warn("dropping acceptance with no request ID", "session_id", sess.ID())
		return
	}
	receipt := &semi.DataReceipt{
		DialogID:  p.DialogID,
		GroupID:   p.GroupID,
		RequestID: p.RequestID,
	}
	e.disp.Dispatch(dst, receipt, recipient, true)
}

// publish hands the payload to the downstream consumer registered for the
// dialog kind, or the default consumer.
func (e *Engine) publish(sess *session.Session, dialog semi.DialogID, payload []byte) {
	if e.counter != nil {
		e.counter.IncSuccess()
	}
	pub := e.publishers[dialog]
	if pub == nil {
		pub = e.defaultPub
	}
	if pub == nil {
		e.log.Debug("no publisher registered", "dialog", dialog.String())
		return
	}
	dst := resolveDestination(sess)
	env := PayloadEnvelope{
		SessionID:   sess.ID(),
		Port:        dst.Port(),
		Forward:     dst.Forward(),
		Certificate: sess.Certificate(),
		Payload:     payload,
	}
	if !dst.IsZero() {
		env.Host = dst.AddrPort().Addr().String()
	}
	if err := pub.Publish(dialog, env); err != nil {
		e.log.Error("couldn't publish payload", "dialog", dialog.String(), "error", err)
	}
}
