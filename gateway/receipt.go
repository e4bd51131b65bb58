package gateway

import (
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jmcleod/semigate/semi"
	"github.com/jmcleod/semigate/session"
)

const (
	// DefaultPollInterval is how often pending receipts are reconsidered.
	DefaultPollInterval = 5 * time.Second
	// DefaultPendingCapacity bounds the queue of unreconciled receipts.
	DefaultPendingCapacity = 1024
)

// Correlator reconciles asynchronously delivered receipt notifications with
// the sessions waiting for them. Each notification carries the opaque ID of
// a session; once that session has observed the dialog's accept marker the
// final receipt is emitted and the session closed. Notifications that arrive
// before the accept marker stay pending for the next cycle.
type Correlator struct {
	store *session.Store
	disp  *Dispatcher
	log   *slog.Logger

	interval time.Duration
	capacity int

	mu      sync.Mutex
	pending []string // arrival order

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// CorrelatorOption configures a Correlator.
type CorrelatorOption func(*Correlator)

// WithPollInterval sets how often pending receipts are reconsidered.
func WithPollInterval(interval time.Duration) CorrelatorOption {
	return func(c *Correlator) { c.interval = interval }
}

// WithPendingCapacity bounds the pending receipt queue.
func WithPendingCapacity(n int) CorrelatorOption {
	return func(c *Correlator) { c.capacity = n }
}

// WithCorrelatorLogger sets the structured logger.
func WithCorrelatorLogger(logger *slog.Logger) CorrelatorOption {
	return func(c *Correlator) { c.log = logger.With("component", "receipt-correlator") }
}

// NewCorrelator creates a Correlator over the given store and dispatcher.
func NewCorrelator(store *session.Store, disp *Dispatcher, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		store:    store,
		disp:     disp,
		interval: DefaultPollInterval,
		capacity: DefaultPendingCapacity,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "receipt-correlator")
	}
	return c
}

// Submit queues one receipt notification. It returns false when the pending
// queue is full and the notification was dropped.
func (c *Correlator) Submit(receiptID string) bool {
	if receiptID == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) >= c.capacity {
		c.log.Warn("pending receipt queue full, dropping notification", "receipt_id", receiptID)
		return false
	}
	c.pending = append(c.pending, receiptID)
	c.Wake()
	return true
}

// Wake nudges the poll loop to run ahead of schedule, e.g. when an accept
// marker was just recorded.
func (c *Correlator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pending returns how many notifications await reconciliation.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Process runs one reconciliation pass over the pending notifications, in
// arrival order.
func (c *Correlator) Process() {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, id := range c.pending {
		if !c.processReceipt(id) {
			kept = append(kept, id)
		}
	}
	c.pending = kept
}

// processReceipt reports whether the notification is finished (emitted or
// stale) and can stop being tracked.
func (c *Correlator) processReceipt(id string) bool {
	sess, ok := c.store.GetByID(id)
	if !ok || sess.IsInactive() {
		// Stale, or for a dialog that completed some other way.
		return true
	}
	if sess.HasMarker(semi.MarkerAccept) {
		c.sendReceipt(sess)
		sess.Close()
		return true
	}
	return false
}

// sendReceipt emits the dialog's final receipt to the session's resolved
// destination. Only dialogs whose completion is signalled out of band get a
// correlated receipt.
func (c *Correlator) sendReceipt(sess *session.Session) {
	key := sess.Key()
	switch key.Dialog() {
	case semi.DialogAdvisoryDistribution, semi.DialogIntersectionQuery,
		semi.DialogObjectRegistration, semi.DialogObjectDiscovery:
	default:
		return
	}
	receipt := &semi.DataReceipt{
		DialogID:  key.Dialog(),
		GroupID:   key.GroupID(),
		RequestID: key.RequestID(),
	}
	c.log.Debug("emitting final receipt", "session_id", sess.ID(), "dialog", key.Dialog().String())
	c.disp.Dispatch(resolveDestination(sess), receipt, sess.CertDigest(), true)
}

// Start launches the poll loop.
func (c *Correlator) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Process()
			case <-c.wake:
				c.Process()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the poll loop after one final drain pass, which may be
// redundant with the last scheduled pass.
func (c *Correlator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
	c.Process()
}
