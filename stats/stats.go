// Package stats tracks per-input-channel message counters and reports them
// periodically through the structured logger.
package stats

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultReportInterval is how often the registry logs a report line.
const DefaultReportInterval = 5 * time.Minute

// Counter counts messages received and successfully processed on one input
// channel.
type Counter struct {
	name    string
	total   atomic.Int64
	success atomic.Int64
}

func (c *Counter) Name() string { return c.name }

// IncTotal counts one received message.
func (c *Counter) IncTotal() { c.total.Add(1) }

// IncSuccess counts one successfully processed message.
func (c *Counter) IncSuccess() { c.success.Add(1) }

func (c *Counter) Total() int64   { return c.total.Load() }
func (c *Counter) Success() int64 { return c.success.Load() }

// Registry owns a set of counters and the periodic reporting loop.
type Registry struct {
	mu       sync.Mutex
	counters []*Counter

	start    time.Time
	interval time.Duration
	log      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.log = logger.With("component", "stats") }
}

// WithReportInterval sets how often a report line is logged.
func WithReportInterval(interval time.Duration) Option {
	return func(r *Registry) { r.interval = interval }
}

// NewRegistry creates a counter registry. Call Start to launch periodic
// reporting and Terminate to stop it with a final report.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		start:    time.Now(),
		interval: DefaultReportInterval,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "stats")
	}
	return r
}

// Register adds a named counter and returns it.
func (r *Registry) Register(name string) *Counter {
	c := &Counter{name: name}
	r.mu.Lock()
	r.counters = append(r.counters, c)
	r.mu.Unlock()
	r.log.Debug("registered counter", "name", name)
	return c
}

// Report renders the counter summary line.
func (r *Registry) Report() string {
	r.mu.Lock()
	counters := make([]*Counter, len(r.counters))
	copy(counters, r.counters)
	r.mu.Unlock()

	var sb strings.Builder
	var total, success int64
	for _, c := range counters {
		tc, sc := c.Total(), c.Success()
		fmt.Fprintf(&sb, "%s received %d messages, %d successful; ", c.name, tc, sc)
		total += tc
		success += sc
	}
	if total == 0 {
		return "Received 0 messages of any type"
	}
	delta := time.Since(r.start)
	fmt.Fprintf(&sb, "In %s (%d ms) received total %d messages, %d successful.",
		formatUptime(delta), delta.Milliseconds(), total, success)
	return sb.String()
}

func (r *Registry) report() {
	r.log.Info(r.Report())
}

// Start launches the periodic reporting loop.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.report()
			case <-r.stop:
				return
			}
		}
	}()
}

// Terminate stops the loop and emits one final report. The final report can
// be redundant with the last scheduled one; that beats losing it.
func (r *Registry) Terminate() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
	r.report()
}

func formatUptime(d time.Duration) string {
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	return fmt.Sprintf("%02dd %02dh %02dm %05.2fs", days, hours, minutes, d.Seconds())
}
