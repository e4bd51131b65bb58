package stats

import (
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportEmpty(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, "Received 0 messages of any type", r.Report())

	// Registered but untouched counters still report as zero traffic.
	r.Register("UDP")
	require.Equal(t, "Received 0 messages of any type", r.Report())
}

func TestReportAggregatesCounters(t *testing.T) {
	r := NewRegistry()
	a := r.Register("A")
	b := r.Register("B")

	a.IncTotal()
	a.IncTotal()
	a.IncTotal()
	a.IncSuccess()

	b.IncTotal()
	b.IncSuccess()
	b.IncTotal()
	b.IncSuccess()

	report := r.Report()
	assert.Contains(t, report, "A received 3 messages, 1 successful")
	assert.Contains(t, report, "B received 2 messages, 2 successful")
	assert.Contains(t, report, "received total 5 messages, 3 successful.")
}

func TestCounterConcurrency(t *testing.T) {
	r := NewRegistry()
	c := r.Register("UDP")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				c.IncTotal()
				if j%2 == 0 {
					c.IncSuccess()
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int64(8000), c.Total())
	require.Equal(t, int64(4000), c.Success())
}

func TestFormatUptime(t *testing.T) {
	d := 26*time.Hour + 3*time.Minute + 7*time.Second + 250*time.Millisecond
	require.Equal(t, "01d 02h 03m 07.25s", formatUptime(d))
	require.Equal(t, "00d 00h 00m 00.00s", formatUptime(0))
}

func TestTerminateEmitsFinalReport(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := NewRegistry(WithLogger(logger), WithReportInterval(time.Hour))
	r.Register("UDP").IncTotal()
	r.Start()
	r.Terminate()

	require.Contains(t, buf.String(), "UDP received 1 messages, 0 successful")

	// Terminate is idempotent.
	r.Terminate()
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
