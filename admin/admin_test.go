package admin

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/semigate/gateway"
	"github.com/jmcleod/semigate/semi"
	"github.com/jmcleod/semigate/session"
	"github.com/jmcleod/semigate/stats"
)

type nullSender struct{}

func (nullSender) Send(dst session.Endpoint, payload []byte) error { return nil }
func (nullSender) Forward(forwarder, dst session.Endpoint, payload []byte) error { return nil }

type adminFixture struct {
	api        *API
	store      *session.Store
	registry   *stats.Registry
	correlator *gateway.Correlator
	server     *httptest.Server
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &adminFixture{
		store:    session.NewStore(session.WithLogger(logger)),
		registry: stats.NewRegistry(stats.WithLogger(logger)),
	}
	t.Cleanup(f.store.Stop)

	disp := gateway.NewDispatcher(gateway.DispatcherConfig{
		Codec:  semi.BinaryCodec{},
		Sender: nullSender{},
		Logger: logger,
	})
	f.correlator = gateway.NewCorrelator(f.store, disp,
		gateway.WithCorrelatorLogger(logger),
		gateway.WithPendingCapacity(2),
	)
	engine := gateway.NewEngine(f.store, semi.BinaryCodec{}, disp, gateway.WithLogger(logger))

	f.api = New(f.store, f.registry, f.correlator, engine, WithLogger(logger))
	f.server = httptest.NewServer(f.api.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *adminFixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func (f *adminFixture) post(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.server.URL+path, "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	f := newAdminFixture(t)
	resp, body := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "OK", string(body))
}

func TestStatsEndpoint(t *testing.T) {
	f := newAdminFixture(t)
	c := f.registry.Register("UDP")
	c.IncTotal()
	c.IncSuccess()

	resp, body := f.get(t, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "UDP received 1 messages, 1 successful")
}

func TestSessionsEndpoint(t *testing.T) {
	f := newAdminFixture(t)

	src := session.NewEndpoint([]byte{10, 0, 0, 1}, 4000, false)
	f.store.Put(session.New(session.NewKey(src, semi.DialogAdvisoryDeposit, 1, 2), time.Minute))
	f.correlator.Submit("pending-receipt")

	resp, body := f.get(t, "/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Sessions        int   `json:"sessions"`
		PendingReceipts int   `json:"pending_receipts"`
		Dropped         int64 `json:"dropped"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 1, got.Sessions)
	assert.Equal(t, 1, got.PendingReceipts)
	assert.Zero(t, got.Dropped)
}

func TestSubmitReceipt(t *testing.T) {
	f := newAdminFixture(t)

	sess := session.New(session.NewKey(
		session.NewEndpoint([]byte{10, 0, 0, 2}, 4000, false),
		semi.DialogAdvisoryDistribution, 1, 2), time.Minute)
	sess.AddMarker(semi.MarkerAccept)
	f.store.Put(sess)

	resp := f.post(t, "/receipts/"+sess.ID())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	f.correlator.Process()
	require.True(t, sess.IsClosed())
}

func TestSubmitReceiptQueueFull(t *testing.T) {
	f := newAdminFixture(t)

	require.Equal(t, http.StatusAccepted, f.post(t, "/receipts/a").StatusCode)
	require.Equal(t, http.StatusAccepted, f.post(t, "/receipts/b").StatusCode)
	require.Equal(t, http.StatusServiceUnavailable, f.post(t, "/receipts/c").StatusCode)
}

func TestOpenAPISpecServed(t *testing.T) {
	f := newAdminFixture(t)
	resp, body := f.get(t, "/openapi.yaml")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "Semigate Admin API")
}
