// Package admin exposes the gateway's operational HTTP surface: health,
// traffic statistics, session counts and receipt submission. It never
// carries application traffic; datagrams travel over UDP only.
package admin

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	oaMiddleware "github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/semigate/gateway"
	"github.com/jmcleod/semigate/session"
	"github.com/jmcleod/semigate/stats"
)

//go:embed openapi.yaml
var openapiSpec []byte

// API holds the dependencies needed by the admin handlers.
type API struct {
	store      *session.Store
	registry   *stats.Registry
	correlator *gateway.Correlator
	engine     *gateway.Engine
	log        *slog.Logger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for admin events.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.log = logger.With("component", "admin")
	}
}

// New creates a new admin API instance.
func New(store *session.Store, registry *stats.Registry, correlator *gateway.Correlator, engine *gateway.Engine, opts ...Option) *API {
	a := &API{
		store:      store,
		registry:   registry,
		correlator: correlator,
		engine:     engine,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("component", "admin")
	}
	return a
}

// Router returns a chi.Router with all admin routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})
	r.Handle("/docs*", oaMiddleware.SwaggerUI(oaMiddleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))
	r.Handle("/redoc*", oaMiddleware.Redoc(oaMiddleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", a.Health)
	r.Get("/stats", a.Stats)
	r.Get("/sessions", a.Sessions)
	r.Post("/receipts/{receiptID}", a.SubmitReceipt)

	return r
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// Stats returns the current traffic report in the same format the registry
// writes to the log on its reporting interval.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(a.registry.Report()))
}

// Sessions returns current session and pending receipt counts.
func (a *API) Sessions(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Sessions        int   `json:"sessions"`
		PendingReceipts int   `json:"pending_receipts"`
		Dropped         int64 `json:"dropped"`
	}{
		Sessions:        a.store.Len(),
		PendingReceipts: a.correlator.Pending(),
		Dropped:         a.engine.Dropped(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// SubmitReceipt queues a session ID for receipt correlation, as an external
// distribution component would after completing a delivery.
func (a *API) SubmitReceipt(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "receiptID")
	if id == "" {
		http.Error(w, "missing receipt ID", http.StatusBadRequest)
		return
	}
	if !a.correlator.Submit(id) {
		a.log.Warn("receipt queue full", "receipt_id", id)
		http.Error(w, "receipt queue full", http.StatusServiceUnavailable)
		return
	}
	a.correlator.Wake()
	w.WriteHeader(http.StatusAccepted)
}
