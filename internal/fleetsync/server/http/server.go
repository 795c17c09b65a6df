package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/autopeer-io/fleetsync/internal/fleetsync/core"
	"github.com/autopeer-io/fleetsync/internal/fleetsync/core/model"
	"github.com/autopeer-io/fleetsync/internal/pkg/metrics"
	"github.com/autopeer-io/fleetsync/pkg/log"
	"github.com/autopeer-io/fleetsync/pkg/options"
)

const readyTimeout = 3 * time.Second

// API is the service surface exposed over HTTP.
type API interface {
	SyncMetrics() model.SyncMetrics
	SyncProgress(ctx context.Context) (model.SyncProgress, error)
	PollMetrics() model.PollMetrics
	Health(ctx context.Context, refresh bool) model.HealthSnapshot
	ResolveAlert(id string) bool
	ForceSync(ctx context.Context) (model.SyncMetrics, error)
	ResetAndRestart(ctx context.Context) error
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
	api     API
	ready   core.Pinger
	logger  log.Logger
}

// NewServer builds the admin server. ready backs /readyz and may be nil.
func NewServer(opts *options.HttpOptions, api API, ready core.Pinger) *Server {
	s := &Server{
		options: opts,
		api:     api,
		ready:   ready,
		logger:  log.WithName("http"),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.ReadTimeout,
		ReadTimeout:       opts.ReadTimeout,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Probes
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sync/metrics", s.syncMetrics).Methods(http.MethodGet)
	api.HandleFunc("/sync/progress", s.syncProgress).Methods(http.MethodGet)
	api.HandleFunc("/polling/metrics", s.pollMetrics).Methods(http.MethodGet)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/health/alerts/{id}/resolve", s.resolveAlert).Methods(http.MethodPost)
	api.HandleFunc("/admin/force-sync", s.forceSync).Methods(http.MethodPost)
	api.HandleFunc("/admin/reset", s.reset).Methods(http.MethodPost)

	return r
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			http.Error(w, "datastore unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) syncMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.api.SyncMetrics())
}

func (s *Server) syncProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.api.SyncProgress(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) pollMetrics(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.api.PollMetrics())
}

// health serves the last snapshot; ?refresh=true runs a check first.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"
	s.writeJSON(w, http.StatusOK, s.api.Health(r.Context(), refresh))
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.api.ResolveAlert(id) {
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: "alert not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) forceSync(w http.ResponseWriter, r *http.Request) {
	m, err := s.api.ForceSync(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if err := s.api.ResetAndRestart(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, s.api.PollMetrics())
}

type errorBody struct {
	Error string         `json:"error"`
	Kind  core.ErrorKind `json:"kind,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrSyncInProgress) {
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	}

	kind := core.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case core.KindConnectivity, core.KindAuthentication, core.KindAPI:
		status = http.StatusBadGateway
	case core.KindDatastore:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(err, "Failed to write response")
	}
}
