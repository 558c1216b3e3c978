// Package api implements the status API of the service: health, Prometheus metrics and wallet statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tarancss/stakewatch/lib/metrics"
	"github.com/tarancss/stakewatch/lib/store"
)

const timeout = 15

// API serves the status endpoints.
type API struct {
	db  store.DB
	met *metrics.Metrics
	log *logrus.Entry
	s   *http.Server
}

// Response defines the data structure returned on errors.
type Response struct {
	Error string `json:"error,omitempty"`
}

// New returns an API. met may be nil, then /metrics is not served.
func New(db store.DB, met *metrics.Metrics, log *logrus.Entry) *API {
	return &API{db: db, met: met, log: log}
}

// Router returns the API definition.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.healthHandler).Methods("GET")
	r.HandleFunc("/stats", a.statsHandler).Methods("GET")

	if a.met != nil {
		r.Handle("/metrics", a.met.Handler()).Methods("GET")
	}

	return r
}

// Init starts the http server on endpoint:port. It returns once the server is listening in the background.
func (a *API) Init(endpoint, port string) {
	a.s = &http.Server{
		Handler: a.Router(),
		Addr:    endpoint + ":" + port,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: timeout * time.Second,
		ReadTimeout:  timeout * time.Second,
	}

	go func() {
		if err := a.s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.WithError(err).Error("status API stopped")
		}
	}()

	a.log.WithField("addr", a.s.Addr).Info("listening to status API requests")
}

// Stop shuts down the http server.
func (a *API) Stop(ctx context.Context) error {
	if a.s == nil {
		return nil
	}

	return a.s.Shutdown(ctx)
}

func (a *API) healthHandler(rw http.ResponseWriter, _ *http.Request) {
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("ok"))
}

// statsHandler replies the number of wallets and users.
func (a *API) statsHandler(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json;charset=utf8")

	st, err := a.db.Stats(r.Context())
	if err != nil {
		a.log.WithError(err).Error("cannot get stats")
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(Response{Error: err.Error()})

		return
	}

	_ = json.NewEncoder(rw).Encode(st)
}
