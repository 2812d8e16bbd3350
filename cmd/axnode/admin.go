package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/actyx-go/ax/core/coordinator"
)

// newAdminServer builds a small debug/ops HTTP surface separate from the
// chi-routed /api/v2/events API: a liveness probe and the coordinator's
// Prometheus registry. Grounded on the teacher pack's admin-style mux
// servers (e.g. Synnergy's cmd/dexserver, cmd/xchainserver), which route
// a handful of operational endpoints with gorilla/mux rather than the
// richer chi router used for the public API.
func newAdminServer(addr string, coord *coordinator.Coordinator) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(coord.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	return &http.Server{Addr: addr, Handler: r}
}

type adminComponent struct {
	srv *http.Server
}

func (a *adminComponent) Name() string { return "admin-http" }

func (a *adminComponent) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (a *adminComponent) Stop(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}
