package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"image-filter/internal/index"
	"image-filter/internal/logging"
	"image-filter/internal/thumbcache"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes metrics and cache introspection over HTTP. It is
// optional; nothing in the pipeline depends on it.
type Server struct {
	srv *http.Server
}

type statusPayload struct {
	Images    int              `json:"images"`
	Pending   int              `json:"pending"`
	Kept      int              `json:"kept"`
	Skipped   int              `json:"skipped"`
	Cache     thumbcache.Stats `json:"cache"`
	Timestamp time.Time        `json:"timestamp"`
}

// Start serves /metrics, /healthz, and /cachez on addr until Stop.
func Start(addr string, cache *thumbcache.Cache, idx *index.Index) *Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(cache, idx),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Info("Debug listener on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Debug listener failed: %v", err)
		}
	}()

	return &Server{srv: srv}
}

// Handler builds the debug route table.
func Handler(cache *thumbcache.Cache, idx *index.Index) http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/cachez", func(w http.ResponseWriter, _ *http.Request) {
		payload := statusPayload{
			Images:    idx.Len(),
			Pending:   idx.CountDecision(index.Pending),
			Kept:      idx.CountDecision(index.Kept),
			Skipped:   idx.CountDecision(index.Skipped),
			Cache:     cache.Snapshot(),
			Timestamp: time.Now(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logging.Warn("Failed to encode cache status: %v", err)
		}
	}).Methods(http.MethodGet)

	return r
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
