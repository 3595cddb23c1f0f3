// Package chserver exposes a node over HTTP:
// engine status, committed blocks and intents, intent submission,
// and prometheus metrics.
package chserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/chaoschain/chaoscore/chcodec"
	"github.com/chaoschain/chaoscore/chconsensus"
	"github.com/chaoschain/chaoscore/chengine"
	"github.com/chaoschain/chaoscore/chstore"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource reports engine status. [*chengine.Engine] satisfies it.
type StatusSource interface {
	Status(context.Context) (chengine.Status, error)
}

// Submitter admits intents. [*chgulfstream.GulfStream] satisfies it.
type Submitter interface {
	Submit(context.Context, chconsensus.Intent) (chconsensus.IntentID, error)
}

// PendingSource lists pending intents. [*chmempool.Mempool] satisfies it.
type PendingSource interface {
	Drain(max int) []chconsensus.Intent
	Get(chconsensus.IntentID) (chconsensus.Intent, bool)
	Len() int
}

type HTTPServer struct {
	done chan struct{}
}

type HTTPServerConfig struct {
	Listener net.Listener

	Engine    StatusSource
	Submitter Submitter
	Pending   PendingSource
	Chain     chstore.CommittedChain
	Codec     chcodec.Codec

	// Served at /metrics when set.
	Gatherer prometheus.Gatherer

	// Enables the /debug routes.
	Debug bool
}

func NewHTTPServer(ctx context.Context, log *slog.Logger, cfg HTTPServerConfig) *HTTPServer {
	srv := &http.Server{
		Handler: newMux(log, cfg),

		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	h := &HTTPServer{
		done: make(chan struct{}),
	}
	go h.serve(log, cfg.Listener, srv)
	go h.waitForShutdown(ctx, srv)

	return h
}

func (h *HTTPServer) Wait() {
	<-h.done
}

func (h *HTTPServer) waitForShutdown(ctx context.Context, srv *http.Server) {
	select {
	case <-h.done:
		// h.serve returned on its own, nothing left to do here.
		return
	case <-ctx.Done():
		_ = srv.Close()
	}
}

func (h *HTTPServer) serve(log *slog.Logger, ln net.Listener, srv *http.Server) {
	defer close(h.done)

	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			log.Info("HTTP server shutting down")
		} else {
			log.Info("HTTP server shutting down due to error", "err", err)
		}
	}
}

func newMux(log *slog.Logger, cfg HTTPServerConfig) http.Handler {
	r := mux.NewRouter()

	h := handler{log: log, cfg: cfg}

	r.HandleFunc("/status", h.HandleStatus).Methods("GET")

	r.HandleFunc("/blocks/tip", h.HandleTip).Methods("GET")
	r.HandleFunc("/blocks/{height:[0-9]+}", h.HandleBlockAt).Methods("GET")

	r.HandleFunc("/intents", h.HandleSubmitIntent).Methods("POST")
	r.HandleFunc("/intents/{id:[0-9a-fA-F]{64}}", h.HandleIntent).Methods("GET")

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	if cfg.Debug {
		r.HandleFunc("/debug/pending_intents", h.HandlePendingIntents).Methods("GET")
	}

	return r
}
