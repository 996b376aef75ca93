package main

import (
	"expvar"
	"net/http"
)

// newHealthServer builds the minimal /healthz and /metrics surface
// from spec §4.I: plain net/http plus expvar counters, not a
// Prometheus client. No repo in the example pack pulls
// prometheus/client_golang, and observability layers beyond logs/
// health are out of scope (spec §1).
func newHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", expvar.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
