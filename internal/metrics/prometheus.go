// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package metrics

import (
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder records metrics into a Prometheus registry.
type PromRecorder struct {
	opTotal   *prom.CounterVec
	opSeconds *prom.HistogramVec
	decisions *prom.CounterVec
	consensus *prom.CounterVec
}

// NewPromRecorder creates the collectors and registers them with reg.
func NewPromRecorder(reg prom.Registerer) (*PromRecorder, error) {
	p := &PromRecorder{
		opTotal: prom.NewCounterVec(prom.CounterOpts{
			Name: "capsule_engine_ops_total",
			Help: "Total number of engine operations",
		}, []string{"op", "success"}),
		opSeconds: prom.NewHistogramVec(prom.HistogramOpts{
			Name:    "capsule_engine_op_seconds",
			Help:    "Engine operation duration in seconds",
			Buckets: prom.DefBuckets,
		}, []string{"op", "success"}),
		decisions: prom.NewCounterVec(prom.CounterOpts{
			Name: "capsule_engine_validator_decisions_total",
			Help: "Validator decisions by validator and decision",
		}, []string{"validator", "decision"}),
		consensus: prom.NewCounterVec(prom.CounterOpts{
			Name: "capsule_engine_consensus_total",
			Help: "Consensus outcomes by status",
		}, []string{"status"}),
	}
	for _, c := range []prom.Collector{p.opTotal, p.opSeconds, p.decisions, p.consensus} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return p, nil
}

func (p *PromRecorder) IncOpTotal(op string, success bool) {
	p.opTotal.WithLabelValues(op, fmt.Sprintf("%t", success)).Inc()
}

func (p *PromRecorder) ObserveOpSeconds(op string, success bool, seconds float64) {
	p.opSeconds.WithLabelValues(op, fmt.Sprintf("%t", success)).Observe(seconds)
}

func (p *PromRecorder) IncDecision(validator, decision string) {
	p.decisions.WithLabelValues(validator, decision).Inc()
}

func (p *PromRecorder) IncConsensus(status string) {
	p.consensus.WithLabelValues(status).Inc()
}

// Handler serves /metrics from g and a plain /healthz.
func Handler(g prom.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Enable creates a Prometheus recorder on a fresh registry and starts
// serving it on addr. The returned server is already listening in the
// background; callers shut it down when done.
func Enable(addr string) (*PromRecorder, *http.Server, error) {
	registry := prom.NewRegistry()
	p, err := NewPromRecorder(registry)
	if err != nil {
		return nil, nil, err
	}

	srv := &http.Server{Addr: addr, Handler: Handler(registry)}
	go func() { _ = srv.ListenAndServe() }()
	return p, srv, nil
}
