// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package metrics provides a small instrumentation surface with a no-op
// default and a Prometheus-backed recorder.
package metrics

import "time"

// Recorder defines the metrics surface used across the engine.
type Recorder interface {
	IncOpTotal(op string, success bool)
	ObserveOpSeconds(op string, success bool, seconds float64)
	IncDecision(validator, decision string)
	IncConsensus(status string)
}

type noopRecorder struct{}

func (noopRecorder) IncOpTotal(string, bool)                {}
func (noopRecorder) ObserveOpSeconds(string, bool, float64) {}
func (noopRecorder) IncDecision(string, string)             {}
func (noopRecorder) IncConsensus(string)                    {}

// Nop returns a recorder that discards everything.
func Nop() Recorder { return noopRecorder{} }

// OrNop returns r, or the no-op recorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

// TimeOp starts timing op and returns a function that records the outcome
// on r.
//
//	done := metrics.TimeOp(s.metrics, "capsule_persist")
//	ok := persist()
//	done(ok)
func TimeOp(r Recorder, op string) func(success bool) {
	r = OrNop(r)
	start := time.Now()
	return func(success bool) {
		r.IncOpTotal(op, success)
		r.ObserveOpSeconds(op, success, time.Since(start).Seconds())
	}
}
