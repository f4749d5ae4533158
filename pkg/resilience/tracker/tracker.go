// Package tracker implements the error tracker half of C9: a purely
// observational counter/histogram that must never affect dispatch
// correctness (spec.md section 4.9/5/8). It is backed by
// prometheus/client_golang's CounterVec registered against a private
// registry that is never mounted to an HTTP handler, so the teacher's
// metrics dependency is exercised as an in-process data structure rather
// than as an exporter.
package tracker

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	pforgeerrors "github.com/pforge-dev/pforge/pkg/errors"
)

// ErrorTracker counts dispatch failures, both in total and broken down by
// error kind. Counting never returns an error and never blocks a caller on
// anything but the label-vector's own internal mutex, which is held only
// for the duration of a single increment.
type ErrorTracker struct {
	total    atomic.Int64
	registry *prometheus.Registry
	byKind   *prometheus.CounterVec
}

// New constructs an ErrorTracker with its own private prometheus.Registry.
// The registry is intentionally not exposed for HTTP scraping; telemetry
// exporters are out of scope (spec.md Non-goals), but the counting
// machinery itself is real.
func New() *ErrorTracker {
	byKind := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pforge_dispatch_errors_total",
		Help: "Count of tool dispatch failures by error kind.",
	}, []string{"kind"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(byKind)

	return &ErrorTracker{registry: registry, byKind: byKind}
}

// Record increments the total and per-kind counters for err. A nil err is a
// no-op. Record must never be allowed to panic or block the dispatch path;
// CounterVec.WithLabelValues is safe to call concurrently.
func (t *ErrorTracker) Record(err error) {
	if err == nil {
		return
	}
	t.total.Add(1)
	t.byKind.WithLabelValues(string(pforgeerrors.KindOf(err))).Inc()
}

// Total returns the running count of tracked errors across all kinds.
func (t *ErrorTracker) Total() int64 {
	return t.total.Load()
}

// CountFor returns the current count for a single error kind. It gathers
// the underlying metric family rather than keeping a parallel map, so the
// prometheus CounterVec stays the single source of truth.
func (t *ErrorTracker) CountFor(kind pforgeerrors.Kind) float64 {
	families, err := t.registry.Gather()
	if err != nil {
		return 0
	}
	for _, family := range families {
		if family.GetName() != "pforge_dispatch_errors_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "kind" && label.GetValue() == string(kind) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
