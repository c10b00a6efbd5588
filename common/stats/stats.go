// Package stats provides a scoped receiver over go-metrics registries.
// Callers obtain counters and gauges through a StatsReceiver so that
// instrumented code stays independent of the backing registry, and tests
// can swap in a fresh one.
package stats

import (
	"strings"

	"github.com/rcrowley/go-metrics"
)

// StatsReceiver hands out metrics within a scope. Scoping is cheap, so
// callers can create scoped receivers per subsystem.
type StatsReceiver interface {
	// Scope returns a receiver prefixed by the given scope elements.
	Scope(scope ...string) StatsReceiver
	// Counter returns a counter for the scoped name, registering it on
	// first use.
	Counter(name ...string) metrics.Counter
	// Gauge returns a gauge for the scoped name, registering it on first
	// use.
	Gauge(name ...string) metrics.Gauge
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

// DefaultStatsReceiver returns a receiver backed by the process-wide
// default registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.DefaultRegistry}
}

// NewCustomStatsReceiver returns a receiver backed by the given registry.
func NewCustomStatsReceiver(registry metrics.Registry) StatsReceiver {
	return &defaultStatsReceiver{registry: registry}
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{
		registry: s.registry,
		scope:    append(append([]string{}, s.scope...), scope...),
	}
}

func (s *defaultStatsReceiver) Counter(name ...string) metrics.Counter {
	return metrics.GetOrRegisterCounter(s.scopedName(name...), s.registry)
}

func (s *defaultStatsReceiver) Gauge(name ...string) metrics.Gauge {
	return metrics.GetOrRegisterGauge(s.scopedName(name...), s.registry)
}

func (s *defaultStatsReceiver) scopedName(name ...string) string {
	return strings.Join(append(append([]string{}, s.scope...), name...), "/")
}

// NilStatsReceiver discards all metrics.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) metrics.Counter {
	return metrics.NilCounter{}
}
func (s *nilStatsReceiver) Gauge(name ...string) metrics.Gauge {
	return metrics.NilGauge{}
}
