// Package metrics provides the Prometheus counters behind
// hierarchy.Metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Counters counts repair lock failures by source operation.
//
// Counters are registered on the registerer passed to New rather than the
// global default, so each program (and each test) owns its registry.
type Counters struct {
	lockTimeouts *prometheus.CounterVec
	deadlocks    *prometheus.CounterVec
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) (*Counters, error) {
	c := &Counters{
		lockTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathsync",
			Name:      "db_lock_timeout_total",
			Help:      "Counts the times a repair timed out waiting for a lock",
		}, []string{"source"}),
		deadlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pathsync",
			Name:      "db_deadlock_total",
			Help:      "Counts the times a repair deadlocked in the database",
		}, []string{"source"}),
	}

	for _, col := range []prometheus.Collector{c.lockTimeouts, c.deadlocks} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return c, nil
}

// LockTimeout implements hierarchy.Metrics.
func (c *Counters) LockTimeout(source string) {
	c.lockTimeouts.WithLabelValues(source).Inc()
}

// Deadlock implements hierarchy.Metrics.
func (c *Counters) Deadlock(source string) {
	c.deadlocks.WithLabelValues(source).Inc()
}

// WriteTextfile writes everything gathered by g to path in the text
// exposition format, for node_exporter's textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
