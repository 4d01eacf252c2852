// Package metrics wraps github.com/armon/go-metrics into the small counter/
// gauge surface qcache's caches and Retryer emit through, the same
// ambient-observability library the rest of this ecosystem's tools use
// internally.
package metrics

import (
	"time"

	gometrics "github.com/armon/go-metrics"
)

// Recorder emits counters and gauges. A nil *Recorder is safe to call
// (every method no-ops), so components can hold one unconditionally.
type Recorder struct {
	m *gometrics.Metrics
}

// New constructs a Recorder backed by an in-memory sink (no external
// metrics backend dependency) that aggregates over 10-second intervals and
// retains one minute of them for introspection.
func New(serviceName string) *Recorder {
	cfg := gometrics.DefaultConfig(serviceName)
	cfg.EnableHostname = false
	cfg.EnableRuntimeMetrics = false
	sink := gometrics.NewInmemSink(10*time.Second, time.Minute)
	m, err := gometrics.New(cfg, sink)
	if err != nil {
		return nil
	}
	return &Recorder{m: m}
}

func (r *Recorder) IncrCounter(key []string, val float32) {
	if r == nil || r.m == nil {
		return
	}
	r.m.IncrCounter(key, val)
}

func (r *Recorder) SetGauge(key []string, val float32) {
	if r == nil || r.m == nil {
		return
	}
	r.m.SetGauge(key, val)
}

func (r *Recorder) MeasureSince(key []string, start time.Time) {
	if r == nil || r.m == nil {
		return
	}
	r.m.MeasureSince(key, start)
}
