package predict

import (
	"time"

	"github.com/charmbracelet/log"
)

// Resolution is reported once per completion request that produced a
// suggestion.
type Resolution struct {
	DocID           string
	ProviderLatency time.Duration
	TotalLatency    time.Duration
	CacheHit        bool
}

// Metrics receives resolutions. Delivery is fire-and-forget: Observe runs
// off the request path and a panic in it is swallowed.
type Metrics interface {
	Observe(Resolution)
}

// MetricsFunc adapts a function to Metrics.
type MetricsFunc func(Resolution)

// Observe implements Metrics.
func (f MetricsFunc) Observe(r Resolution) { f(r) }

// LogMetrics writes resolutions to l at debug level.
func LogMetrics(l *log.Logger) Metrics {
	return MetricsFunc(func(r Resolution) {
		l.Debug("resolved",
			"doc", r.DocID,
			"provider", r.ProviderLatency,
			"total", r.TotalLatency,
			"hit", r.CacheHit)
	})
}

type noMetrics struct{}

func (noMetrics) Observe(Resolution) {}
