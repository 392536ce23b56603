package promadapters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sequentic/aggregate-streams-eventstore-go/consistency"
)

// LagGauge exports per-processor lag collected by a consistency.LagMonitor
// as a Prometheus gauge labeled by processor name.
type LagGauge struct {
	behind   *prometheus.GaugeVec
	bookmark *prometheus.GaugeVec
}

// NewLagGauge registers the lag gauges with the given registerer.
func NewLagGauge(registerer prometheus.Registerer) *LagGauge {
	factory := promauto.With(registerer)

	return &LagGauge{
		behind: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "processor_lag_events",
			Help: "events between the log head and the processor bookmark",
		}, []string{"processor"}),
		bookmark: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "processor_bookmark_sequence",
			Help: "last global sequence the processor has fully handled",
		}, []string{"processor"}),
	}
}

// Callback adapts the gauge to the LagMonitor's callback port.
func (g *LagGauge) Callback() consistency.LagCallback {
	return func(lag consistency.Lag) {
		g.behind.WithLabelValues(lag.Name).Set(float64(lag.Behind()))
		g.bookmark.WithLabelValues(lag.Name).Set(float64(lag.BookmarkSequence))
	}
}
