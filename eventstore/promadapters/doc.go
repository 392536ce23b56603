// Package promadapters implements the eventstore.MetricsCollector port with
// Prometheus instruments and exports processor lag as a gauge.
//
// Prometheus metric vectors need a fixed label-name set per metric, so each
// metric's label names are pinned on first observation; later observations
// of the same metric must carry the same label keys or they are dropped.
package promadapters
