package odb

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	metricEventsEmitted = metrics.NewCounter("odb_change_events_emitted_total")
	metricEventsDropped = metrics.NewCounter("odb_change_events_dropped_total")
	metricSubscriptions = metrics.NewGauge("odb_subscriptions_active", nil)
)
