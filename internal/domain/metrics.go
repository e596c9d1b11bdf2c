package domain

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	echoLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "remux",
		Subsystem: "domain",
		Name:      "echo_latency_seconds",
		Help:      "Time from tagged input to its echo arriving in a render delta.",
		Buckets:   prometheus.DefBuckets,
	})

	resyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remux",
		Subsystem: "domain",
		Name:      "resyncs_total",
		Help:      "Topology resynchronizations performed.",
	})
)
