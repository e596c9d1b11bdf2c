package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remux",
		Subsystem: "client",
		Name:      "rpc_duration_seconds",
		Help:      "Round trip time from writing a request to decoding its reply.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pdu"})

	rpcErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "remux",
		Subsystem: "client",
		Name:      "rpc_errors_total",
		Help:      "Calls that resolved with an error.",
	}, []string{"pdu"})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "remux",
		Subsystem: "client",
		Name:      "reconnects_total",
		Help:      "Successful reconnections after a dropped connection.",
	})
)
