package codec

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pduBodyBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "remux",
		Subsystem: "codec",
		Name:      "pdu_body_bytes",
		Help:      "Serialized PDU body size in bytes, as it travels on the wire.",
		Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
	}, []string{"dir", "pdu", "compressed"})
)

func observeFrame(dir, pdu string, bodyLen int, compressed bool) {
	pduBodyBytes.WithLabelValues(dir, pdu, strconv.FormatBool(compressed)).Observe(float64(bodyLen))
}
