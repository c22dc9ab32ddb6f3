package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "filehttp"

// Metrics holds the instrumentation of the receive loop. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	reallocations prometheus.Counter
	invalidated   prometheus.Counter
	responseBytes prometheus.Counter
	bufferBytes   prometheus.Gauge
}

// NewMetrics creates the loop metrics and registers them with reg when it
// isn't nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of answered requests by verb and status code.",
		}, []string{"verb", "code"}),
		reallocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_buffer_reallocations_total",
			Help:      "Total number of times the request buffer was too small and had to be reallocated.",
		}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_connections_total",
			Help:      "Total number of requests dropped because the client went away while they were retried.",
		}),
		responseBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Total number of bytes sent in responses.",
		}),
		bufferBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "request_buffer_bytes",
			Help:      "Current size of the request buffer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.reallocations, m.invalidated, m.responseBytes, m.bufferBytes)
	}
	return m
}

func (m *Metrics) observeResponse(verb string, code uint16, n int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(verb, strconv.Itoa(int(code))).Inc()
	m.responseBytes.Add(float64(n))
}

func (m *Metrics) observeBuffer(size int, realloc bool) {
	if m == nil {
		return
	}
	if realloc {
		m.reallocations.Inc()
	}
	m.bufferBytes.Set(float64(size))
}

func (m *Metrics) observeInvalidated() {
	if m == nil {
		return
	}
	m.invalidated.Inc()
}
