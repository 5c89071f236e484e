package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector exposes Prometheus metrics for inbound HTTP requests and the
// capture/store pipeline.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	recordsIngested *prometheus.CounterVec
	ingestRejected  *prometheus.CounterVec
	sweepDeleted    prometheus.Counter
	storedRecords   prometheus.Gauge
}

// NewCollector constructs a collector with default histograms/counters.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "graphsnap",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphsnap",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	recordsIngested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphsnap",
		Subsystem: "store",
		Name:      "records_ingested_total",
		Help:      "Connection records accepted by the store, by relation kind.",
	}, []string{"relation"})

	ingestRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "graphsnap",
		Subsystem: "store",
		Name:      "ingest_rejected_total",
		Help:      "Ingest requests rejected as a unit, by reason.",
	}, []string{"reason"})

	sweepDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "graphsnap",
		Subsystem: "store",
		Name:      "sweep_deleted_total",
		Help:      "Records removed by the retention sweep.",
	})

	storedRecords := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "graphsnap",
		Subsystem: "store",
		Name:      "records",
		Help:      "Current number of stored connection records.",
	})

	for _, c := range []prometheus.Collector{
		requestDuration, requestTotal, recordsIngested, ingestRejected, sweepDeleted, storedRecords,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:        registry,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		recordsIngested: recordsIngested,
		ingestRejected:  ingestRejected,
		sweepDeleted:    sweepDeleted,
		storedRecords:   storedRecords,
	}, nil
}

// RecordsIngested increments the accepted-record counter for a relation kind.
func (c *Collector) RecordsIngested(relation string, n int) {
	c.recordsIngested.WithLabelValues(relation).Add(float64(n))
}

// IngestRejected increments the rejected-ingest counter for a reason.
func (c *Collector) IngestRejected(reason string) {
	c.ingestRejected.WithLabelValues(reason).Inc()
}

// SweepDeleted adds to the retention-sweep deletion counter.
func (c *Collector) SweepDeleted(n int) {
	c.sweepDeleted.Add(float64(n))
}

// SetStoredRecords updates the stored-record gauge.
func (c *Collector) SetStoredRecords(n int) {
	c.storedRecords.Set(float64(n))
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
