// Package metrics holds the streamer's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "nes"

// Publish routes.
const (
	RouteAll      = "all"
	RouteEvent    = "event"
	RouteMetadata = "metadata"
)

type Metrics struct {
	blocksProcessed     prometheus.Counter
	blocksInFlight      prometheus.Gauge
	lastProcessedHeight prometheus.Gauge
	blockDuration       prometheus.Histogram
	eventsExtracted     prometheus.Counter
	eventsFiltered      prometheus.Counter
	malformedEvents     prometheus.Counter
	published           *prometheus.CounterVec
	publishFailures     *prometheus.CounterVec
	enrichFailures      prometheus.Counter
}

// New creates the collectors and registers them with reg, or the default
// registerer when reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		blocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "blocks_processed_total",
			Help: "Blocks fully handled.",
		}),
		blocksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "blocks_in_flight",
			Help: "Blocks currently being handled.",
		}),
		lastProcessedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_processed_block_height",
			Help: "Highest block height that completed.",
		}),
		blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "block_duration_seconds",
			Help:    "Time spent handling one block.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		eventsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_extracted_total",
			Help: "Events parsed from EVENT_JSON log lines.",
		}),
		eventsFiltered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_filtered_total",
			Help: "Events dropped by the contract whitelist or blacklist.",
		}),
		malformedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "malformed_events_total",
			Help: "EVENT_JSON log lines that failed to parse.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_published_total",
			Help: "Messages delivered, by route.",
		}, []string{"route"}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "publish_failures_total",
			Help: "Messages that failed provisioning or delivery, by route.",
		}, []string{"route"}),
		enrichFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "enrichment_item_failures_total",
			Help: "Token metadata lookups that failed and were published without metadata.",
		}),
	}

	collectors := []prometheus.Collector{
		m.blocksProcessed, m.blocksInFlight, m.lastProcessedHeight, m.blockDuration,
		m.eventsExtracted, m.eventsFiltered, m.malformedEvents,
		m.published, m.publishFailures, m.enrichFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) BlockStarted() {
	if m == nil {
		return
	}
	m.blocksInFlight.Inc()
}

// BlockFinished records a completed block. lastHeight is the tracker's
// highest completed height.
func (m *Metrics) BlockFinished(elapsed time.Duration, lastHeight uint64) {
	if m == nil {
		return
	}
	m.blocksInFlight.Dec()
	m.blocksProcessed.Inc()
	m.blockDuration.Observe(elapsed.Seconds())
	m.lastProcessedHeight.Set(float64(lastHeight))
}

// BlockFailed releases the in-flight slot of a block that errored.
func (m *Metrics) BlockFailed() {
	if m == nil {
		return
	}
	m.blocksInFlight.Dec()
}

func (m *Metrics) EventsExtracted(n int) {
	if m == nil {
		return
	}
	m.eventsExtracted.Add(float64(n))
}

func (m *Metrics) EventsFiltered(n int) {
	if m == nil {
		return
	}
	m.eventsFiltered.Add(float64(n))
}

func (m *Metrics) MalformedEvent() {
	if m == nil {
		return
	}
	m.malformedEvents.Inc()
}

func (m *Metrics) Published(route string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(route).Inc()
}

func (m *Metrics) PublishFailed(route string) {
	if m == nil {
		return
	}
	m.publishFailures.WithLabelValues(route).Inc()
}

func (m *Metrics) EnrichmentItemFailed() {
	if m == nil {
		return
	}
	m.enrichFailures.Inc()
}

// Serve exposes gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
