package metrics

import (
	"sync"

	"liguns/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liguns"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	publishOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_outcomes_total",
			Help:      "Schedule entry outcomes by platform and result.",
		},
		[]string{"platform", "result"},
	)

	publishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing one entry.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"platform"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of publish runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	recycled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recycled_entries_total",
			Help:      "Evergreen entries re-queued by the recycler.",
		},
	)

	imagesProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_processed_total",
			Help:      "Images normalized before publishing.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, publishOutcomes, publishDuration, runDuration, recycled, imagesProcessed)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// Subscribe feeds publish events into the collectors.
func Subscribe(bus *events.EventBus) {
	bus.Subscribe(func(e *events.Event) error {
		var p events.EntryEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		publishOutcomes.WithLabelValues(p.Platform, resultLabel(e.Type)).Inc()
		publishDuration.WithLabelValues(p.Platform).Observe(float64(p.DurationMS) / 1000)
		if p.ImageProcessed {
			imagesProcessed.Inc()
		}
		return nil
	}, events.EventEntryPublished, events.EventEntryRetrying, events.EventEntryFailed)

	bus.Subscribe(func(_ *events.Event) error {
		recycled.Inc()
		return nil
	}, events.EventEntryRecycled)

	bus.Subscribe(func(e *events.Event) error {
		var p events.RunEventPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		runDuration.Observe(float64(p.DurationMS) / 1000)
		return nil
	}, events.EventRunCompleted)
}

func resultLabel(eventType string) string {
	switch eventType {
	case events.EventEntryPublished:
		return "success"
	case events.EventEntryRetrying:
		return "retrying"
	default:
		return "failed"
	}
}
