// Package metrics exposes tako_* Prometheus counters and gauges, adapted
// from the teacher's internal/metrics/metrics.go (same promauto-registered
// globals pattern, new metric names and dimensions for the fetch/publish
// domain instead of container-update scanning).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tako_fetches_total",
		Help: "Total number of fetch invocations by outcome.",
	}, []string{"outcome"})

	PublishesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tako_publishes_total",
		Help: "Total number of publish invocations by outcome.",
	}, []string{"outcome"})

	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tako_fetch_duration_seconds",
		Help:    "Duration of fetch operations.",
		Buckets: prometheus.DefBuckets,
	})

	BlobBytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tako_blob_bytes_downloaded_total",
		Help: "Total bytes of blob content downloaded.",
	})

	ManifestEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tako_manifest_entries",
		Help: "Number of entries in the most recently written local manifest.",
	})

	DownloadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tako_download_errors_total",
		Help: "Total number of failed fetches by download failure kind (transport, size, digest).",
	}, []string{"kind"})

	PointerUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tako_pointer_updates_total",
		Help: "Total number of times the latest pointer was atomically repointed.",
	})
)
