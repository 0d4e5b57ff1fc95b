// Package metrics holds the prometheus collectors for the content pipeline
// and the interaction queue. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lure"

// Metrics groups the collectors used across lure.
type Metrics struct {
	pipelineRuns     *prometheus.CounterVec
	annotationCalls  *prometheus.CounterVec
	annotationChunks prometheus.Histogram
	assetDownloads   *prometheus.CounterVec
	assetRejections  prometheus.Counter
	flushes          *prometheus.CounterVec
	interactions     *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Content pipeline runs by content kind and outcome.",
		}, []string{"kind", "outcome"}),
		annotationCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotation_calls_total",
			Help:      "Remote annotation calls by profile and outcome.",
		}, []string{"profile", "outcome"}),
		annotationChunks: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "annotation_chunks",
			Help:      "Number of chunks a document was split into for annotation.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),
		assetDownloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_downloads_total",
			Help:      "Mirrored asset downloads by reference class and outcome.",
		}, []string{"class", "outcome"}),
		assetRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_path_rejections_total",
			Help:      "System asset paths rejected by the path guard.",
		}),
		flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_flushes_total",
			Help:      "Outbound message flush attempts by outcome.",
		}, []string{"outcome"}),
		interactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_events_total",
			Help:      "Tracking events recorded by kind.",
		}, []string{"event"}),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// PipelineRun records a finished pipeline run.
func (m *Metrics) PipelineRun(kind string, err error) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(kind, outcome(err)).Inc()
}

// AnnotationCall records one remote annotation request.
func (m *Metrics) AnnotationCall(profile string, err error) {
	if m == nil {
		return
	}
	m.annotationCalls.WithLabelValues(profile, outcome(err)).Inc()
}

// AnnotationChunks records how many chunks a document produced.
func (m *Metrics) AnnotationChunks(n int) {
	if m == nil {
		return
	}
	m.annotationChunks.Observe(float64(n))
}

// AssetDownload records a mirrored asset download.
func (m *Metrics) AssetDownload(class string, err error) {
	if m == nil {
		return
	}
	m.assetDownloads.WithLabelValues(class, outcome(err)).Inc()
}

// AssetRejected records a path guard rejection.
func (m *Metrics) AssetRejected() {
	if m == nil {
		return
	}
	m.assetRejections.Inc()
}

// Flush records an outbound message flush attempt.
func (m *Metrics) Flush(err error) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(outcome(err)).Inc()
}

// TrackingEvent records a view, interaction, or score event.
func (m *Metrics) TrackingEvent(event string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(event).Inc()
}
