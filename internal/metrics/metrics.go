package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for contentloom
type Metrics struct {
	// Run metrics
	RunsTotal    *prometheus.CounterVec
	RunDuration  *prometheus.HistogramVec
	StageLatency *prometheus.HistogramVec
	Degradations *prometheus.CounterVec

	// Decision metrics
	ContentTypeChosen *prometheus.CounterVec
	ParseTier         *prometheus.CounterVec
	EditorOutcome     *prometheus.CounterVec
	VisualOutcome     *prometheus.CounterVec
	ImageBestScore    prometheus.Histogram
	DraftOverall      prometheus.Histogram

	// Provider metrics
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	ProviderTokens   *prometheus.CounterVec

	// System metrics
	EventsPublished *prometheus.CounterVec
	StorageUploads  *prometheus.CounterVec
	LockContention  prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics once per process.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_runs_total",
					Help: "Total number of orchestration runs",
				},
				[]string{"platform", "result"}, // result: ok, degraded, failed
			),
			RunDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "contentloom_run_duration_seconds",
					Help:    "End-to-end orchestration run duration in seconds",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
				},
				[]string{"platform"},
			),
			StageLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "contentloom_stage_duration_seconds",
					Help:    "Duration of each pipeline stage in seconds",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to 102s
				},
				[]string{"stage"},
			),
			Degradations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_degradations_total",
					Help: "Stages that recovered with a default instead of failing",
				},
				[]string{"stage"},
			),
			ContentTypeChosen: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_content_type_chosen_total",
					Help: "Content types chosen by the balancer",
				},
				[]string{"platform", "content_type", "cold_start"},
			),
			ParseTier: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_parse_tier_total",
					Help: "Parser tier that produced each draft",
				},
				[]string{"tier"},
			),
			EditorOutcome: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_editor_outcome_total",
					Help: "Editor pass outcomes",
				},
				[]string{"status"}, // skipped, accepted, rejected, failed
			),
			VisualOutcome: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_visual_outcome_total",
					Help: "Visual decisions and their final result",
				},
				[]string{"decision", "final", "degraded"},
			),
			ImageBestScore: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "contentloom_image_best_score",
					Help:    "Score of the best generated image sample",
					Buckets: prometheus.LinearBuckets(1, 1, 10),
				},
			),
			DraftOverall: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "contentloom_draft_overall_score",
					Help:    "Self-assessed overall score of drafts",
					Buckets: prometheus.LinearBuckets(1, 1, 10),
				},
			),
			ProviderRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_provider_requests_total",
					Help: "Total number of provider API requests",
				},
				[]string{"purpose", "success"},
			),
			ProviderLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "contentloom_provider_request_duration_seconds",
					Help:    "Provider API request duration in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to 51s
				},
				[]string{"purpose"},
			),
			ProviderTokens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_provider_tokens_total",
					Help: "Total tokens processed by providers",
				},
				[]string{"purpose", "type"}, // type: input, output
			),
			EventsPublished: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_events_published_total",
					Help: "Total number of events published",
				},
				[]string{"event_type"},
			),
			StorageUploads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "contentloom_storage_uploads_total",
					Help: "Object storage uploads",
				},
				[]string{"folder", "success"},
			),
			LockContention: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "contentloom_run_lock_contention_total",
					Help: "Runs that found their project+platform lock already held",
				},
			),
		}
	})

	return sharedMetrics
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// RecordRun records a finished orchestration run.
func (m *Metrics) RecordRun(platform, result string, d time.Duration) {
	m.RunsTotal.WithLabelValues(platform, result).Inc()
	m.RunDuration.WithLabelValues(platform).Observe(d.Seconds())
}

// ObserveStage records one stage's latency.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordDegradation counts a recovered stage failure.
func (m *Metrics) RecordDegradation(stage string) {
	m.Degradations.WithLabelValues(stage).Inc()
}

// RecordContentType counts a balancer decision.
func (m *Metrics) RecordContentType(platform, contentType string, coldStart bool) {
	m.ContentTypeChosen.WithLabelValues(platform, contentType, boolLabel(coldStart)).Inc()
}

// ObserveParseTier counts the parser tier used for a draft.
func (m *Metrics) ObserveParseTier(tier string) {
	m.ParseTier.WithLabelValues(tier).Inc()
}

// ObserveDraftScore records a draft's overall score.
func (m *Metrics) ObserveDraftScore(overall int) {
	m.DraftOverall.Observe(float64(overall))
}

// RecordEditor counts an editor outcome.
func (m *Metrics) RecordEditor(status string) {
	m.EditorOutcome.WithLabelValues(status).Inc()
}

// RecordVisual counts a visual decision outcome.
func (m *Metrics) RecordVisual(decision, final string, degraded bool) {
	m.VisualOutcome.WithLabelValues(decision, final, boolLabel(degraded)).Inc()
}

// ObserveImageScore records the best image sample score.
func (m *Metrics) ObserveImageScore(score float64) {
	m.ImageBestScore.Observe(score)
}

// RecordProviderRequest records a provider API request
func (m *Metrics) RecordProviderRequest(purpose string, success bool, latency time.Duration, promptTokens, completionTokens int) {
	m.ProviderRequests.WithLabelValues(purpose, boolLabel(success)).Inc()
	m.ProviderLatency.WithLabelValues(purpose).Observe(latency.Seconds())
	if promptTokens > 0 {
		m.ProviderTokens.WithLabelValues(purpose, "input").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokens.WithLabelValues(purpose, "output").Add(float64(completionTokens))
	}
}

// RecordEvent counts a published event.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordUpload counts an object storage upload.
func (m *Metrics) RecordUpload(folder string, success bool) {
	m.StorageUploads.WithLabelValues(folder, boolLabel(success)).Inc()
}

// RecordLockContention counts a run that found its lock held.
func (m *Metrics) RecordLockContention() {
	m.LockContention.Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
