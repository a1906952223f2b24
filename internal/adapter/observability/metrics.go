package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "uploads_total",
			Help: "Total number of uploads by terminal status",
		},
		[]string{"status"},
	)
	UploadsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "uploads_active",
			Help: "Number of uploads currently processing",
		},
	)
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upload_stage_duration_seconds",
			Help:    "Time spent per upload pipeline stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"stage"},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analysis_jobs_total",
			Help: "Total number of analysis jobs by terminal status",
		},
		[]string{"status"},
	)
	JobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "analysis_jobs_in_flight",
			Help: "Number of analysis jobs currently running",
		},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_failures_total",
			Help: "Total number of failed AI requests by provider and reason",
		},
		[]string{"provider", "reason"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Total tokens exchanged with AI providers",
		},
		[]string{"provider", "kind"},
	)

	BatchSizeHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_batch_size",
			Help:    "Distribution of conversation-days per analysis job",
			Buckets: []float64{1, 2, 3, 5, 8, 10, 15, 20, 30},
		},
	)
	CSIHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "analysis_csi_score",
			Help:    "Distribution of computed CSI scores ([0,100])",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	ScoreDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ai_score_drift",
			Help: "Absolute drift of the rolling mean of each AI micro-metric from its session baseline",
		},
		[]string{"metric"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(UploadsActive)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobsInFlight)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIFailuresTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AITokensTotal)
	prometheus.MustRegister(BatchSizeHistogram)
	prometheus.MustRegister(CSIHistogram)
	prometheus.MustRegister(ScoreDrift)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// StartUpload marks one upload as active.
func StartUpload() {
	UploadsActive.Inc()
}

// FinishUpload records an upload's terminal status.
func FinishUpload(status string) {
	UploadsActive.Dec()
	UploadsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records time spent in one pipeline stage.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// AddAITokens accumulates provider token usage.
func AddAITokens(provider string, prompt, completion int) {
	if prompt > 0 {
		AITokensTotal.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		AITokensTotal.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

// ObserveBatch records the size of one dispatched analysis batch.
func ObserveBatch(units int) {
	BatchSizeHistogram.Observe(float64(units))
}

// ObserveCSI records a computed CSI score.
func ObserveCSI(score float64) {
	if score >= 0 && score <= 100 {
		CSIHistogram.Observe(score)
	}
}

// RecordScoreDrift publishes the current drift of one micro-metric.
func RecordScoreDrift(metric string, drift float64) {
	ScoreDrift.WithLabelValues(metric).Set(drift)
}
