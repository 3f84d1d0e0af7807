package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	loginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "login_attempts_total",
			Help: "Total number of login attempts",
		},
		[]string{"outcome"},
	)

	chatSessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_created_total",
			Help: "Total number of chat sessions created",
		},
	)

	chatMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_total",
			Help: "Total number of chat messages stored",
		},
		[]string{"role"},
	)

	chatFeedback = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_feedback_total",
			Help: "Total number of feedback submissions on assistant responses",
		},
		[]string{"helpful"},
	)

	documentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_documents_indexed_total",
			Help: "Total number of chat documents indexed into the vector store",
		},
		[]string{"status"},
	)

	// RAG pipeline metrics
	ragQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_queries_total",
			Help: "Total number of RAG queries",
		},
		[]string{"cache_status", "fallback"},
	)

	ragStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_stage_duration_seconds",
			Help:    "RAG pipeline stage duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	ragConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_confidence_score",
			Help:    "Confidence score distribution of RAG answers",
			Buckets: []float64{.1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
		},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
		},
	)

	hisPatientsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "his_patients_synced_total",
			Help: "Total number of patient records synced from the hospital information system",
		},
	)

	// Database metrics
	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordLoginAttempt records a login attempt outcome
func RecordLoginAttempt(successful bool) {
	outcome := "failure"
	if successful {
		outcome = "success"
	}
	loginAttempts.WithLabelValues(outcome).Inc()
}

// RecordChatSessionCreated records a chat session creation
func RecordChatSessionCreated() {
	chatSessionsCreated.Inc()
}

// RecordChatMessage records a stored chat message
func RecordChatMessage(role string) {
	chatMessages.WithLabelValues(role).Inc()
}

// RecordChatFeedback records a feedback submission
func RecordChatFeedback(helpful bool) {
	chatFeedback.WithLabelValues(strconv.FormatBool(helpful)).Inc()
}

// RecordDocumentIndexed records a document indexing outcome
func RecordDocumentIndexed(status string) {
	documentsIndexed.WithLabelValues(status).Inc()
}

// RecordRAGQuery records a RAG query with its cache status and fallback flag
func RecordRAGQuery(cacheStatus string, fallback bool) {
	ragQueriesTotal.WithLabelValues(cacheStatus, strconv.FormatBool(fallback)).Inc()
}

// RecordRAGStage records a RAG pipeline stage duration
func RecordRAGStage(stage string, duration time.Duration) {
	ragStageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRAGConfidence records a RAG answer confidence score
func RecordRAGConfidence(score float64) {
	ragConfidence.Observe(score)
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}

// RecordHISPatientSynced records a patient record sync from the HIS
func RecordHISPatientSynced() {
	hisPatientsSynced.Inc()
}

// RecordDBConnections records active database connections
func RecordDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}
