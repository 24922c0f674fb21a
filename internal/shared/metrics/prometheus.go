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
	casesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cases_created_total",
			Help: "Total number of cases created",
		},
		[]string{"case_type"},
	)

	caseStageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "case_stage_transitions_total",
			Help: "Total number of case stage transitions",
		},
		[]string{"from_stage", "to_stage", "direction"},
	)

	counselorAssignments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "counselor_assignments_total",
			Help: "Total number of counselor assignments",
		},
	)

	stageReorders = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_stage_reorders_total",
			Help: "Total number of workflow stage reorder operations",
		},
	)

	authorizationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authorization_decisions_total",
			Help: "Total number of workflow authorization decisions",
		},
		[]string{"stage", "action", "decision"},
	)

	stageConfigErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "workflow_stage_config_errors_total",
			Help: "Permission evaluations that failed because no stage matched the case status",
		},
	)

	auditEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_entries_total",
			Help: "Total number of audit entries created",
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

// normalizePath caps path cardinality for the request metrics
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordCaseCreated records a case creation
func RecordCaseCreated(caseType string) {
	casesCreated.WithLabelValues(caseType).Inc()
}

// RecordStageTransition records a case moving between workflow stages
func RecordStageTransition(fromStage, toStage, direction string) {
	caseStageTransitions.WithLabelValues(fromStage, toStage, direction).Inc()
}

// RecordCounselorAssignment records a counselor assignment
func RecordCounselorAssignment() {
	counselorAssignments.Inc()
}

// RecordStageReorder records a stage reorder operation
func RecordStageReorder() {
	stageReorders.Inc()
}

// RecordAuthorizationDecision records a workflow authorization decision
func RecordAuthorizationDecision(stage, action string, allowed bool) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	authorizationDecisions.WithLabelValues(stage, action, decision).Inc()
}

// RecordStageConfigError records an evaluation that found no configured stage
func RecordStageConfigError() {
	stageConfigErrors.Inc()
}

// RecordAuditEntry records an audit entry creation
func RecordAuditEntry() {
	auditEntriesTotal.Inc()
}
