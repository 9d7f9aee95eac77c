package telemetry

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TimurManjosov/postguard/internal/ipmatch"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// GateDecisions counts views of flagged posts by outcome (gated, passed).
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postguard_gate_decisions_total",
			Help: "Views of flagged posts by gate outcome",
		},
		[]string{"outcome"},
	)
	// ListingsFiltered counts home listings served without flagged posts.
	ListingsFiltered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "postguard_listings_filtered_total",
		Help: "Home listings served with flagged posts removed",
	})
	// Rules reports the compiled rules of the current snapshot by kind.
	Rules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "postguard_rules",
			Help: "Compiled blocking rules by kind",
		},
		[]string{"kind"},
	)
	// RuleErrors reports lines of the current rule text that failed to compile.
	RuleErrors = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "postguard_rule_errors",
		Help: "Rule lines that failed to compile",
	})
	SSEClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sse_clients",
		Help: "Number of currently connected SSE clients",
	})
	// WebhookDeliveries counts webhook deliveries by outcome (success,
	// failed, dropped).
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postguard_webhook_deliveries_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)
)

func Init() {
	prometheus.MustRegister(httpReqs, httpDur, GateDecisions, ListingsFiltered, Rules, RuleErrors, SSEClients, WebhookDeliveries)
}

// ObserveRules updates the rule gauges from a freshly compiled list.
func ObserveRules(l *ipmatch.RuleList) {
	for kind, n := range l.Counts() {
		Rules.WithLabelValues(kind.String()).Set(float64(n))
	}
	RuleErrors.Set(float64(len(l.Errors())))
}

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// the route pattern is only known after routing
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, http.StatusText(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
