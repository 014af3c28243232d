package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the dispatch and upstream metrics.
const (
	OutcomeOK            = "ok"
	OutcomeNetworkError  = "network_error"
	OutcomeProtocolError = "protocol_error"
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total number of upstream chat API calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream chat API call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	DispatchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_requests_total",
			Help: "Total number of chat dispatches by final outcome",
		},
		[]string{"outcome"},
	)
	DispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_attempts_total",
			Help: "Total number of dispatch attempts by phase",
		},
		[]string{"phase"},
	)
	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "End-to-end chat dispatch duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	StoreSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_saves_total",
			Help: "Total number of state document saves by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)
	StoreLoadFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_load_failures_total",
			Help: "Total number of state document loads that fell back to the default document",
		},
		[]string{"backend", "reason"},
	)

	AccountRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "account_rotations_total",
			Help: "Total number of accounts yielded by rotation",
		},
	)
	ProxyRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_rotations_total",
			Help: "Total number of proxy rebinds triggered by network failures",
		},
	)
	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total number of account token refreshes by outcome",
		},
		[]string{"outcome"},
	)
)

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus collectors once per process.
func InitMetrics() {
	initMetricsOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(UpstreamRequestsTotal)
		prometheus.MustRegister(UpstreamRequestDuration)
		prometheus.MustRegister(DispatchRequestsTotal)
		prometheus.MustRegister(DispatchAttemptsTotal)
		prometheus.MustRegister(DispatchDuration)
		prometheus.MustRegister(StoreSavesTotal)
		prometheus.MustRegister(StoreLoadFailuresTotal)
		prometheus.MustRegister(AccountRotationsTotal)
		prometheus.MustRegister(ProxyRotationsTotal)
		prometheus.MustRegister(TokenRefreshesTotal)
	})
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
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(operation, outcome string, seconds float64) {
	UpstreamRequestsTotal.WithLabelValues(operation, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(operation).Observe(seconds)
}

// ObserveDispatch records the final outcome of one dispatch.
func ObserveDispatch(success bool, seconds float64) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	DispatchRequestsTotal.WithLabelValues(outcome).Inc()
	DispatchDuration.Observe(seconds)
}

// RecordDispatchAttempt counts one attempt of the named phase.
func RecordDispatchAttempt(phase string) {
	DispatchAttemptsTotal.WithLabelValues(phase).Inc()
}

// RecordStoreSave counts one backend save.
func RecordStoreSave(backend string, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = "error"
	}
	StoreSavesTotal.WithLabelValues(backend, outcome).Inc()
}

// RecordStoreLoadFailure counts a load that fell back to the default document.
func RecordStoreLoadFailure(backend, reason string) {
	StoreLoadFailuresTotal.WithLabelValues(backend, reason).Inc()
}

// RecordTokenRefresh counts one token refresh attempt.
func RecordTokenRefresh(err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = "error"
	}
	TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}
