package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics представляет систему метрик
type Metrics struct {
	// Стандартные метрики Prometheus
	RequestCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Метрики домена аутентификации
	APIKeyValidations *prometheus.CounterVec
	MFAVerifications  *prometheus.CounterVec
	SessionsCreated   prometheus.Counter
	SessionsEvicted   prometheus.Counter
	SecurityEvents    *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
}

// NewMetrics создает новую систему метрик
func NewMetrics(serviceName string) *Metrics {
	requestCount := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	apiKeyValidations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "api_key_validations_total",
			Help:      "Total number of API key validations by outcome",
		},
		[]string{"outcome"},
	)

	mfaVerifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "mfa_verifications_total",
			Help:      "Total number of MFA code verifications by outcome",
		},
		[]string{"outcome"},
	)

	sessionsCreated := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "sessions_created_total",
			Help:      "Total number of sessions created",
		},
	)

	sessionsEvicted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "sessions_evicted_total",
			Help:      "Total number of sessions evicted by the concurrent session cap",
		},
	)

	securityEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "audit",
			Name:      "security_events_total",
			Help:      "Total number of security events logged by type and severity",
		},
		[]string{"event_type", "severity"},
	)

	rateLimitHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "auth",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by API key rate limiting",
		},
	)

	// Регистрируем метрики в Prometheus
	collectors := []prometheus.Collector{
		requestCount, requestDuration,
		apiKeyValidations, mfaVerifications,
		sessionsCreated, sessionsEvicted,
		securityEvents, rateLimitHits,
	}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &Metrics{
		RequestCount:      requestCount,
		RequestDuration:   requestDuration,
		APIKeyValidations: apiKeyValidations,
		MFAVerifications:  mfaVerifications,
		SessionsCreated:   sessionsCreated,
		SessionsEvicted:   sessionsEvicted,
		SecurityEvents:    securityEvents,
		RateLimitHits:     rateLimitHits,
	}
}

// ObserveRequest записывает метрики HTTP запроса
func (m *Metrics) ObserveRequest(method, endpoint, status string, duration time.Duration) {
	m.RequestCount.WithLabelValues(method, endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler возвращает HTTP обработчик для эндпоинта /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
