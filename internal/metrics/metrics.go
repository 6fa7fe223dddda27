package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all the Prometheus metrics for the detection service.
type Metrics struct {
	// Counters
	VerdictsIssued     *prometheus.CounterVec
	AuditSinkErrors    *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	ChallengesIssued   prometheus.Counter
	ChallengesVerified *prometheus.CounterVec
	SessionTimeouts    prometheus.Counter

	// Gauges
	SessionsActive prometheus.Gauge

	// Histograms
	AuditFlushLatency *prometheus.HistogramVec
	HTTPDuration      *prometheus.HistogramVec
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled     bool
	Addr        string
	TLSCert     string
	TLSKey      string
	ClientCA    string
	RequireTLS  bool
	RequireAuth bool
}

// LoadConfig loads metrics configuration entirely from environment
// variables, including METRICS_ENABLED/METRICS_ADDR. Prefer ConfigWith when
// the caller already has a resolved pkg/config.Config, so enabled/addr have
// exactly one source of truth.
func LoadConfig() Config {
	return ConfigWith(getBool("METRICS_ENABLED", false), getOr("METRICS_ADDR", "127.0.0.1:9090"))
}

// ConfigWith builds a Config from an explicit enabled/addr pair (normally
// cfg.MetricsEnabled/cfg.MetricsAddr), filling in the TLS/auth settings
// pkg/config does not yet model from the environment.
func ConfigWith(enabled bool, addr string) Config {
	return Config{
		Enabled:     enabled,
		Addr:        addr,
		TLSCert:     getOr("METRICS_TLS_CERT", ""),
		TLSKey:      getOr("METRICS_TLS_KEY", ""),
		ClientCA:    getOr("METRICS_CLIENT_CA", ""),
		RequireTLS:  getBool("METRICS_REQUIRE_TLS", false),
		RequireAuth: getBool("METRICS_REQUIRE_AUTH", false),
	}
}

// NewMetrics creates and registers all detection-service metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		VerdictsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentry_verdicts_issued_total",
				Help: "Total verdicts issued, by verdict class",
			},
			[]string{"verdict"},
		),

		AuditSinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentry_audit_sink_errors_total",
				Help: "Total errors writing a verdict to an audit sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentry_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		ChallengesIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sentry_challenges_issued_total",
				Help: "Total JS execution challenges issued",
			},
		),

		ChallengesVerified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentry_challenges_verified_total",
				Help: "Total challenge verifications, by result",
			},
			[]string{"result"},
		),

		SessionTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sentry_session_timeouts_total",
				Help: "Total visit-tracker sessions that hit the 5s deadline without analysis",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentry_sessions_active",
				Help: "Current number of open visit-tracker sessions",
			},
		),

		AuditFlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentry_audit_flush_latency_seconds",
				Help:    "Latency of flushing a batch of verdicts to an audit sink",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentry_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(m.VerdictsIssued)
	prometheus.MustRegister(m.AuditSinkErrors)
	prometheus.MustRegister(m.HTTPRequests)
	prometheus.MustRegister(m.ChallengesIssued)
	prometheus.MustRegister(m.ChallengesVerified)
	prometheus.MustRegister(m.SessionTimeouts)
	prometheus.MustRegister(m.SessionsActive)
	prometheus.MustRegister(m.AuditFlushLatency)
	prometheus.MustRegister(m.HTTPDuration)

	return m
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// Add a simple health check endpoint for the metrics server
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK")) // Ignore write errors for health check
	})

	srv := &http.Server{
		Addr:    config.Addr,
		Handler: mux,
		// Security: Set timeouts to prevent resource exhaustion
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// Configure mTLS if client CA is provided
		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				log.Printf("metrics: failed to load client CA: %v", err)
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				log.Printf("metrics: mTLS enabled with client CA: %s", config.ClientCA)
			}
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{
		server: srv,
		config: config,
	}
}

// Start starts the metrics server in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		log.Printf("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.config.RequireTLS && s.config.TLSCert != "" && s.config.TLSKey != "" {
			log.Printf("metrics: HTTPS server listening on %s", s.config.Addr)
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			log.Printf("metrics: HTTP server listening on %s", s.config.Addr)
			err = s.server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()

	// Wait for server to start (give it a moment)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	log.Printf("metrics: shutting down server...")
	return s.server.Shutdown(ctx)
}

// Helper functions
func getOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	// This would load a certificate pool from a file
	// For now, return nil to indicate no client CA
	// In production, you'd implement proper certificate loading
	return nil, nil
}

// Global metrics instance
var defaultMetrics *Metrics

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = NewMetrics()
	}
	return defaultMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if defaultMetrics == nil {
		defaultMetrics = NewMetrics()
	}
	return defaultMetrics
}

// Convenience methods for common operations
func (m *Metrics) IncrementVerdictsIssued(verdict string) {
	m.VerdictsIssued.WithLabelValues(verdict).Inc()
}

func (m *Metrics) IncrementAuditSinkErrors(sink, errorType string) {
	m.AuditSinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) IncrementChallengesIssued() {
	m.ChallengesIssued.Inc()
}

func (m *Metrics) IncrementChallengesVerified(valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.ChallengesVerified.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementSessionTimeouts() {
	m.SessionTimeouts.Inc()
}

func (m *Metrics) SetSessionsActive(n float64) {
	m.SessionsActive.Set(n)
}

func (m *Metrics) ObserveAuditFlushLatency(sink string, duration time.Duration) {
	m.AuditFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
