package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// MetricsCollector implements ledger.Observer on a private registry.
type MetricsCollector struct {
	registry          *prometheus.Registry
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	compensations     *prometheus.CounterVec
	auditDropped      prometheus.Counter
	logger            logrus.FieldLogger
}

func NewMetricsCollector(logger logrus.FieldLogger) *MetricsCollector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	registry := prometheus.NewRegistry()

	return &MetricsCollector{
		registry: registry,
		operations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger mutations by operation and outcome",
		}, []string{"operation", "outcome"}),
		operationDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Time taken by a ledger mutation, including lock wait",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		compensations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_compensations_total",
			Help: "Partially applied operations that were rolled back by compensation",
		}, []string{"operation"}),
		auditDropped: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "ledger_audit_dropped_total",
			Help: "Audit events dropped because the audit queue was full or closed",
		}),
		logger: logger,
	}
}

func (m *MetricsCollector) ObserveOperation(operation string, outcome events.Outcome, elapsed time.Duration) {
	m.operations.WithLabelValues(operation, string(outcome)).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func (m *MetricsCollector) ObserveCompensation(operation string) {
	m.compensations.WithLabelValues(operation).Inc()
}

// AuditDropped is meant to be passed to audit.WithDropHook.
func (m *MetricsCollector) AuditDropped() {
	m.auditDropped.Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.WithField("addr", server.Addr).Info("Starting metrics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.WithError(err).Error("Metrics server failed")
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context, server *http.Server) error {
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}
