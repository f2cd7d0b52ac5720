// Package metrics exports engine observations to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akmatori/contractmon/internal/models"
)

// Sink receives engine observations. Implementations must be safe for
// concurrent use.
type Sink interface {
	ObserveResult(result models.CheckResult)
	RecordViolation(event models.ContractViolationEvent)
	RecordDelivery(channel string)
	RecordDeliveryFailure(channel, reason string)
	RecordSuppressed(contractName, reason string)
	RecordOverrun(contractName string, ct models.CheckType)
}

// Nop discards every observation
type Nop struct{}

func (Nop) ObserveResult(models.CheckResult) {}
func (Nop) RecordViolation(models.ContractViolationEvent) {}
func (Nop) RecordDelivery(string) {}
func (Nop) RecordDeliveryFailure(string, string) {}
func (Nop) RecordSuppressed(string, string) {}
func (Nop) RecordOverrun(string, models.CheckType) {}

const namespace = "contract"

// Prometheus is the Sink backed by client_golang collectors
type Prometheus struct {
	registry *prometheus.Registry

	violations       *prometheus.CounterVec
	freshness        *prometheus.GaugeVec
	availability     *prometheus.GaugeVec
	quality          *prometheus.GaugeVec
	schemaDrift      *prometheus.GaugeVec
	checkDuration    *prometheus.HistogramVec
	checkResults     *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	overruns         *prometheus.CounterVec
}

// NewPrometheus registers the engine collectors on a dedicated registry
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),

		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Contract violations by contract, violation type and severity",
			},
			[]string{"contract", "violation_type", "severity"},
		),
		freshness: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "freshness_seconds",
				Help:      "Age of the newest data in seconds at the last freshness check",
			},
			[]string{"contract"},
		),
		availability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "availability_ratio",
				Help:      "Rolling 24h availability ratio (0-1)",
			},
			[]string{"contract"},
		),
		quality: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "quality_score",
				Help:      "Quality score (0-100) at the last quality check",
			},
			[]string{"contract"},
		),
		schemaDrift: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "schema_drift_categories",
				Help:      "Number of schema drift categories found at the last schema check",
			},
			[]string{"contract"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Check execution time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"contract", "check_type"},
		),
		checkResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_results_total",
				Help:      "Check executions by outcome",
			},
			[]string{"contract", "check_type", "status"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_delivered_total",
				Help:      "Alerts delivered by channel",
			},
			[]string{"channel"},
		),
		deliveryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_delivery_failures_total",
				Help:      "Alert deliveries that failed by channel and reason",
			},
			[]string{"channel", "reason"},
		),
		suppressed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_suppressed_total",
				Help:      "Alerts not dispatched by reason (duplicate, rate_limited, unrouted)",
			},
			[]string{"contract", "reason"},
		),
		overruns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "check_overruns_total",
				Help:      "Scheduled checks skipped because the previous run was still in flight",
			},
			[]string{"contract", "check_type"},
		),
	}

	p.registry.MustRegister(
		p.violations, p.freshness, p.availability, p.quality, p.schemaDrift,
		p.checkDuration, p.checkResults, p.deliveries, p.deliveryFailures,
		p.suppressed, p.overruns,
	)
	return p
}

// Registry exposes the underlying registry for tests and extra collectors
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus text format
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ObserveResult updates the per-check gauges. Results without a measurement
// only count towards the outcome counter and duration histogram.
func (p *Prometheus) ObserveResult(result models.CheckResult) {
	contract := result.ContractName
	ct := string(result.CheckType)

	p.checkResults.WithLabelValues(contract, ct, string(result.Status)).Inc()
	p.checkDuration.WithLabelValues(contract, ct).Observe(result.Duration.Seconds())

	m := result.Measurement
	if m == nil {
		return
	}
	switch result.CheckType {
	case models.CheckTypeFreshness:
		p.freshness.WithLabelValues(contract).Set(m.Value)
	case models.CheckTypeAvailability:
		p.availability.WithLabelValues(contract).Set(m.Value / 100)
	case models.CheckTypeQuality:
		p.quality.WithLabelValues(contract).Set(m.Value)
	case models.CheckTypeSchema:
		p.schemaDrift.WithLabelValues(contract).Set(m.Value)
	}
}

func (p *Prometheus) RecordViolation(event models.ContractViolationEvent) {
	p.violations.WithLabelValues(event.ContractName, string(event.ViolationType), string(event.Severity)).Inc()
}

func (p *Prometheus) RecordDelivery(channel string) {
	p.deliveries.WithLabelValues(channel).Inc()
}

func (p *Prometheus) RecordDeliveryFailure(channel, reason string) {
	p.deliveryFailures.WithLabelValues(channel, reason).Inc()
}

func (p *Prometheus) RecordSuppressed(contractName, reason string) {
	p.suppressed.WithLabelValues(contractName, reason).Inc()
}

func (p *Prometheus) RecordOverrun(contractName string, ct models.CheckType) {
	p.overruns.WithLabelValues(contractName, string(ct)).Inc()
}
