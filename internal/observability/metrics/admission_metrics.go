package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	StageCaptcha     = "captcha"
	StageRateLimit   = "rate_limit"
	StageValidate    = "validate"
	StageTenant      = "tenant"
	StageIdempotency = "idempotency"
	StageScore       = "score"
	StagePersist     = "persist"
	StageNotify      = "notify"
	StageReconcile   = "reconcile"
	StageCheckout    = "checkout"
)

const (
	OutcomeAdmitted  = "admitted"
	OutcomeReplayed  = "replayed"
	OutcomeDenied    = "denied"
	OutcomeRejected  = "rejected"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
)

const (
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonUniqueViolation  = "unique_violation"
	ReasonDBUnavailable    = "db_unavailable"
	ReasonRecordNotFound   = "record_not_found"
	ReasonUnknown          = "unknown"
)

// AdmissionMetrics exposes Prometheus collectors for the donation pipeline.
type AdmissionMetrics struct {
	outcomes             *prometheus.CounterVec
	verdicts             *prometheus.CounterVec
	scores               prometheus.Histogram
	notificationFailures *prometheus.CounterVec
	storeFailures        *prometheus.CounterVec
	settlements          *prometheus.CounterVec
}

var (
	admissionMetricsOnce sync.Once
	admissionMetrics     *AdmissionMetrics
)

// Admission returns the process-wide admission collectors.
func Admission() *AdmissionMetrics {
	return AdmissionWithConfig(Config{})
}

// AdmissionWithConfig returns the process-wide admission collectors labelled
// with the service name and environment of cfg.
func AdmissionWithConfig(cfg Config) *AdmissionMetrics {
	admissionMetricsOnce.Do(func() {
		admissionMetrics = newAdmissionMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return admissionMetrics
}

// ResetAdmissionMetricsForTest resets the singleton for tests.
func ResetAdmissionMetricsForTest() {
	admissionMetricsOnce = sync.Once{}
	admissionMetrics = nil
}

func newAdmissionMetrics(registerer prometheus.Registerer, cfg Config) *AdmissionMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "donorflow"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &AdmissionMetrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "donorflow_admission_outcomes_total",
			Help:        "Donation admission outcomes by pipeline stage.",
			ConstLabels: constLabels,
		}, []string{"channel", "stage", "outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "donorflow_fraud_verdicts_total",
			Help:        "Fraud review verdicts issued by the risk scorer.",
			ConstLabels: constLabels,
		}, []string{"verdict"}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "donorflow_fraud_score",
			Help:        "Distribution of fraud scores at admission time.",
			Buckets:     []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			ConstLabels: constLabels,
		}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "donorflow_notification_failures_total",
			Help:        "Best-effort donor notifications that failed to dispatch.",
			ConstLabels: constLabels,
		}, []string{"backend"}),
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "donorflow_rate_limit_store_failures_total",
			Help:        "Counter store faults by policy and the resulting decision.",
			ConstLabels: constLabels,
		}, []string{"policy", "mode"}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "donorflow_settlement_events_total",
			Help:        "Processor callbacks handled by the settlement reconciler.",
			ConstLabels: constLabels,
		}, []string{"event_type", "outcome"}),
	}

	registerer.MustRegister(
		m.outcomes,
		m.verdicts,
		m.scores,
		m.notificationFailures,
		m.storeFailures,
		m.settlements,
	)
	return m
}

// IncOutcome records where a submission left the pipeline.
func (m *AdmissionMetrics) IncOutcome(channel, stage, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(channel, stage, outcome).Inc()
}

// ObserveVerdict records one scorer decision.
func (m *AdmissionMetrics) ObserveVerdict(verdict string, score int) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(verdict).Inc()
	m.scores.Observe(float64(score))
}

func (m *AdmissionMetrics) IncNotificationFailure(backend string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(backend).Inc()
}

// IncStoreFailure records a counter store fault. mode is "open" when the
// request was admitted anyway and "closed" when it was refused.
func (m *AdmissionMetrics) IncStoreFailure(policy, mode string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(policy, mode).Inc()
}

func (m *AdmissionMetrics) IncSettlement(eventType, outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(eventType, outcome).Inc()
}

// ClassifyFailure maps a persistence or transport error to a bounded reason label.
func ClassifyFailure(err error) string {
	switch {
	case err == nil:
		return ReasonUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonDeadlineExceeded
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ReasonRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return ReasonUniqueViolation
	case hasPGClass(err, "08"):
		return ReasonDBUnavailable
	default:
		return ReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func hasPGClass(err error, class string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, class)
}
