// Package metrics exposes the gateway's Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for auth_attempts_total.
const (
	OutcomeAuthenticated = "authenticated"
	OutcomeRejected      = "rejected"
	OutcomeError         = "error"
)

// SecretCounter reports how many users currently have a secret. It is
// called at scrape time.
type SecretCounter func(ctx context.Context) (int, error)

// Metrics implements prometheus.Collector. Counters are bumped by the
// services as things happen; the users-with-secrets gauge is refreshed from
// the store on every scrape.
type Metrics struct {
	countSecrets SecretCounter

	authAttempts     *prometheus.CounterVec
	logouts          *prometheus.CounterVec
	secretsSubmitted prometheus.Counter
	hashDuration     prometheus.Histogram
	usersWithSecrets prometheus.Gauge
}

// New creates the collector. countSecrets may be nil.
func New(countSecrets SecretCounter) *Metrics {
	return &Metrics{
		countSecrets: countSecrets,
		authAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secrets_auth_attempts_total",
				Help: "Authentication attempts by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		logouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "secrets_logouts_total",
				Help: "Logouts by result (ok, partial)",
			},
			[]string{"result"},
		),
		secretsSubmitted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "secrets_submitted_total",
				Help: "Secrets submitted",
			},
		),
		hashDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "secrets_password_hash_seconds",
				Help:    "Time spent hashing or comparing passwords, including queueing for a worker",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
			},
		),
		usersWithSecrets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "secrets_users_with_secret",
				Help: "Users that have submitted a secret",
			},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.authAttempts.Describe(ch)
	m.logouts.Describe(ch)
	m.secretsSubmitted.Describe(ch)
	m.hashDuration.Describe(ch)
	m.usersWithSecrets.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m.countSecrets != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if n, err := m.countSecrets(ctx); err == nil {
			m.usersWithSecrets.Set(float64(n))
		}
		cancel()
	}

	m.authAttempts.Collect(ch)
	m.logouts.Collect(ch)
	m.secretsSubmitted.Collect(ch)
	m.hashDuration.Collect(ch)
	m.usersWithSecrets.Collect(ch)
}

// AuthAttempt counts one finished authentication.
func (m *Metrics) AuthAttempt(strategy, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(strategy, outcome).Inc()
}

// Logout counts one logout; partial is true when revocation failed.
func (m *Metrics) Logout(partial bool) {
	if m == nil {
		return
	}
	result := "ok"
	if partial {
		result = "partial"
	}
	m.logouts.WithLabelValues(result).Inc()
}

func (m *Metrics) SecretSubmitted() {
	if m == nil {
		return
	}
	m.secretsSubmitted.Inc()
}

func (m *Metrics) ObserveHash(d time.Duration) {
	if m == nil {
		return
	}
	m.hashDuration.Observe(d.Seconds())
}
