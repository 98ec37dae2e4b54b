// metrics — счётчики Prometheus для жизненного цикла сессий.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics агрегирует метрики auth-сервиса.
type Metrics struct {
	Logins     *prometheus.CounterVec
	Refreshes  *prometheus.CounterVec
	Replays    prometheus.Counter
	Migrations prometheus.Counter
}

// New регистрирует метрики в переданном Registerer.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome.",
		}, []string{"outcome"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh attempts by outcome.",
		}, []string{"outcome"}),
		Replays: f.NewCounter(prometheus.CounterOpts{
			Name: "auth_replay_detected_total",
			Help: "Refresh secrets presented after revocation (possible theft).",
		}),
		Migrations: f.NewCounter(prometheus.CounterOpts{
			Name: "auth_migrations_total",
			Help: "Successful legacy account migrations.",
		}),
	}
}

// Безопасные no-op обёртки: сервис может работать без метрик.

// IncLogin инкрементирует счётчик входов.
func (m *Metrics) IncLogin(outcome string) {
	if m != nil {
		m.Logins.WithLabelValues(outcome).Inc()
	}
}

// IncRefresh инкрементирует счётчик ротаций.
func (m *Metrics) IncRefresh(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

// IncReplay инкрементирует счётчик обнаруженных replay.
func (m *Metrics) IncReplay() {
	if m != nil {
		m.Replays.Inc()
	}
}

// IncMigration инкрементирует счётчик миграций.
func (m *Metrics) IncMigration() {
	if m != nil {
		m.Migrations.Inc()
	}
}
