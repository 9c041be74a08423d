package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the bot's prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can treat metrics as optional.
type Metrics struct {
	Broadcasts   *prometheus.CounterVec
	SendAttempts *prometheus.CounterVec
	SendLatency  *prometheus.HistogramVec
	ScheduleRuns *prometheus.CounterVec
	MarketFetch  *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "castbot_broadcasts_total", Help: "Broadcast outcomes after retries"},
			[]string{"kind", "result", "classification"},
		),
		SendAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "castbot_send_attempts_total", Help: "Individual provider send attempts"},
			[]string{"kind", "result"},
		),
		SendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "castbot_broadcast_duration_seconds", Help: "Broadcast duration including retries"},
			[]string{"kind"},
		),
		ScheduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "castbot_schedule_runs_total", Help: "Scheduled job firings"},
			[]string{"job", "result"},
		),
		MarketFetch: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "castbot_market_fetch_total", Help: "Market data fetches"},
			[]string{"result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "castbot_http_requests_total", Help: "Control API requests"},
			[]string{"route", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Broadcasts, m.SendAttempts, m.SendLatency, m.ScheduleRuns, m.MarketFetch, m.HTTPRequests)
	}
	return m
}

func (m *Metrics) ObserveAttempt(kind string, err error) {
	if m == nil {
		return
	}
	m.SendAttempts.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveBroadcast(kind, classification string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.Broadcasts.WithLabelValues(kind, result(err), classification).Inc()
	m.SendLatency.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) ObserveScheduleRun(job string, err error) {
	if m == nil {
		return
	}
	m.ScheduleRuns.WithLabelValues(job, result(err)).Inc()
}

func (m *Metrics) ObserveMarketFetch(res string) {
	if m == nil {
		return
	}
	m.MarketFetch.WithLabelValues(res).Inc()
}

func (m *Metrics) ObserveHTTP(route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
