package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the strategy's Prometheus collectors. A nil *Set is a valid
// no-op receiver so callers can run without metrics wired.
type Set struct {
	scanDuration   prometheus.Histogram
	scanCandidates prometheus.Gauge
	tradesOpened   prometheus.Counter
	tradesClosed   *prometheus.CounterVec
	daysSimulated  prometheus.Counter
	portfolioValue prometheus.Gauge
}

// New registers the collector set on reg.
func New(reg prometheus.Registerer) *Set {
	s := &Set{
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vcptrader",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of one full universe scan.",
			Buckets:   prometheus.DefBuckets,
		}),
		scanCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vcptrader",
			Name:      "scan_candidates",
			Help:      "Candidates surviving the last scan.",
		}),
		tradesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vcptrader",
			Name:      "trades_opened_total",
			Help:      "Positions opened.",
		}),
		tradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vcptrader",
			Name:      "trades_closed_total",
			Help:      "Positions closed, by exit reason.",
		}, []string{"reason"}),
		daysSimulated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vcptrader",
			Name:      "days_simulated_total",
			Help:      "Trading days stepped by the simulator.",
		}),
		portfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vcptrader",
			Name:      "portfolio_value",
			Help:      "Mark-to-market portfolio value.",
		}),
	}
	reg.MustRegister(
		s.scanDuration, s.scanCandidates, s.tradesOpened,
		s.tradesClosed, s.daysSimulated, s.portfolioValue,
	)
	return s
}

// ObserveScan records one scan's duration and surviving candidate count.
func (s *Set) ObserveScan(d time.Duration, candidates int) {
	if s == nil {
		return
	}
	s.scanDuration.Observe(d.Seconds())
	s.scanCandidates.Set(float64(candidates))
}

// TradeOpened counts a position entry.
func (s *Set) TradeOpened() {
	if s == nil {
		return
	}
	s.tradesOpened.Inc()
}

// TradeClosed counts a position exit by reason.
func (s *Set) TradeClosed(reason string) {
	if s == nil {
		return
	}
	s.tradesClosed.WithLabelValues(reason).Inc()
}

// DaySimulated counts one simulated trading day and updates the portfolio
// value gauge.
func (s *Set) DaySimulated(portfolioValue float64) {
	if s == nil {
		return
	}
	s.daysSimulated.Inc()
	s.portfolioValue.Set(portfolioValue)
}
