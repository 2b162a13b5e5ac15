// Package monitoring exposes Prometheus metrics for the engine.
package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_trades_total",
			Help: "Total number of trades executed",
		},
		[]string{"symbol", "side", "trade_type"},
	)

	cycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coinpilot_cycle_duration_seconds",
			Help:    "Duration of engine cycles",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"cycle"},
	)

	recommendationsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_recommendations_processed_total",
			Help: "Recommendations processed by lifecycle outcome",
		},
		[]string{"outcome"},
	)

	// Portfolio metrics
	portfolioValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coinpilot_portfolio_value",
			Help: "Total portfolio value including cash",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coinpilot_open_positions",
			Help: "Number of open holdings",
		},
	)

	// Risk metrics
	riskDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_risk_denials_total",
			Help: "Trades denied by risk validation",
		},
		[]string{"check"},
	)

	circuitBreakerHalts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coinpilot_circuit_breaker_halts_total",
			Help: "Times the circuit breaker halted automated buying",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinpilot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"module"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(recommendationsProcessed)
	prometheus.MustRegister(portfolioValue)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(riskDenialsTotal)
	prometheus.MustRegister(circuitBreakerHalts)
	prometheus.MustRegister(errorsTotal)
}

// Handler returns the Prometheus scrape endpoint handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTrade records an executed trade
func RecordTrade(symbol, side, tradeType string) {
	tradesTotal.WithLabelValues(symbol, side, tradeType).Inc()
}

// ObserveCycle records one cycle's duration in seconds
func ObserveCycle(cycle string, seconds float64) {
	cycleDuration.WithLabelValues(cycle).Observe(seconds)
}

// RecordRecommendationOutcome counts a lifecycle outcome
func RecordRecommendationOutcome(outcome string, count int) {
	if count > 0 {
		recommendationsProcessed.WithLabelValues(outcome).Add(float64(count))
	}
}

// UpdatePortfolio updates the portfolio gauges
func UpdatePortfolio(totalValue float64, positions int) {
	portfolioValue.Set(totalValue)
	openPositions.Set(float64(positions))
}

// RecordRiskDenial counts a denial by the named check
func RecordRiskDenial(check string) {
	riskDenialsTotal.WithLabelValues(check).Inc()
}

// RecordCircuitBreakerHalt counts a circuit breaker trip
func RecordCircuitBreakerHalt() {
	circuitBreakerHalts.Inc()
}

// RecordError counts an error attributed to a module
func RecordError(module string) {
	errorsTotal.WithLabelValues(module).Inc()
}
