package roulette

import "github.com/prometheus/client_golang/prometheus"

var (
	// probesTotal counts candidates inspected while filtering, by filter.
	// Banner probes each cost one Discord API call; year probes are local.
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_probes_total",
			Help: "Candidates inspected by the roulette sampler.",
		},
		[]string{"filter"},
	)

	// drawsTotal counts finished draws by outcome: hit, exhausted or error.
	drawsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roulette_draws_total",
			Help: "Roulette draws by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(probesTotal, drawsTotal)
}
