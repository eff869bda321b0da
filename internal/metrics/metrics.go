// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the dedicated registry all marketplace collectors live on.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Items handed to the top-deals pass, before eligibility filtering.
	DealsConsidered = factory.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_deals_considered_total",
		Help: "Total number of catalog items considered for top deals",
	})

	// Items that passed the eligibility filter and were scored.
	DealsEligible = factory.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_deals_eligible_total",
		Help: "Total number of catalog items that passed the deal eligibility filter and were scored",
	})

	BatchPages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_batch_pages_total",
			Help: "Total number of bulk research pages requested, by outcome",
		},
		[]string{"outcome"},
	)

	BatchItems = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_batch_items_total",
			Help: "Total number of catalog items handled by bulk research, by result",
		},
		[]string{"result"},
	)

	// Label is the winning tier name, or "denied".
	AdminVerifications = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_admin_verifications_total",
			Help: "Total number of admin verifications, by deciding method",
		},
		[]string{"method"},
	)

	LLMRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_llm_requests_total",
			Help: "Total number of LLM research requests, by outcome",
		},
		[]string{"outcome"},
	)
)

// Label values shared by callers.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	ResultUpdated = "updated"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"

	MethodDenied = "denied"
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
