package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds every crawler metric
	Registry = prometheus.NewRegistry()

	APICalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitalizer_api_calls_total",
		Help: "GitHub API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitalizer_api_retries_total",
		Help: "GitHub API retries by reason.",
	}, []string{"reason"})

	Tasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitalizer_tasks_total",
		Help: "Processed tasks by kind and outcome.",
	}, []string{"kind", "outcome"})

	CommitsPersisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gitalizer_commits_persisted_total",
		Help: "New commit rows written to the store.",
	})

	RepositoryScans = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gitalizer_repository_scans_total",
		Help: "Repository scans by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(APICalls, APIRetries, Tasks, CommitsPersisted, RepositoryScans)
}

// Handler exposes the registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
