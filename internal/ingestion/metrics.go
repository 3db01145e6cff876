package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// pipelineMetrics holds the Prometheus metrics owned by a Pipeline.
type pipelineMetrics struct {
	// chunks counts processed chunks by outcome: succeeded, skipped, aborted.
	chunks *prometheus.CounterVec

	// runs counts finished runs by result: "ok" or an error kind.
	runs *prometheus.CounterVec
}

// newPipelineMetrics registers against reg. promauto.With(nil) creates the
// collectors without registering them, which keeps tests hermetic.
func newPipelineMetrics(reg prometheus.Registerer) *pipelineMetrics {
	factory := promauto.With(reg)
	return &pipelineMetrics{
		chunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks processed, partitioned by outcome.",
		}, []string{"outcome"}),

		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs, partitioned by result.",
		}, []string{"result"}),
	}
}
