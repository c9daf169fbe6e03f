package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Position engine
	PositionsAllocated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppos_positions_allocated_total",
		Help: "Positions handed out by the allocator",
	}, []string{"kind"})

	ColdStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppos_cold_starts_total",
		Help: "Watermark seeds computed from the durable aggregate",
	})

	PreviewHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ppos_preview_hits_total",
		Help: "Preview lookups answered by an existing slot",
	})

	// Cache
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppos_cache_errors_total",
		Help: "Cache operations that failed",
	}, []string{"op"})

	// Ordering edits
	Moves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppos_moves_total",
		Help: "Message moves by direction and outcome",
	}, []string{"direction", "outcome"})

	EventPublishErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ppos_event_publish_errors_total",
		Help: "Events that could not be broadcast",
	}, []string{"type"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
