package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var batchesScored = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_score_batches_scored",
	Help: "Number of moderation score batches fetched successfully",
})

var batchesAbandoned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "castscan_score_batches_abandoned",
	Help: "Number of moderation score batches abandoned",
}, []string{"reason"})

var cacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_score_cache_hits",
	Help: "Number of score lookups served from cache",
})

var cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_score_cache_misses",
	Help: "Number of score lookups queued for fetching",
})

var throttledCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_score_provider_throttled",
	Help: "Number of 429 responses from the moderation provider",
})
