package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_follow_pages_fetched",
	Help: "Number of follow-graph pages fetched successfully",
})

var pageRetries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_follow_page_retries",
	Help: "Number of follow-graph page retries (throttle or bad shape)",
})

var accountsFetched = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_follow_accounts_fetched",
	Help: "Number of followed accounts fetched",
})

var throttledCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_follow_provider_throttled",
	Help: "Number of 429 responses from the follow-graph provider",
})
