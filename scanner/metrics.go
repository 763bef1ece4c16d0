package scanner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scansStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_scans_started",
	Help: "Number of scans started",
})

var scansSucceeded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_scans_succeeded",
	Help: "Number of scans completed successfully",
})

var scansFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "castscan_scans_failed",
	Help: "Number of scans completed with a stored error",
})

var scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "castscan_scan_duration_sec",
	Help: "Total duration of successful scans",
})
