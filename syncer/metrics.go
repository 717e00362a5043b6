package syncer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shardsyncio/go-shardsync/metrics"
)

// subsystem shared by all metrics exposed by this package.
const subsystem = "syncer"

var (
	versionsFetched = metrics.NewCounter(
		"fetched_total",
		subsystem,
		"total versions downloaded and marked stable",
		[]string{}).WithLabelValues()

	fetchFailures = metrics.NewCounter(
		"fetch_failures_total",
		subsystem,
		"total version downloads that failed",
		[]string{}).WithLabelValues()

	versionsRemoved = metrics.NewCounter(
		"removed_total",
		subsystem,
		"total expired versions removed by the retention sweep",
		[]string{}).WithLabelValues()

	missingVersions = metrics.NewGauge(
		"missing_versions",
		subsystem,
		"number of versions currently believed unreachable",
		[]string{}).WithLabelValues()

	stableVersion = metrics.NewGauge(
		"stable_version",
		subsystem,
		"highest version marked stable locally",
		[]string{}).WithLabelValues()

	fetchDuration = metrics.NewHistogramWithBuckets(
		"fetch_duration_seconds",
		subsystem,
		"time to download a single version",
		[]string{},
		prometheus.ExponentialBuckets(0.5, 2, 12)).WithLabelValues()
)
