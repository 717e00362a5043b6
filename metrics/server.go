package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StartCollectingMetrics begins listening and supplying metrics on
// localhost:`metricsPort`/metrics.
func StartCollectingMetrics(logger *zap.Logger, metricsPort int) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		err := http.ListenAndServe(fmt.Sprintf(":%v", metricsPort), nil)
		logger.Warn("metrics server stopped", zap.Error(err))
	}()
}
