package failedbatch

import (
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/topazyo/s3-sentinel-connector-sub001/metric"
)

// FilesGaugeName is the fully qualified name of the pending-file gauge
const FilesGaugeName = metric.Namespace + "_failed_batch_files"

// FilesGauge returns a gauge that counts pending files at scrape time
func (s *Store) FilesGauge() prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metric.Namespace,
		Name:      "failed_batch_files",
		Help:      "Pending failed-batch files awaiting replay",
	}, func() float64 {
		n, err := s.Count()
		if err != nil {
			s.logger.Warn("Failed to count pending batches", slog.Any("error", err))
			return math.NaN()
		}
		return float64(n)
	})
}
