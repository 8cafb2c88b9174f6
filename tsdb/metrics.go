package tsdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics counts ingest work. With a nil registerer the counters exist
// but stay unregistered, so the hot path never branches on metrics being on.
type storeMetrics struct {
	pointsAppended prometheus.Counter
	pointsInserted prometheus.Counter
	bucketSplits   prometheus.Counter
	bucketsMerged  prometheus.Counter
}

func newStoreMetrics(r prometheus.Registerer) *storeMetrics {
	factory := promauto.With(r)
	return &storeMetrics{
		pointsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "stss_points_appended_total",
			Help: "Samples appended past the end of a series.",
		}),
		pointsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stss_points_inserted_total",
			Help: "Samples merged into existing buckets.",
		}),
		bucketSplits: factory.NewCounter(prometheus.CounterOpts{
			Name: "stss_bucket_splits_total",
			Help: "Buckets split on a size or window bound.",
		}),
		bucketsMerged: factory.NewCounter(prometheus.CounterOpts{
			Name: "stss_buckets_merged_total",
			Help: "Buckets written through the merge path.",
		}),
	}
}
