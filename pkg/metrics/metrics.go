package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	PoolSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "xfer",
		Name:      "pool_sessions",
		Help:      "Number of pooled sessions by state (active, idle).",
	}, []string{"state"})

	PoolSessionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xfer",
		Name:      "pool_sessions_created_total",
		Help:      "Total sessions established by the pool.",
	})

	PoolSessionsEvictedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xfer",
		Name:      "pool_sessions_evicted_total",
		Help:      "Total sessions removed from the pool by reason.",
	}, []string{"reason"})

	PoolAcquireTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xfer",
		Name:      "pool_acquire_timeouts_total",
		Help:      "Total acquire calls that gave up waiting for a free session.",
	})

	ChunksTransferredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xfer",
		Name:      "chunks_transferred_total",
		Help:      "Total chunks transferred by direction (upload, download).",
	}, []string{"direction"})

	TransferBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xfer",
		Name:      "transfer_bytes_total",
		Help:      "Total bytes moved by completed transfers, by direction.",
	}, []string{"direction"})

	MergeFallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "xfer",
		Name:      "merge_fallbacks_total",
		Help:      "Total chunked uploads retried as a whole-file transfer after a failed merge.",
	})
)

// Register 把所有指标注册到 reg
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		PoolSessions,
		PoolSessionsCreatedTotal,
		PoolSessionsEvictedTotal,
		PoolAcquireTimeoutsTotal,
		ChunksTransferredTotal,
		TransferBytesTotal,
		MergeFallbacksTotal,
	)
}

// WriteTextfile 以 node_exporter textfile 格式导出 reg 中的指标
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
