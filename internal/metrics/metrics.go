// Package metrics registers the node's Prometheus instrumentation. The
// coordinator owns one Metrics value and updates it from the
// finalization, consensus, mempool, and peer paths; exposing the
// registry over HTTP is the (out-of-scope) exporter's job.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the node's instrument set, registered on its own registry
// so tests can create as many as they like without collisions.
type Metrics struct {
	Registry *prometheus.Registry

	BlocksFinalized prometheus.Counter
	ViewChanges     prometheus.Counter
	TxExecuted      prometheus.Counter
	TxFailed        prometheus.Counter
	SyncBatches     prometheus.Counter
	SyncRollbacks   prometheus.Counter

	MempoolSize prometheus.Gauge
	PeerCount   prometheus.Gauge
	ChainHeight prometheus.Gauge
	CurrentView prometheus.Gauge
}

// New builds and registers the instrument set.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		BlocksFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_blocks_finalized_total",
			Help: "Blocks finalized and applied by this node.",
		}),
		ViewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_view_changes_total",
			Help: "View changes this node has participated in.",
		}),
		TxExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_tx_executed_total",
			Help: "Transactions executed in finalized blocks.",
		}),
		TxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_tx_failed_total",
			Help: "Transactions that executed with a failure receipt.",
		}),
		SyncBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_sync_batches_total",
			Help: "Pull-sync batches applied.",
		}),
		SyncRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "basalt_sync_rollbacks_total",
			Help: "Pull-sync batches rolled back after a per-block failure.",
		}),
		MempoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "basalt_mempool_size",
			Help: "Transactions currently pending in the mempool.",
		}),
		PeerCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "basalt_peer_count",
			Help: "Live authenticated peer connections.",
		}),
		ChainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "basalt_chain_height",
			Help: "Block number of the current chain tip.",
		}),
		CurrentView: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "basalt_current_view",
			Help: "The consensus engine's current view.",
		}),
	}
	m.Registry.MustRegister(
		m.BlocksFinalized, m.ViewChanges, m.TxExecuted, m.TxFailed,
		m.SyncBatches, m.SyncRollbacks, m.MempoolSize, m.PeerCount,
		m.ChainHeight, m.CurrentView,
	)
	return m
}
