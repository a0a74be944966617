// Package metrics wires the ingestion pipeline's counters and gauges into
// Prometheus, sourced from the third-party stack carried by the rest of the
// example pack (github.com/prometheus/client_golang appears in
// luxfi-evm's and AKJUS-bsc-erigon's go.mod) rather than the teacher
// itself, since the kernel service has no metrics surface of its own.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/solindexer/core/internal/dex"
)

var _ dex.Metrics = (*Registry)(nil)

// Registry implements dex.Metrics, including the backfill/stream lag gauges
// that backfill.Manager and stream.Manager set through that interface.
type Registry struct {
	decodeMismatch      *prometheus.CounterVec
	duplicateSignature  *prometheus.CounterVec
	repositoryError     *prometheus.CounterVec
	bundlesProcessed    *prometheus.CounterVec
	decodeMismatchRatio *prometheus.GaugeVec
	backfillLagSlots    *prometheus.GaugeVec
	streamLagSeconds    *prometheus.GaugeVec

	// ratioMu guards totalBundles/totalMismatch, which IncDecodeMismatch and
	// ObserveBundleProcessed both read-modify-write from the live path and
	// the scheduled rescan path concurrently once a dex reaches Live.
	ratioMu       sync.Mutex
	totalBundles  map[string]float64
	totalMismatch map[string]float64
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		decodeMismatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solindexer_decode_mismatch_total",
			Help: "Count of log bundles that failed to decode against a known discriminator.",
		}, []string{"dex"}),
		duplicateSignature: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solindexer_duplicate_signature_total",
			Help: "Count of events rejected as already-persisted duplicates.",
		}, []string{"dex"}),
		repositoryError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solindexer_repository_error_total",
			Help: "Count of non-duplicate repository errors.",
		}, []string{"dex"}),
		bundlesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solindexer_bundles_processed_total",
			Help: "Count of log bundles successfully processed end to end.",
		}, []string{"dex"}),
		decodeMismatchRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solindexer_decode_mismatch_ratio",
			Help: "Cumulative ratio of decode mismatches to decode mismatches plus processed bundles since process start; no schema-drift escalation reads it.",
		}, []string{"dex"}),
		backfillLagSlots: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solindexer_backfill_lag_slots",
			Help: "Slots between a pool's stored cursor and chain tip at backfill start.",
		}, []string{"dex", "pool"}),
		streamLagSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "solindexer_stream_lag_seconds",
			Help: "Seconds since the last bundle was forwarded by the stream manager.",
		}, []string{"dex"}),
		totalBundles:  make(map[string]float64),
		totalMismatch: make(map[string]float64),
	}

	reg.MustRegister(
		r.decodeMismatch,
		r.duplicateSignature,
		r.repositoryError,
		r.bundlesProcessed,
		r.decodeMismatchRatio,
		r.backfillLagSlots,
		r.streamLagSeconds,
	)
	return r
}

func (r *Registry) IncDecodeMismatch(dexName string) {
	r.decodeMismatch.WithLabelValues(dexName).Inc()
	r.ratioMu.Lock()
	r.totalMismatch[dexName]++
	r.updateRatioLocked(dexName)
	r.ratioMu.Unlock()
}

func (r *Registry) IncDuplicateSignature(dexName string) {
	r.duplicateSignature.WithLabelValues(dexName).Inc()
}

func (r *Registry) IncRepositoryError(dexName string) {
	r.repositoryError.WithLabelValues(dexName).Inc()
}

func (r *Registry) ObserveBundleProcessed(dexName string) {
	r.bundlesProcessed.WithLabelValues(dexName).Inc()
	r.ratioMu.Lock()
	r.totalBundles[dexName]++
	r.updateRatioLocked(dexName)
	r.ratioMu.Unlock()
}

// updateRatioLocked must be called with ratioMu held.
func (r *Registry) updateRatioLocked(dexName string) {
	total := r.totalBundles[dexName] + r.totalMismatch[dexName]
	if total == 0 {
		return
	}
	r.decodeMismatchRatio.WithLabelValues(dexName).Set(r.totalMismatch[dexName] / total)
}

// SetBackfillLagSlots records the slot gap a backfill run starts from.
func (r *Registry) SetBackfillLagSlots(dexName, pool string, lag float64) {
	r.backfillLagSlots.WithLabelValues(dexName, pool).Set(lag)
}

// SetStreamLagSeconds records how long since the stream manager last
// forwarded a bundle for dexName.
func (r *Registry) SetStreamLagSeconds(dexName string, seconds float64) {
	r.streamLagSeconds.WithLabelValues(dexName).Set(seconds)
}
