package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_DecodeMismatchRatioTracksObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.ObserveBundleProcessed("raydium")
	r.ObserveBundleProcessed("raydium")
	r.ObserveBundleProcessed("raydium")
	r.IncDecodeMismatch("raydium")

	m := &dto.Metric{}
	require.NoError(t, r.decodeMismatchRatio.WithLabelValues("raydium").Write(m))
	assert.InDelta(t, 0.25, m.GetGauge().GetValue(), 0.0001)
}

func TestRegistry_CountersIncrementPerDex(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.IncDuplicateSignature("whirlpool")
	r.IncRepositoryError("whirlpool")

	m := &dto.Metric{}
	require.NoError(t, r.duplicateSignature.WithLabelValues("whirlpool").Write(m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

// TestRegistry_ConcurrentRatioUpdatesDoNotRace exercises IncDecodeMismatch
// and ObserveBundleProcessed from many goroutines at once, the same way the
// live path and a scheduled rescan can both touch one Registry concurrently.
// Run with -race to verify; once all 100 updates land the ratio must be
// exactly 50 mismatches out of 100 observations.
func TestRegistry_ConcurrentRatioUpdatesDoNotRace(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.ObserveBundleProcessed("raydium")
		}()
		go func() {
			defer wg.Done()
			r.IncDecodeMismatch("raydium")
		}()
	}
	wg.Wait()

	m := &dto.Metric{}
	require.NoError(t, r.decodeMismatchRatio.WithLabelValues("raydium").Write(m))
	assert.InDelta(t, 0.5, m.GetGauge().GetValue(), 0.0001)
}
