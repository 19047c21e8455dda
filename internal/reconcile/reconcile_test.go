package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henryperkins/agentic-rag/internal/metrics"
	"github.com/henryperkins/agentic-rag/internal/store"
)

func seedStores(t *testing.T, primaryChunks, secondaryPoints int) (*store.MemoryDocStore, *store.MemoryVector) {
	t.Helper()
	docs := store.NewMemoryDocStore()
	secondary := store.NewMemoryVector()
	ctx := context.Background()
	require.NoError(t, docs.PutDocument(ctx, store.Document{ID: "d1"}))
	for i := 0; i < primaryChunks; i++ {
		require.NoError(t, docs.PutChunk(ctx, store.Chunk{ID: string(rune('a' + i)), DocID: "d1", Index: i}))
	}
	for i := 0; i < secondaryPoints; i++ {
		require.NoError(t, secondary.Upsert(ctx, string(rune('a'+i)), []float32{1, 0}, nil))
	}
	return docs, secondary
}

func TestRunOnceReportsDriftAndSetsGauge(t *testing.T) {
	docs, secondary := seedStores(t, 3, 2)
	m := metrics.NewMock()
	r := &Reconciler{Primary: docs, Secondary: secondary, Metrics: m}

	drift, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Drift{Primary: 3, Secondary: 2, Drift: 1}, drift)
	assert.Equal(t, 1.0, m.Gauges["store_drift"])
}

func TestRunOnceZeroDriftWhenInSync(t *testing.T) {
	docs, secondary := seedStores(t, 2, 2)
	m := metrics.NewMock()
	r := &Reconciler{Primary: docs, Secondary: secondary, Metrics: m}

	drift, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, drift.Drift)
	assert.Equal(t, 0.0, m.Gauges["store_drift"])
}

func TestRunOnceIsReadOnlyAcrossRuns(t *testing.T) {
	docs, secondary := seedStores(t, 4, 1)
	r := &Reconciler{Primary: docs, Secondary: secondary}

	first, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second, "consecutive runs on an unchanged corpus report the same drift")
}

func TestRunOnceAbsoluteDrift(t *testing.T) {
	// Secondary ahead of primary still reports positive drift.
	docs, secondary := seedStores(t, 1, 3)
	r := &Reconciler{Primary: docs, Secondary: secondary}

	drift, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, drift.Drift)
}
