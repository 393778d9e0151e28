package credits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
)

func newTestEngine() *Engine {
	epochZero := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return New(store.NewMemory(), nil, epochZero, 120*time.Second, 30)
}

func TestSubmitWorkProofRejectsDuplicate(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	p := WorkProof{NodeID: "nodeA", Slot: 100, TaskKind: TaskRelayBandwidth, Value: 2.0, Timestamp: time.Now()}

	require.NoError(t, e.SubmitWorkProof(ctx, p))
	err := e.SubmitWorkProof(ctx, p)
	assert.Error(t, err)
}

func TestSubmitWorkProofRejectsUnknownKind(t *testing.T) {
	e := newTestEngine()
	err := e.SubmitWorkProof(context.Background(), WorkProof{NodeID: "n1", Slot: 1, TaskKind: "bogus", Value: 1})
	assert.Error(t, err)
}

// TestRankingScenario implements S1 from spec.md §8: node A submits
// relay-bandwidth=2.0, node B submits storage-proof=3.0 and
// uptime-beacon=1.0 in slot 100. A's weight=2.0, B's weight=1.6.
func TestRankingScenario(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.SubmitWorkProof(ctx, WorkProof{NodeID: "nodeA", Slot: 100, TaskKind: TaskRelayBandwidth, Value: 2.0, Timestamp: now}))
	require.NoError(t, e.SubmitWorkProof(ctx, WorkProof{NodeID: "nodeB", Slot: 100, TaskKind: TaskStorageProof, Value: 3.0, Timestamp: now}))
	require.NoError(t, e.SubmitWorkProof(ctx, WorkProof{NodeID: "nodeB", Slot: 100, TaskKind: TaskUptimeBeacon, Value: 1.0, Timestamp: now}))

	require.NoError(t, e.UpdateWorkTally(ctx, 0, 30))

	rankA, found, err := e.GetEntityRank(ctx, "nodeA", 0)
	require.NoError(t, err)
	require.True(t, found)
	rankB, found, err := e.GetEntityRank(ctx, "nodeB", 0)
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, 1, rankA.Rank)
	assert.Equal(t, 2, rankB.Rank)
	assert.InDelta(t, 2.0, rankA.Credits, 1e-9)
	assert.InDelta(t, 1.6, rankB.Credits, 1e-9)
}

// TestRankDensity checks invariant 2: ranks form a gapless prefix of
// {1,...,N}.
func TestRankDensity(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	now := time.Now()

	nodes := []string{"n1", "n2", "n3", "n4"}
	for i, n := range nodes {
		require.NoError(t, e.SubmitWorkProof(ctx, WorkProof{
			NodeID: n, Slot: int64(100 + i), TaskKind: TaskRelayBandwidth, Value: float64(i + 1), Timestamp: now,
		}))
	}
	require.NoError(t, e.UpdateWorkTally(ctx, 0, 30))

	top, err := e.GetTopEntities(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, top, 4)

	seen := make(map[int]bool)
	for _, tally := range top {
		seen[tally.Rank] = true
	}
	for i := 1; i <= 4; i++ {
		assert.True(t, seen[i], "missing rank %d", i)
	}
}

func TestSlotAndEpochArithmetic(t *testing.T) {
	e := newTestEngine()
	t0 := e.epochZero
	assert.Equal(t, int64(0), e.SlotFor(t0))
	assert.Equal(t, int64(1), e.SlotFor(t0.Add(120*time.Second)))
	assert.Equal(t, int64(0), e.EpochFor(t0.Add(29*24*time.Hour)))
	assert.Equal(t, int64(1), e.EpochFor(t0.Add(31*24*time.Hour)))
}
