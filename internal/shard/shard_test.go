package shard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

func newTestEngine() *Engine {
	return New(store.NewMemory(), nil, "", 3, 10, 5)
}

type fakeOverlay struct{ degraded bool }

func (f *fakeOverlay) Health(context.Context, string, int) error { return nil }

func (f *fakeOverlay) HealthMetrics(context.Context, string, int) (overlay.HealthMetrics, error) {
	if f.degraded {
		return overlay.HealthMetrics{ResponseTimeMS: 6000, UptimePercent: 80, ErrorRate: 10, CPUPercent: 95, MemoryPercent: 95}, nil
	}
	return overlay.HealthMetrics{ResponseTimeMS: 50, UptimePercent: 99.9, ErrorRate: 0, CPUPercent: 10, MemoryPercent: 10}, nil
}

func (f *fakeOverlay) Peers(context.Context, string, int) ([]overlay.PeerRecord, error) {
	return nil, nil
}

func (f *fakeOverlay) RegistrationPing(context.Context, string, int, string) (string, error) {
	return "", nil
}

func (f *fakeOverlay) StorageVerify(context.Context, string, int, string) (string, error) {
	return "", nil
}

func seedHost(t *testing.T, e *Engine, ctx context.Context, id, overlayAddr string, score float64) {
	require.NoError(t, e.SaveHost(ctx, Host{
		NodeID:           id,
		OverlayAddress:   overlayAddr,
		Port:             9000,
		Status:           HostAvailable,
		Capacity:         1000,
		PerformanceScore: score,
	}))
}

// TestPlaceShardPrefersDiversePrefixes implements S4 from spec.md §8:
// five hosts with overlay prefixes aa…, aa…, ab…, ba…, ca… and the
// first aa… host scoring highest; the placer must pick the high-score
// aa… host as primary, then diversify across ab…/ba… rather than
// picking the second aa… host.
func TestPlaceShardPrefersDiversePrefixes(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	seedHost(t, e, ctx, "h1", "aaaaaaaa111111.onion", 90)
	seedHost(t, e, ctx, "h2", "aaaaaaaa222222.onion", 80)
	seedHost(t, e, ctx, "h3", "abababab333333.onion", 70)
	seedHost(t, e, ctx, "h4", "babababa444444.onion", 60)
	seedHost(t, e, ctx, "h5", "cacacaca555555.onion", 50)

	s, err := e.PlaceShard(ctx, "session1", 0, Chunk{DataHash: "hash1", Size: 10})
	require.NoError(t, err)

	require.Len(t, s.AssignedHosts, 3)
	assert.Equal(t, "h1", s.AssignedHosts[0], "primary must be the highest-scoring candidate")
	assert.ElementsMatch(t, []string{"h1", "h3", "h4"}, s.AssignedHosts)
	assert.Equal(t, ShardReady, s.Status)
}

// TestShardReplicationInvariant covers invariant 7: while a shard is
// assigned/replicating/ready its assigned-hosts count equals the
// replication factor and the primary is always present.
func TestShardReplicationInvariant(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	for i, addr := range []string{"aaaa1111.onion", "bbbb2222.onion", "cccc3333.onion", "dddd4444.onion"} {
		seedHost(t, e, ctx, addr, addr, float64(100-i*10))
	}

	s, err := e.PlaceShard(ctx, "session2", 0, Chunk{DataHash: "hash2", Size: 5})
	require.NoError(t, err)

	assert.Equal(t, ShardReady, s.Status)
	assert.Len(t, s.AssignedHosts, e.replicationFactor)
	assert.Equal(t, "aaaa1111.onion", s.AssignedHosts[0], "primary must be the highest-scoring candidate")

	seen := make(map[string]bool, len(s.AssignedHosts))
	for _, h := range s.AssignedHosts {
		assert.False(t, seen[h], "assigned hosts must be distinct")
		seen[h] = true
	}
}

// TestRepairReplacesUnhealthyHost implements S6 from spec.md §8: shard
// S is on {H1,H2,H3}; an integrity mismatch on H2 must remove H2 and
// add a fresh host not already in the assigned set.
func TestRepairReplacesUnhealthyHost(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	seedHost(t, e, ctx, "H1", "h1h1h1h1.onion", 90)
	seedHost(t, e, ctx, "H2", "h2h2h2h2.onion", 80)
	seedHost(t, e, ctx, "H3", "h3h3h3h3.onion", 70)
	seedHost(t, e, ctx, "H4", "h4h4h4h4.onion", 60)

	s := Shard{ShardID: "S", SessionID: "sess", DataHash: "deadbeef", Status: ShardReady, AssignedHosts: []string{"H1", "H2", "H3"}}
	require.NoError(t, e.saveShard(ctx, s))

	require.NoError(t, e.initiateRepair(ctx, "S", "H2"))

	got, ok, err := e.getShard(ctx, "S")
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotContains(t, got.AssignedHosts, "H2")
	assert.Contains(t, got.AssignedHosts, "H1")
	assert.Contains(t, got.AssignedHosts, "H3")
	assert.Contains(t, got.AssignedHosts, "H4")
	assert.Len(t, got.AssignedHosts, 3)
}

func TestMaintenanceWindowLifecycle(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	seedHost(t, e, ctx, "hm1", "hmhmhmhm.onion", 50)
	w, err := e.StartMaintenance(ctx, "hm1", time.Now().Add(time.Hour), []string{"backup1"})
	require.NoError(t, err)

	h, ok, err := e.getHost(ctx, "hm1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HostBusy, h.Status)

	require.NoError(t, e.EndMaintenance(ctx, w.WindowID))

	h, ok, err = e.getHost(ctx, "hm1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HostAvailable, h.Status)
}

func TestHealthCheckMarksDegraded(t *testing.T) {
	e := New(store.NewMemory(), &fakeOverlay{degraded: true}, "", 3, 10, 5)
	ctx := context.Background()

	seedHost(t, e, ctx, "hh1", "hhhhhhhh.onion", 50)
	e.healthCheckOnce(ctx)

	h, ok, err := e.getHost(ctx, "hh1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HostDegraded, h.Status)
}
