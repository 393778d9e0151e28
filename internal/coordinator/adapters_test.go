package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/credits"
	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/peer"
	"github.com/HamiGames/Lucid-sub000/internal/sigverify"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

type fakeOverlay struct {
	responseTimeMS float64
}

func (f *fakeOverlay) Health(context.Context, string, int) error { return nil }

func (f *fakeOverlay) HealthMetrics(context.Context, string, int) (overlay.HealthMetrics, error) {
	return overlay.HealthMetrics{ResponseTimeMS: f.responseTimeMS, UptimePercent: 99}, nil
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

func TestPeerSourceListsActivePeerIDs(t *testing.T) {
	st := store.NewMemory()
	dir := peer.New(st, &fakeOverlay{}, time.Hour, 24*time.Hour, time.Minute, nil)
	require.NoError(t, dir.AddPeer(context.Background(), peer.Peer{NodeID: "n1", OverlayAddress: "10.0.0.1", Port: 9000, Role: peer.RoleWorker, LastSeen: time.Now()}))

	ids, err := (peerSource{dir: dir}).ActivePeerIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "n1")
}

func TestMetricsProviderCombinesDirectoryAndOverlay(t *testing.T) {
	st := store.NewMemory()
	dir := peer.New(st, &fakeOverlay{responseTimeMS: 42}, time.Hour, 24*time.Hour, time.Minute, nil)
	require.NoError(t, dir.AddPeer(context.Background(), peer.Peer{
		NodeID: "n1", OverlayAddress: "10.0.0.1", Port: 9000, Role: peer.RoleWorker,
		LastSeen: time.Now(), WorkCreditSnapshot: 12.5, UptimePercent: 97.5,
	}))

	mp := metricsProvider{dir: dir, overlay: &fakeOverlay{responseTimeMS: 42}}
	m, err := mp.Metrics(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, 97.5, m.UptimePercent)
	assert.Equal(t, 12.5, m.WorkCredits)
	assert.Equal(t, float64(42), m.ResponseTimeMS)

	ids, err := mp.ActiveNodeIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ids, "n1")
}

func TestMetricsProviderUnknownNodeReturnsZeroValue(t *testing.T) {
	st := store.NewMemory()
	dir := peer.New(st, &fakeOverlay{}, time.Hour, 24*time.Hour, time.Minute, nil)
	mp := metricsProvider{dir: dir, overlay: &fakeOverlay{}}

	m, err := mp.Metrics(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Zero(t, m.UptimePercent)
}

func TestCreditsSourceDelegatesToEngine(t *testing.T) {
	st := store.NewMemory()
	ce := credits.New(st, sigverify.AlwaysValid{}, time.Now().Add(-time.Hour), time.Minute, 30)

	cs := creditsSource{credits: ce, windowDays: 30}
	_, err := cs.RecentCredits(context.Background(), "n1")
	require.NoError(t, err)
}
