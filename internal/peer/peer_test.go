package peer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
)

func TestAddPeerAndGetActivePeers(t *testing.T) {
	d := New(store.NewMemory(), nil, 10*time.Minute, 24*time.Hour, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, d.AddPeer(ctx, Peer{NodeID: "n1", OverlayAddress: "aaaa1234.onion", Port: 9000, Role: RoleWorker}))
	require.NoError(t, d.AddPeer(ctx, Peer{NodeID: "n2", OverlayAddress: "bbbb5678.onion", Port: 9000, Role: RoleServer, LastSeen: time.Now().Add(-time.Hour)}))

	active := d.GetActivePeers()
	assert.Len(t, active, 1)
	assert.Equal(t, "n1", active[0].NodeID)
}

func TestGetPeersByRole(t *testing.T) {
	d := New(store.NewMemory(), nil, 10*time.Minute, 24*time.Hour, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, d.AddPeer(ctx, Peer{NodeID: "n1", Role: RoleWorker}))
	require.NoError(t, d.AddPeer(ctx, Peer{NodeID: "n2", Role: RoleAdmin}))

	admins := d.GetPeersByRole(RoleAdmin)
	assert.Len(t, admins, 1)
	assert.Equal(t, "n2", admins[0].NodeID)
}

func TestRemovePeer(t *testing.T) {
	d := New(store.NewMemory(), nil, 10*time.Minute, 24*time.Hour, time.Minute, nil)
	ctx := context.Background()

	require.NoError(t, d.AddPeer(ctx, Peer{NodeID: "n1", Role: RoleWorker}))
	require.NoError(t, d.RemovePeer(ctx, "n1"))

	_, ok := d.GetPeer("n1")
	assert.False(t, ok)
}

func TestLoadIndexRebuildsFromStore(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	d1 := New(st, nil, 10*time.Minute, 24*time.Hour, time.Minute, nil)
	require.NoError(t, d1.AddPeer(ctx, Peer{NodeID: "n1", Role: RoleWorker}))

	d2 := New(st, nil, 10*time.Minute, 24*time.Hour, time.Minute, nil)
	require.NoError(t, d2.LoadIndex(ctx))

	_, ok := d2.GetPeer("n1")
	assert.True(t, ok)
}

func TestParseBootstrapPeer(t *testing.T) {
	p, err := ParseBootstrapPeer("node-123@abcdefgh12345678.onion:9050")
	require.NoError(t, err)
	assert.Equal(t, "node-123", p.NodeID)
	assert.Equal(t, "abcdefgh12345678.onion", p.OverlayAddress)
	assert.Equal(t, 9050, p.Port)

	_, err = ParseBootstrapPeer("missing-at-sign")
	assert.Error(t, err)

	_, err = ParseBootstrapPeer("node@no-port-here")
	assert.Error(t, err)
}

func TestUpdatePeerMetricsRequiresKnownPeer(t *testing.T) {
	d := New(store.NewMemory(), nil, 10*time.Minute, 24*time.Hour, time.Minute, nil)
	err := d.UpdatePeerMetrics(context.Background(), "unknown", 10, 99)
	assert.Error(t, err)
}
