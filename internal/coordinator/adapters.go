// Package coordinator wires the twelve components into one daemon:
// it builds each engine over the shared store.Adapter, builds the
// narrow adapters bridging one component's output to another's input
// interface, and runs every background loop under a Supervisor.
package coordinator

import (
	"context"

	"github.com/HamiGames/Lucid-sub000/internal/credits"
	"github.com/HamiGames/Lucid-sub000/internal/flags"
	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/peer"
	"github.com/HamiGames/Lucid-sub000/internal/poot"
)

// peerSource adapts peer.Directory to governance.PeerSource.
type peerSource struct {
	dir *peer.Directory
}

func (p peerSource) ActivePeerIDs(_ context.Context) ([]string, error) {
	peers := p.dir.GetActivePeers()
	ids := make([]string, 0, len(peers))
	for _, pr := range peers {
		ids = append(ids, pr.NodeID)
	}
	return ids, nil
}

// stakeSource adapts poot.Engine to governance.StakeSource.
type stakeSource struct {
	poot *poot.Engine
}

func (s stakeSource) Stake(ctx context.Context, nodeID string) (float64, error) {
	return s.poot.LatestValidatedStake(ctx, nodeID)
}

// creditsSource adapts credits.Engine to governance.CreditsSource and
// pool.CreditsSource, both of which want a node's recent work credits
// over the same configured window.
type creditsSource struct {
	credits    *credits.Engine
	windowDays int
}

func (c creditsSource) RecentCredits(ctx context.Context, nodeID string) (float64, error) {
	return c.credits.CalculateWorkCredits(ctx, nodeID, c.windowDays)
}

// metricsProvider adapts peer.Directory and overlay.Client to
// flags.MetricsProvider: uptime and work credits come from the peer
// record the directory already tracks, response time comes from the
// same overlay health-metrics call the Shard Manager's health check
// loop uses against that peer's own address.
type metricsProvider struct {
	dir     *peer.Directory
	overlay overlay.Client
}

func (m metricsProvider) ActiveNodeIDs(_ context.Context) ([]string, error) {
	peers := m.dir.GetActivePeers()
	ids := make([]string, 0, len(peers))
	for _, pr := range peers {
		ids = append(ids, pr.NodeID)
	}
	return ids, nil
}

func (m metricsProvider) Metrics(ctx context.Context, nodeID string) (flags.NodeMetrics, error) {
	p, ok := m.dir.GetPeer(nodeID)
	if !ok {
		return flags.NodeMetrics{}, nil
	}
	nm := flags.NodeMetrics{
		UptimePercent: p.UptimePercent,
		WorkCredits:   p.WorkCreditSnapshot,
	}
	hm, err := m.overlay.HealthMetrics(ctx, p.OverlayAddress, p.Port)
	if err != nil {
		return nm, nil
	}
	nm.ResponseTimeMS = hm.ResponseTimeMS
	return nm, nil
}
