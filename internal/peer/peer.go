// Package peer implements the Peer Directory: known peers, liveness,
// capability sets, and role filtering. The Store Adapter owns the
// persisted rows; Directory keeps an in-memory index that is a
// projection of that state, rebuilt on startup.
package peer

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	multiaddr "github.com/multiformats/go-multiaddr"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const collection = "peers"

// Role is a peer's declared role in the network.
type Role string

const (
	RoleWorker Role = "worker"
	RoleServer Role = "server"
	RoleAdmin  Role = "admin"
	RoleDev    Role = "dev"
)

// MetricsSnapshot is the supplemented Node Metrics Snapshot entity
// (SPEC_FULL.md §3.1), a rolling per-peer resource/activity record.
type MetricsSnapshot struct {
	CPUPercent      float64   `json:"cpu_percent"`
	MemoryPercent   float64   `json:"memory_percent"`
	DiskPercent     float64   `json:"disk_percent"`
	BandwidthInMbps float64   `json:"bandwidth_in_mbps"`
	BandwidthOutMbps float64  `json:"bandwidth_out_mbps"`
	ActiveSessions  int       `json:"active_sessions"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Peer is the directory's Peer entity (spec.md §3).
type Peer struct {
	NodeID             string          `json:"node_id"`
	OverlayAddress     string          `json:"overlay_address"`
	Port               int             `json:"port"`
	Role               Role            `json:"role"`
	Capabilities       []string        `json:"capabilities"`
	LastSeen           time.Time       `json:"last_seen"`
	WorkCreditSnapshot float64         `json:"work_credit_snapshot"`
	UptimePercent      float64         `json:"uptime_percent"`
	Metrics            MetricsSnapshot `json:"metrics"`
}

// Directory is the Peer Directory component.
type Directory struct {
	st      store.Adapter
	overlay overlay.Client

	activeHorizon time.Duration
	staleTimeout  time.Duration
	pingInterval  time.Duration
	bootstrap     []string

	mu    sync.RWMutex
	index map[string]Peer
}

// New constructs a Directory. Callers must call LoadIndex before
// serving traffic so the in-memory projection matches the store.
func New(st store.Adapter, ovl overlay.Client, activeHorizon, staleTimeout, pingInterval time.Duration, bootstrapPeers []string) *Directory {
	return &Directory{
		st:            st,
		overlay:       ovl,
		activeHorizon: activeHorizon,
		staleTimeout:  staleTimeout,
		pingInterval:  pingInterval,
		bootstrap:     bootstrapPeers,
		index:         make(map[string]Peer),
	}
}

func docFromPeer(p Peer) store.Doc {
	return store.Doc{
		"node_id":              p.NodeID,
		"overlay_address":      p.OverlayAddress,
		"port":                 p.Port,
		"role":                 string(p.Role),
		"capabilities":         toInterfaceSlice(p.Capabilities),
		"last_seen":            p.LastSeen.Format(time.RFC3339Nano),
		"work_credit_snapshot": p.WorkCreditSnapshot,
		"uptime_percent":       p.UptimePercent,
		"metrics": store.Doc{
			"cpu_percent":        p.Metrics.CPUPercent,
			"memory_percent":     p.Metrics.MemoryPercent,
			"disk_percent":       p.Metrics.DiskPercent,
			"bandwidth_in_mbps":  p.Metrics.BandwidthInMbps,
			"bandwidth_out_mbps": p.Metrics.BandwidthOutMbps,
			"active_sessions":    p.Metrics.ActiveSessions,
			"last_updated":       p.Metrics.LastUpdated.Format(time.RFC3339Nano),
		},
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func peerFromDoc(d store.Doc) Peer {
	p := Peer{
		NodeID:         asString(d["node_id"]),
		OverlayAddress: asString(d["overlay_address"]),
		Port:           asInt(d["port"]),
		Role:           Role(asString(d["role"])),
	}
	if caps, ok := d["capabilities"].([]interface{}); ok {
		for _, c := range caps {
			p.Capabilities = append(p.Capabilities, fmt.Sprintf("%v", c))
		}
	}
	p.LastSeen = asTime(d["last_seen"])
	p.WorkCreditSnapshot = asFloat(d["work_credit_snapshot"])
	p.UptimePercent = asFloat(d["uptime_percent"])
	if m, ok := d["metrics"].(map[string]interface{}); ok {
		md := store.Doc(m)
		p.Metrics = MetricsSnapshot{
			CPUPercent:       asFloat(md["cpu_percent"]),
			MemoryPercent:    asFloat(md["memory_percent"]),
			DiskPercent:      asFloat(md["disk_percent"]),
			BandwidthInMbps:  asFloat(md["bandwidth_in_mbps"]),
			BandwidthOutMbps: asFloat(md["bandwidth_out_mbps"]),
			ActiveSessions:   asInt(md["active_sessions"]),
			LastUpdated:      asTime(md["last_updated"]),
		}
	}
	return p
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func asInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func asTime(v interface{}) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// LoadIndex rebuilds the in-memory projection from the store. Call
// once at startup before background loops begin.
func (d *Directory) LoadIndex(ctx context.Context) error {
	it, err := d.st.Find(ctx, collection, nil, nil, 0)
	if err != nil {
		return coreerr.Transient(err, "load peer index")
	}
	defer it.Close()

	fresh := make(map[string]Peer)
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return coreerr.Transient(err, "iterate peer index")
		}
		if !ok {
			break
		}
		p := peerFromDoc(doc)
		fresh[p.NodeID] = p
	}

	d.mu.Lock()
	d.index = fresh
	d.mu.Unlock()
	return nil
}

// AddPeer registers or refreshes a peer.
func (d *Directory) AddPeer(ctx context.Context, p Peer) error {
	if p.NodeID == "" {
		return coreerr.Validation("peer node-id is required")
	}
	if p.LastSeen.IsZero() {
		p.LastSeen = time.Now().UTC()
	}

	if err := d.st.Upsert(ctx, collection, p.NodeID, docFromPeer(p)); err != nil {
		return err
	}

	d.mu.Lock()
	d.index[p.NodeID] = p
	d.mu.Unlock()
	return nil
}

// RemovePeer deletes a peer by node-id.
func (d *Directory) RemovePeer(ctx context.Context, nodeID string) error {
	if _, err := d.st.DeleteMany(ctx, collection, store.Eq("node_id", nodeID)); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.index, nodeID)
	d.mu.Unlock()
	return nil
}

// GetActivePeers returns every peer last seen within the active
// horizon.
func (d *Directory) GetActivePeers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cutoff := time.Now().Add(-d.activeHorizon)
	out := make([]Peer, 0, len(d.index))
	for _, p := range d.index {
		if p.LastSeen.After(cutoff) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GetPeersByRole returns every known peer (active or not) with the
// given role.
func (d *Directory) GetPeersByRole(role Role) []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0)
	for _, p := range d.index {
		if p.Role == role {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// GetPeer returns a single peer by node-id.
func (d *Directory) GetPeer(nodeID string) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.index[nodeID]
	return p, ok
}

// UpdatePeerMetrics records a fresh work-credit/uptime observation for
// a peer, bumping last-seen.
func (d *Directory) UpdatePeerMetrics(ctx context.Context, nodeID string, credits, uptimePercent float64) error {
	d.mu.RLock()
	p, ok := d.index[nodeID]
	d.mu.RUnlock()
	if !ok {
		return coreerr.Precondition("unknown peer %s", nodeID)
	}
	p.WorkCreditSnapshot = credits
	p.UptimePercent = uptimePercent
	p.LastSeen = time.Now().UTC()
	return d.AddPeer(ctx, p)
}

// Ping checks a single peer's liveness over the overlay transport and
// refreshes last-seen on success.
func (d *Directory) Ping(ctx context.Context, p Peer) error {
	if err := d.overlay.Health(ctx, p.OverlayAddress, p.Port); err != nil {
		return coreerr.Transient(err, "ping %s", p.NodeID)
	}
	p.LastSeen = time.Now().UTC()
	return d.AddPeer(ctx, p)
}

// ParseBootstrapPeer parses a "node@address:port" bootstrap entry,
// validating the address portion as a dialable host[:port] pair via
// go-multiaddr's /dns4 and /ip4 component parsing where the address looks
// like a bare IP or DNS name (overlay .onion-style addresses are opaque
// to multiaddr and pass through as-is).
func ParseBootstrapPeer(entry string) (Peer, error) {
	atIdx := strings.Index(entry, "@")
	if atIdx < 0 {
		return Peer{}, coreerr.Validation("bootstrap peer %q missing node@address:port", entry)
	}
	nodeID := entry[:atIdx]
	rest := entry[atIdx+1:]

	colonIdx := strings.LastIndex(rest, ":")
	if colonIdx < 0 {
		return Peer{}, coreerr.Validation("bootstrap peer %q missing port", entry)
	}
	address := rest[:colonIdx]
	portStr := rest[colonIdx+1:]

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Peer{}, coreerr.Validation("bootstrap peer %q has non-numeric port: %v", entry, err)
	}

	if !strings.HasSuffix(address, ".onion") {
		if _, err := multiaddr.NewMultiaddr(fmt.Sprintf("/dns4/%s/tcp/%d", address, port)); err != nil {
			if _, err2 := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/%s/tcp/%d", address, port)); err2 != nil {
				return Peer{}, coreerr.Validation("bootstrap peer %q has unparseable address: %v", entry, err)
			}
		}
	}

	return Peer{
		NodeID:         nodeID,
		OverlayAddress: address,
		Port:           port,
		Role:           RoleWorker,
	}, nil
}

// BootstrapOnce parses every configured bootstrap peer and pings each
// once, adding reachable ones to the directory. Unreachable entries are
// logged and skipped, never fatal to startup.
func (d *Directory) BootstrapOnce(ctx context.Context) {
	for _, entry := range d.bootstrap {
		p, err := ParseBootstrapPeer(entry)
		if err != nil {
			log.Printf("peer: skipping invalid bootstrap entry %q: %v", entry, err)
			continue
		}
		if err := d.Ping(ctx, p); err != nil {
			log.Printf("peer: bootstrap peer %s unreachable: %v", p.NodeID, err)
			continue
		}
		log.Printf("peer: bootstrapped %s at %s:%d", p.NodeID, p.OverlayAddress, p.Port)
	}
}

// RunPingLoop pings every known peer on each tick, refreshing last-seen
// on success, and removes peers stale beyond the configured timeout.
// It runs until ctx is cancelled.
func (d *Directory) RunPingLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pingAllOnce(ctx)
			d.sweepStaleOnce(ctx)
		}
	}
}

func (d *Directory) pingAllOnce(ctx context.Context) {
	d.mu.RLock()
	peers := make([]Peer, 0, len(d.index))
	for _, p := range d.index {
		peers = append(peers, p)
	}
	d.mu.RUnlock()

	for _, p := range peers {
		if err := d.Ping(ctx, p); err != nil {
			log.Printf("peer: ping %s failed: %v", p.NodeID, err)
		}
	}
}

func (d *Directory) sweepStaleOnce(ctx context.Context) {
	cutoff := time.Now().Add(-d.staleTimeout)
	d.mu.RLock()
	stale := make([]string, 0)
	for id, p := range d.index {
		if p.LastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	d.mu.RUnlock()

	for _, id := range stale {
		if err := d.RemovePeer(ctx, id); err != nil {
			log.Printf("peer: remove stale %s failed: %v", id, err)
		}
	}
}
