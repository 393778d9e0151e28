// Package shard implements the Shard Placer and Shard Manager: chunk
// placement with overlay-address diversity, health/integrity/repair/
// rebalance/optimization background loops, and maintenance windows
// (spec.md §4.9, §4.10).
package shard

import (
	"context"
	"io"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	shell "github.com/ipfs/go-ipfs-api"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	hostsCollection           = "shard_hosts"
	shardsCollection          = "shards"
	tasksCollection           = "shard_creation_tasks"
	maintenanceCollection     = "maintenance_windows"
	metricsCollection         = "performance_metrics"
	integrityCollection       = "integrity_checks"
	repairCollection          = "repair_operations"
	maxIntegritySamplePerPass = 10
)

// HostStatus is a Shard Host's availability status.
type HostStatus string

const (
	HostAvailable HostStatus = "available"
	HostAssigned  HostStatus = "assigned"
	HostBusy      HostStatus = "busy"
	HostDegraded  HostStatus = "degraded"
	HostOffline   HostStatus = "offline"
)

// ShardStatus is a Shard's lifecycle status.
type ShardStatus string

const (
	ShardCreating     ShardStatus = "creating"
	ShardAssigned     ShardStatus = "assigned"
	ShardReplicating  ShardStatus = "replicating"
	ShardReady        ShardStatus = "ready"
	ShardDegraded     ShardStatus = "degraded"
	ShardFailed       ShardStatus = "failed"
	ShardMigrating    ShardStatus = "migrating"
	ShardArchived     ShardStatus = "archived"
)

// RepairStatus is a Repair Operation's lifecycle status.
type RepairStatus string

const (
	RepairPending    RepairStatus = "pending"
	RepairInProgress RepairStatus = "in-progress"
	RepairCompleted  RepairStatus = "completed"
	RepairFailed     RepairStatus = "failed"
)

// Host is the Shard Host entity.
type Host struct {
	NodeID           string
	OverlayAddress   string
	Port             int
	Status           HostStatus
	Capacity         float64
	Used             float64
	Bandwidth        float64
	AssignedShardSet []string
	LastHealthCheck  time.Time
	PerformanceScore float64
}

// Shard is the Shard entity.
type Shard struct {
	ShardID           string
	SessionID         string
	ChunkIndex        int
	DataHash          string
	Size              float64
	Status            ShardStatus
	AssignedHosts     []string // ordered: primary first
	EncryptionKeyHash string
	CompressionRatio  float64
}

// RepairOperation tracks a single shard's data-recovery onto a new
// host after an integrity mismatch.
type RepairOperation struct {
	OpID      string
	ShardID   string
	BadHostID string
	Status    RepairStatus
	CreatedAt time.Time
}

// MaintenanceWindow is a scheduled host maintenance period.
type MaintenanceWindow struct {
	WindowID       string
	HostID         string
	Start          time.Time
	End            time.Time
	AffectedShards []string
	BackupHosts    []string
}

// Chunk is one input to PlaceShards.
type Chunk struct {
	DataHash          string
	Size              float64
	EncryptionKeyHash string
}

// Engine is the Shard Placer + Shard Manager component.
type Engine struct {
	st      store.Adapter
	overlay overlay.Client
	ipfs    *shell.Shell

	replicationFactor int
	maxPerHost        int
	rebalanceMax      int
}

// New constructs a Shard Placer/Manager. ipfsAPIURL may be empty to
// disable the IPFS secondary-verification path.
func New(st store.Adapter, ovl overlay.Client, ipfsAPIURL string, replicationFactor, maxPerHost, rebalanceMax int) *Engine {
	var sh *shell.Shell
	if ipfsAPIURL != "" {
		sh = shell.NewShell(ipfsAPIURL)
		sh.SetTimeout(30 * time.Second)
	}
	return &Engine{st: st, overlay: ovl, ipfs: sh, replicationFactor: replicationFactor, maxPerHost: maxPerHost, rebalanceMax: rebalanceMax}
}

// --- Placement (spec.md §4.9) ---

// PlaceShards places one shard per chunk for a session, each on
// replicationFactor distinct hosts.
func (e *Engine) PlaceShards(ctx context.Context, sessionID string, chunks []Chunk) ([]Shard, error) {
	var out []Shard
	for i, c := range chunks {
		s, err := e.PlaceShard(ctx, sessionID, i, c)
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

// PlaceShard places a single chunk: candidates sorted by
// (performance-score desc, storage-available desc), primary = first
// candidate, replicas chosen for overlay-address-prefix diversity
// (relaxed once selected ≥ |candidates|/2), filled from the remainder
// if still short of replicationFactor.
func (e *Engine) PlaceShard(ctx context.Context, sessionID string, chunkIndex int, c Chunk) (Shard, error) {
	candidates, err := e.availableCandidates(ctx)
	if err != nil {
		return Shard{}, err
	}
	if len(candidates) == 0 {
		return Shard{}, coreerr.Precondition("no available shard hosts")
	}

	selected := selectDiverseHosts(candidates, e.replicationFactor)
	if len(selected) == 0 {
		return Shard{}, coreerr.Precondition("no candidates could be selected for shard placement")
	}

	s := Shard{
		ShardID:           uuid.NewString(),
		SessionID:         sessionID,
		ChunkIndex:        chunkIndex,
		DataHash:          c.DataHash,
		Size:              c.Size,
		Status:            ShardCreating,
		EncryptionKeyHash: c.EncryptionKeyHash,
	}
	for _, h := range selected {
		s.AssignedHosts = append(s.AssignedHosts, h.NodeID)
	}

	for _, h := range selected {
		h.AssignedShardSet = append(h.AssignedShardSet, s.ShardID)
		h.Used += c.Size
		h.Status = HostAssigned
		if err := e.saveHost(ctx, h); err != nil {
			return Shard{}, err
		}
	}

	s.Status = ShardAssigned
	if err := e.saveShard(ctx, s); err != nil {
		return Shard{}, err
	}
	// Replication is simulated by the placer as a state machine; actual
	// byte transfer is the transport's job (spec.md §4.9).
	s.Status = ShardReplicating
	if err := e.saveShard(ctx, s); err != nil {
		return Shard{}, err
	}
	s.Status = ShardReady
	if err := e.saveShard(ctx, s); err != nil {
		return Shard{}, err
	}
	return s, nil
}

func (e *Engine) availableCandidates(ctx context.Context) ([]Host, error) {
	it, err := e.st.Find(ctx, hostsCollection, store.Eq("status", string(HostAvailable)), nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan available hosts")
	}
	defer it.Close()

	var out []Host
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate hosts")
		}
		if !ok {
			break
		}
		h := hostFromDoc(doc)
		if len(h.AssignedShardSet) < e.maxPerHost {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PerformanceScore != out[j].PerformanceScore {
			return out[i].PerformanceScore > out[j].PerformanceScore
		}
		return (out[i].Capacity - out[i].Used) > (out[j].Capacity - out[j].Used)
	})
	return out, nil
}

func selectDiverseHosts(candidates []Host, replicationFactor int) []Host {
	if len(candidates) == 0 {
		return nil
	}
	selected := []Host{candidates[0]}
	prefixes := map[string]bool{addressPrefix(candidates[0]): true}

	relaxed := func() bool { return len(selected) >= len(candidates)/2 }

	for _, h := range candidates[1:] {
		if len(selected) >= replicationFactor {
			break
		}
		prefix := addressPrefix(h)
		if relaxed() || !prefixes[prefix] {
			selected = append(selected, h)
			prefixes[prefix] = true
		}
	}

	if len(selected) < replicationFactor {
		used := make(map[string]bool, len(selected))
		for _, h := range selected {
			used[h.NodeID] = true
		}
		for _, h := range candidates {
			if len(selected) >= replicationFactor {
				break
			}
			if !used[h.NodeID] {
				selected = append(selected, h)
				used[h.NodeID] = true
			}
		}
	}
	return selected
}

func addressPrefix(h Host) string {
	if len(h.OverlayAddress) < 8 {
		return h.OverlayAddress
	}
	return h.OverlayAddress[:8]
}

// --- Health check loop (spec.md §4.10) ---

// RunHealthCheckLoop polls every known host's overlay health metrics
// on every tick, marking hosts degraded or offline as thresholds are
// crossed, until ctx is cancelled.
func (e *Engine) RunHealthCheckLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.healthCheckOnce(ctx)
		}
	}
}

func (e *Engine) healthCheckOnce(ctx context.Context) {
	hosts, err := e.allHosts(ctx)
	if err != nil {
		log.Printf("shard: scan hosts for health check: %v", err)
		return
	}
	for _, h := range hosts {
		metrics, err := e.overlay.HealthMetrics(ctx, h.OverlayAddress, h.Port)
		if err != nil {
			h.Status = HostOffline
			if saveErr := e.saveHost(ctx, h); saveErr != nil {
				log.Printf("shard: mark host %s offline: %v", h.NodeID, saveErr)
			}
			continue
		}

		degraded := metrics.ResponseTimeMS > 5000 || metrics.UptimePercent < 95 ||
			metrics.ErrorRate > 5 || metrics.CPUPercent > 90 || metrics.MemoryPercent > 90
		if degraded {
			h.Status = HostDegraded
		} else if h.Status == HostDegraded || h.Status == HostOffline {
			h.Status = HostAvailable
		}
		h.LastHealthCheck = time.Now().UTC()
		if err := e.saveHost(ctx, h); err != nil {
			log.Printf("shard: save host %s health: %v", h.NodeID, err)
			continue
		}
		if err := e.st.Upsert(ctx, metricsCollection, uuid.NewString(), store.Doc{
			"host_id":         h.NodeID,
			"timestamp":       h.LastHealthCheck.Format(time.RFC3339Nano),
			"response_time_ms": metrics.ResponseTimeMS,
			"uptime_percent":  metrics.UptimePercent,
			"throughput":      metrics.Throughput,
			"error_rate":      metrics.ErrorRate,
			"cpu_percent":     metrics.CPUPercent,
			"memory_percent":  metrics.MemoryPercent,
			"latency_ms":      metrics.LatencyMS,
		}); err != nil {
			log.Printf("shard: record performance metric for %s: %v", h.NodeID, err)
		}
	}
}

// --- Integrity check + repair loop (spec.md §4.10) ---

// RunIntegrityCheckLoop samples up to maxIntegritySamplePerPass shards
// on every tick, compares each replica host's recorded hash, and
// initiates a repair on mismatch.
func (e *Engine) RunIntegrityCheckLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.integrityCheckOnce(ctx)
		}
	}
}

func (e *Engine) integrityCheckOnce(ctx context.Context) {
	shards, err := e.sampleShards(ctx, maxIntegritySamplePerPass)
	if err != nil {
		log.Printf("shard: sample shards for integrity check: %v", err)
		return
	}
	for _, s := range shards {
		for _, hostID := range s.AssignedHosts {
			match, err := e.verifyHostHash(ctx, hostID, s)
			if err != nil {
				log.Printf("shard: verify %s on %s: %v", s.ShardID, hostID, err)
				continue
			}
			if err := e.recordIntegrityCheck(ctx, s.ShardID, hostID, match); err != nil {
				log.Printf("shard: record integrity check: %v", err)
			}
			if !match {
				if err := e.initiateRepair(ctx, s.ShardID, hostID); err != nil {
					log.Printf("shard: initiate repair for %s/%s: %v", s.ShardID, hostID, err)
				}
			}
		}
	}
}

func (e *Engine) verifyHostHash(ctx context.Context, hostID string, s Shard) (bool, error) {
	host, ok, err := e.getHost(ctx, hostID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, coreerr.Validation("unknown host %s", hostID)
	}
	hash, err := e.overlay.StorageVerify(ctx, host.OverlayAddress, host.Port, s.ShardID)
	if err == nil {
		return hash == s.DataHash, nil
	}
	if e.ipfs == nil {
		return false, coreerr.Transient(err, "overlay storage verify unreachable and no IPFS fallback configured")
	}
	// Secondary verification path: s.DataHash is a content-addressed
	// CID, so a successful Cat already proves the fetched block hashes
	// to it; this only confirms the data is still retrievable on the
	// network, not that hostID itself is the one serving it, so an
	// overlay outage with a healthy IPFS swarm is not treated as a
	// mismatch worth repairing.
	reader, ipfsErr := e.ipfs.Cat(s.DataHash)
	if ipfsErr != nil {
		return false, coreerr.Transient(ipfsErr, "overlay and ipfs fallback both unreachable for %s", s.ShardID)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return false, coreerr.Transient(err, "ipfs fallback read failed for %s", s.ShardID)
	}
	return true, nil
}

func (e *Engine) recordIntegrityCheck(ctx context.Context, shardID, hostID string, match bool) error {
	return e.st.Upsert(ctx, integrityCollection, uuid.NewString(), store.Doc{
		"shard_id":  shardID,
		"host_id":   hostID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"match":     match,
	})
}

func (e *Engine) sampleShards(ctx context.Context, limit int) ([]Shard, error) {
	it, err := e.st.Find(ctx, shardsCollection, store.Eq("status", string(ShardReady)), nil, limit)
	if err != nil {
		return nil, coreerr.Transient(err, "sample shards")
	}
	defer it.Close()

	var out []Shard
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate shard sample")
		}
		if !ok {
			break
		}
		out = append(out, shardFromDoc(doc))
	}
	return out, nil
}

// initiateRepair finds a healthy replacement host excluding the
// shard's current assigned set, and transitions the repair operation
// pending -> in-progress -> completed | failed.
func (e *Engine) initiateRepair(ctx context.Context, shardID, badHostID string) error {
	op := RepairOperation{OpID: uuid.NewString(), ShardID: shardID, BadHostID: badHostID, Status: RepairPending, CreatedAt: time.Now().UTC()}
	if err := e.saveRepair(ctx, op); err != nil {
		return err
	}

	s, ok, err := e.getShard(ctx, shardID)
	if err != nil || !ok {
		op.Status = RepairFailed
		_ = e.saveRepair(ctx, op)
		if err != nil {
			return err
		}
		return coreerr.Validation("unknown shard %s", shardID)
	}

	op.Status = RepairInProgress
	if err := e.saveRepair(ctx, op); err != nil {
		return err
	}

	excluded := make(map[string]bool, len(s.AssignedHosts))
	for _, h := range s.AssignedHosts {
		excluded[h] = true
	}
	candidates, err := e.availableCandidates(ctx)
	if err != nil {
		op.Status = RepairFailed
		_ = e.saveRepair(ctx, op)
		return err
	}
	var replacement *Host
	for i := range candidates {
		if !excluded[candidates[i].NodeID] {
			replacement = &candidates[i]
			break
		}
	}
	if replacement == nil {
		op.Status = RepairFailed
		return e.saveRepair(ctx, op)
	}

	newHosts := make([]string, 0, len(s.AssignedHosts))
	for _, h := range s.AssignedHosts {
		if h != badHostID {
			newHosts = append(newHosts, h)
		}
	}
	newHosts = append(newHosts, replacement.NodeID)
	s.AssignedHosts = newHosts
	if err := e.saveShard(ctx, s); err != nil {
		op.Status = RepairFailed
		_ = e.saveRepair(ctx, op)
		return err
	}

	replacement.AssignedShardSet = append(replacement.AssignedShardSet, shardID)
	replacement.Used += s.Size
	if err := e.saveHost(ctx, *replacement); err != nil {
		op.Status = RepairFailed
		_ = e.saveRepair(ctx, op)
		return err
	}

	if badHost, ok, err := e.getHost(ctx, badHostID); err != nil {
		op.Status = RepairFailed
		_ = e.saveRepair(ctx, op)
		return err
	} else if ok {
		remaining := make([]string, 0, len(badHost.AssignedShardSet))
		for _, id := range badHost.AssignedShardSet {
			if id != shardID {
				remaining = append(remaining, id)
			}
		}
		badHost.AssignedShardSet = remaining
		badHost.Used -= s.Size
		if badHost.Used < 0 {
			badHost.Used = 0
		}
		if err := e.saveHost(ctx, badHost); err != nil {
			op.Status = RepairFailed
			_ = e.saveRepair(ctx, op)
			return err
		}
	}

	op.Status = RepairCompleted
	return e.saveRepair(ctx, op)
}

// --- Maintenance windows (spec.md §4.10) ---

// StartMaintenance transitions a host to busy and records the shards
// affected and the backup hosts standing in.
func (e *Engine) StartMaintenance(ctx context.Context, hostID string, end time.Time, backupHosts []string) (MaintenanceWindow, error) {
	h, ok, err := e.getHost(ctx, hostID)
	if err != nil {
		return MaintenanceWindow{}, err
	}
	if !ok {
		return MaintenanceWindow{}, coreerr.Validation("unknown host %s", hostID)
	}
	w := MaintenanceWindow{
		WindowID:       uuid.NewString(),
		HostID:         hostID,
		Start:          time.Now().UTC(),
		End:            end,
		AffectedShards: append([]string(nil), h.AssignedShardSet...),
		BackupHosts:    backupHosts,
	}
	h.Status = HostBusy
	if err := e.saveHost(ctx, h); err != nil {
		return MaintenanceWindow{}, err
	}
	if err := e.saveMaintenanceWindow(ctx, w); err != nil {
		return MaintenanceWindow{}, err
	}
	return w, nil
}

// EndMaintenance restores a host to available.
func (e *Engine) EndMaintenance(ctx context.Context, windowID string) error {
	doc, ok, err := e.st.FindOne(ctx, maintenanceCollection, store.Eq("window_id", windowID))
	if err != nil {
		return coreerr.Transient(err, "load maintenance window %s", windowID)
	}
	if !ok {
		return coreerr.Validation("unknown maintenance window %s", windowID)
	}
	hostID := strOf(doc["host_id"])
	h, ok, err := e.getHost(ctx, hostID)
	if err != nil {
		return err
	}
	if !ok {
		return coreerr.Validation("unknown host %s", hostID)
	}
	h.Status = HostAvailable
	return e.saveHost(ctx, h)
}

// --- Rebalancing (spec.md §4.10) ---

// RunRebalanceLoop migrates shards from overloaded hosts (>1.5x avg)
// to underloaded hosts (<0.5x avg), excluding primaries, on every tick.
func (e *Engine) RunRebalanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.rebalanceOnce(ctx)
		}
	}
}

func (e *Engine) rebalanceOnce(ctx context.Context) {
	hosts, err := e.allHosts(ctx)
	if err != nil {
		log.Printf("shard: scan hosts for rebalance: %v", err)
		return
	}
	if len(hosts) == 0 {
		return
	}
	var total float64
	for _, h := range hosts {
		total += float64(len(h.AssignedShardSet))
	}
	avg := total / float64(len(hosts))

	var overloaded, underloaded []Host
	for _, h := range hosts {
		n := float64(len(h.AssignedShardSet))
		switch {
		case n > 1.5*avg:
			overloaded = append(overloaded, h)
		case n < 0.5*avg:
			underloaded = append(underloaded, h)
		}
	}
	if len(overloaded) == 0 || len(underloaded) == 0 {
		return
	}

	migrated := 0
	for _, from := range overloaded {
		for _, shardID := range from.AssignedShardSet {
			if migrated >= e.rebalanceMax {
				return
			}
			s, ok, err := e.getShard(ctx, shardID)
			if err != nil || !ok {
				continue
			}
			if len(s.AssignedHosts) > 0 && s.AssignedHosts[0] == from.NodeID {
				continue // never migrate a primary
			}
			to := underloaded[0]
			if err := e.migrateShard(ctx, &s, from.NodeID, to.NodeID); err != nil {
				log.Printf("shard: migrate %s: %v", shardID, err)
				continue
			}
			migrated++
		}
	}
}

func (e *Engine) migrateShard(ctx context.Context, s *Shard, fromHostID, toHostID string) error {
	newHosts := make([]string, 0, len(s.AssignedHosts))
	for _, h := range s.AssignedHosts {
		if h == fromHostID {
			newHosts = append(newHosts, toHostID)
		} else {
			newHosts = append(newHosts, h)
		}
	}
	s.AssignedHosts = newHosts
	s.Status = ShardMigrating
	if err := e.saveShard(ctx, *s); err != nil {
		return err
	}
	s.Status = ShardReady
	return e.saveShard(ctx, *s)
}

// --- Optimization / purge (spec.md §4.10) ---

// RunOptimizationLoop purges stale performance metrics, integrity
// checks, and completed repair operations on every tick.
func (e *Engine) RunOptimizationLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.optimizeOnce(ctx)
		}
	}
}

func (e *Engine) optimizeOnce(ctx context.Context) {
	now := time.Now()
	if _, err := e.st.DeleteMany(ctx, metricsCollection, store.Filter{
		{Field: "timestamp", Op: store.OpLt, Value: now.Add(-7 * 24 * time.Hour).Format(time.RFC3339Nano)},
	}); err != nil {
		log.Printf("shard: purge performance metrics: %v", err)
	}
	if _, err := e.st.DeleteMany(ctx, integrityCollection, store.Filter{
		{Field: "timestamp", Op: store.OpLt, Value: now.Add(-30 * 24 * time.Hour).Format(time.RFC3339Nano)},
	}); err != nil {
		log.Printf("shard: purge integrity checks: %v", err)
	}
	if _, err := e.st.DeleteMany(ctx, repairCollection, store.Filter{
		{Field: "status", Op: store.OpEq, Value: string(RepairCompleted)},
		{Field: "created_at", Op: store.OpLt, Value: now.Add(-7 * 24 * time.Hour).Format(time.RFC3339Nano)},
	}); err != nil {
		log.Printf("shard: purge completed repair ops: %v", err)
	}
}

// --- shared store helpers ---

func (e *Engine) allHosts(ctx context.Context) ([]Host, error) {
	it, err := e.st.Find(ctx, hostsCollection, nil, nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan hosts")
	}
	defer it.Close()

	var out []Host
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate hosts")
		}
		if !ok {
			break
		}
		out = append(out, hostFromDoc(doc))
	}
	return out, nil
}

func (e *Engine) getHost(ctx context.Context, nodeID string) (Host, bool, error) {
	doc, ok, err := e.st.FindOne(ctx, hostsCollection, store.Eq("node_id", nodeID))
	if err != nil {
		return Host{}, false, coreerr.Transient(err, "load host %s", nodeID)
	}
	if !ok {
		return Host{}, false, nil
	}
	return hostFromDoc(doc), true, nil
}

// SaveHost upserts a host record; callers seed the candidate pool
// through this before placement runs.
func (e *Engine) SaveHost(ctx context.Context, h Host) error {
	return e.saveHost(ctx, h)
}

func (e *Engine) saveHost(ctx context.Context, h Host) error {
	return e.st.Upsert(ctx, hostsCollection, h.NodeID, docFromHost(h))
}

func (e *Engine) getShard(ctx context.Context, shardID string) (Shard, bool, error) {
	doc, ok, err := e.st.FindOne(ctx, shardsCollection, store.Eq("shard_id", shardID))
	if err != nil {
		return Shard{}, false, coreerr.Transient(err, "load shard %s", shardID)
	}
	if !ok {
		return Shard{}, false, nil
	}
	return shardFromDoc(doc), true, nil
}

func (e *Engine) saveShard(ctx context.Context, s Shard) error {
	return e.st.Upsert(ctx, shardsCollection, s.ShardID, docFromShard(s))
}

func (e *Engine) saveRepair(ctx context.Context, op RepairOperation) error {
	return e.st.Upsert(ctx, repairCollection, op.OpID, store.Doc{
		"op_id":       op.OpID,
		"shard_id":    op.ShardID,
		"bad_host_id": op.BadHostID,
		"status":      string(op.Status),
		"created_at":  op.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (e *Engine) saveMaintenanceWindow(ctx context.Context, w MaintenanceWindow) error {
	return e.st.Upsert(ctx, maintenanceCollection, w.WindowID, store.Doc{
		"window_id":       w.WindowID,
		"host_id":         w.HostID,
		"start":           w.Start.Format(time.RFC3339Nano),
		"end":             w.End.Format(time.RFC3339Nano),
		"affected_shards": toInterfaceSlice(w.AffectedShards),
		"backup_hosts":    toInterfaceSlice(w.BackupHosts),
	})
}

func docFromHost(h Host) store.Doc {
	return store.Doc{
		"node_id":            h.NodeID,
		"overlay_address":    h.OverlayAddress,
		"port":               h.Port,
		"status":             string(h.Status),
		"capacity":           h.Capacity,
		"used":               h.Used,
		"bandwidth":          h.Bandwidth,
		"assigned_shard_set": toInterfaceSlice(h.AssignedShardSet),
		"last_health_check":  formatOptTime(h.LastHealthCheck),
		"performance_score":  h.PerformanceScore,
	}
}

func hostFromDoc(d store.Doc) Host {
	h := Host{
		NodeID:           strOf(d["node_id"]),
		OverlayAddress:   strOf(d["overlay_address"]),
		Port:             int(floatOf(d["port"])),
		Status:           HostStatus(strOf(d["status"])),
		Capacity:         floatOf(d["capacity"]),
		Used:             floatOf(d["used"]),
		Bandwidth:        floatOf(d["bandwidth"]),
		LastHealthCheck:  parseOptTime(d["last_health_check"]),
		PerformanceScore: floatOf(d["performance_score"]),
	}
	h.AssignedShardSet = strSliceOf(d["assigned_shard_set"])
	return h
}

func docFromShard(s Shard) store.Doc {
	return store.Doc{
		"shard_id":            s.ShardID,
		"session_id":          s.SessionID,
		"chunk_index":         s.ChunkIndex,
		"data_hash":           s.DataHash,
		"size":                s.Size,
		"status":              string(s.Status),
		"assigned_hosts":      toInterfaceSlice(s.AssignedHosts),
		"encryption_key_hash": s.EncryptionKeyHash,
		"compression_ratio":   s.CompressionRatio,
	}
}

func shardFromDoc(d store.Doc) Shard {
	return Shard{
		ShardID:           strOf(d["shard_id"]),
		SessionID:         strOf(d["session_id"]),
		ChunkIndex:        int(floatOf(d["chunk_index"])),
		DataHash:          strOf(d["data_hash"]),
		Size:              floatOf(d["size"]),
		Status:            ShardStatus(strOf(d["status"])),
		AssignedHosts:     strSliceOf(d["assigned_hosts"]),
		EncryptionKeyHash: strOf(d["encryption_key_hash"]),
		CompressionRatio:  floatOf(d["compression_ratio"]),
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func strSliceOf(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func strOf(v interface{}) string { s, _ := v.(string); return s }
func floatOf(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
func formatOptTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
func parseOptTime(v interface{}) time.Time {
	s, _ := v.(string)
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
