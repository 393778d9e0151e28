// Package pool implements the Pool Coordinator: pool lifecycle,
// join/leave with leader failover, reward distribution, and the
// contribution-score/health/degraded background loops (spec.md §4.7).
package pool

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/HamiGames/Lucid-sub000/internal/coreerr"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

const (
	poolsCollection        = "node_pools"
	joinRequestsCollection = "pool_join_requests"
	syncOpsCollection      = "pool_sync_operations"
)

// Status is a pool's lifecycle status.
type Status string

const (
	StatusForming     Status = "forming"
	StatusActive      Status = "active"
	StatusDegraded    Status = "degraded"
	StatusMaintenance Status = "maintenance"
	StatusDisbanded   Status = "disbanded"
)

// MemberRole is a pool member's role.
type MemberRole string

const (
	RoleLeader   MemberRole = "leader"
	RoleCoLeader MemberRole = "co-leader"
	RoleMember   MemberRole = "member"
	RoleObserver MemberRole = "observer"
)

// MemberStatus is a pool member's liveness status.
type MemberStatus string

const (
	MemberJoining  MemberStatus = "joining"
	MemberActive   MemberStatus = "active"
	MemberSyncing  MemberStatus = "syncing"
	MemberDegraded MemberStatus = "degraded"
	MemberLeaving  MemberStatus = "leaving"
	MemberBanned   MemberStatus = "banned"
)

// RewardMethod determines how DistributeRewards splits a payout.
type RewardMethod string

const (
	RewardEqual               RewardMethod = "equal"
	RewardContributionWeighted RewardMethod = "contribution-weighted"
	RewardWorkCreditWeighted  RewardMethod = "work-credit-weighted"
)

// Member is one entry of a Pool's member map.
type Member struct {
	NodeID            string
	Role              MemberRole
	Status            MemberStatus
	JoinedAt          time.Time
	ContributionScore float64
	CreditsContributed float64
	RewardsEarned     float64
	LastSync          time.Time
}

// Config is a Pool's embedded configuration; the stored pool document
// flattens it to top-level config_-prefixed fields (SPEC_FULL.md §9).
type Config struct {
	RewardMethod        RewardMethod
	MinUptime           float64
	AutoKickThreshold   float64
	LeaderRotation      bool
	RotationInterval    time.Duration
	SyncTolerance       time.Duration
	UnanimousRequired   bool
	MinSize             int
	MaxSize             int
}

// Pool is the Pool entity.
type Pool struct {
	PoolID             string
	Name               string
	Description        string
	Status             Status
	CreatorNodeID      string
	Config             Config
	Members            map[string]Member
	TotalWorkCredits    float64
	RewardsDistributed float64
	RewardsPending     float64
	LastDistribution   time.Time
}

// JoinRequest is a pending Pool.RequestJoinPool entry.
type JoinRequest struct {
	RequestID string
	PoolID    string
	NodeID    string
	Status    string // pending, approved, rejected
	CreatedAt time.Time
}

// CreditsSource supplies a node's recent work credits for
// work-credit-weighted distribution and contribution-score decay.
type CreditsSource interface {
	RecentCredits(ctx context.Context, nodeID string) (float64, error)
}

// Engine is the Pool Coordinator component.
type Engine struct {
	st      store.Adapter
	credits CreditsSource

	minRewardThreshold float64
	unhealthySync      time.Duration
}

// New constructs a Pool Coordinator.
func New(st store.Adapter, credits CreditsSource, minRewardThreshold float64, unhealthySync time.Duration) *Engine {
	return &Engine{st: st, credits: credits, minRewardThreshold: minRewardThreshold, unhealthySync: unhealthySync}
}

// CreatePool enters a new pool in forming status with its creator as
// leader.
func (e *Engine) CreatePool(ctx context.Context, name, description, creatorNodeID string, cfg Config) (Pool, error) {
	if creatorNodeID == "" {
		return Pool{}, coreerr.Validation("pool creator node-id is required")
	}
	now := time.Now().UTC()
	p := Pool{
		PoolID:        uuid.NewString(),
		Name:          name,
		Description:   description,
		Status:        StatusForming,
		CreatorNodeID: creatorNodeID,
		Config:        cfg,
		Members: map[string]Member{
			creatorNodeID: {NodeID: creatorNodeID, Role: RoleLeader, Status: MemberActive, JoinedAt: now, LastSync: now},
		},
	}
	if err := e.savePool(ctx, p); err != nil {
		return Pool{}, err
	}
	return p, nil
}

// RequestJoinPool files a pending join request.
func (e *Engine) RequestJoinPool(ctx context.Context, poolID, nodeID string) (JoinRequest, error) {
	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return JoinRequest{}, err
	}
	if p.Status == StatusDisbanded {
		return JoinRequest{}, coreerr.Precondition("pool %s is disbanded", poolID)
	}
	if _, already := p.Members[nodeID]; already {
		return JoinRequest{}, coreerr.Precondition("node %s is already a member of %s", nodeID, poolID)
	}

	jr := JoinRequest{
		RequestID: uuid.NewString(),
		PoolID:    poolID,
		NodeID:    nodeID,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}
	if err := e.st.Upsert(ctx, joinRequestsCollection, jr.RequestID, store.Doc{
		"request_id": jr.RequestID,
		"pool_id":    jr.PoolID,
		"node_id":    jr.NodeID,
		"status":     jr.Status,
		"created_at": jr.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return JoinRequest{}, coreerr.Transient(err, "save join request")
	}
	return jr, nil
}

// ApproveJoinRequest admits a pending joiner. Only a leader or
// co-leader of the pool may approve.
func (e *Engine) ApproveJoinRequest(ctx context.Context, requestID, approverNodeID string) error {
	doc, ok, err := e.st.FindOne(ctx, joinRequestsCollection, store.Eq("request_id", requestID))
	if err != nil {
		return coreerr.Transient(err, "load join request %s", requestID)
	}
	if !ok {
		return coreerr.Validation("unknown join request %s", requestID)
	}
	poolID := strOf(doc["pool_id"])
	nodeID := strOf(doc["node_id"])
	if strOf(doc["status"]) != "pending" {
		return coreerr.Precondition("join request %s is not pending", requestID)
	}

	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	approver, isMember := p.Members[approverNodeID]
	if !isMember || (approver.Role != RoleLeader && approver.Role != RoleCoLeader) {
		return coreerr.Precondition("approver %s is not a leader or co-leader of %s", approverNodeID, poolID)
	}

	now := time.Now().UTC()
	p.Members[nodeID] = Member{NodeID: nodeID, Role: RoleMember, Status: MemberActive, JoinedAt: now, LastSync: now}

	if p.Status == StatusForming && len(activeMembers(p)) >= p.Config.MinSize {
		p.Status = StatusActive
	}
	if err := e.savePool(ctx, p); err != nil {
		return err
	}

	doc["status"] = "approved"
	return e.st.Upsert(ctx, joinRequestsCollection, requestID, doc)
}

// LeavePool removes a member, electing a new leader or disbanding the
// pool as required.
func (e *Engine) LeavePool(ctx context.Context, poolID, nodeID string) error {
	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	m, ok := p.Members[nodeID]
	if !ok {
		return coreerr.Validation("node %s is not a member of %s", nodeID, poolID)
	}
	delete(p.Members, nodeID)

	if m.Role == RoleLeader {
		successor := electSuccessor(p, nodeID)
		if successor == "" {
			p.Status = StatusDisbanded
		} else {
			sm := p.Members[successor]
			sm.Role = RoleLeader
			p.Members[successor] = sm
		}
	}

	if p.Status != StatusDisbanded && len(activeMembers(p)) < p.Config.MinSize {
		p.Status = StatusDisbanded
	}
	return e.savePool(ctx, p)
}

// electSuccessor prefers any co-leader, then the active member with
// the highest contribution-score, excluding the departing node.
func electSuccessor(p Pool, departing string) string {
	for id, m := range p.Members {
		if id != departing && m.Role == RoleCoLeader {
			return id
		}
	}
	best := ""
	bestScore := -1.0
	for id, m := range p.Members {
		if id == departing || m.Status != MemberActive {
			continue
		}
		if m.ContributionScore > bestScore {
			bestScore = m.ContributionScore
			best = id
		}
	}
	return best
}

func activeMembers(p Pool) []string {
	var out []string
	for id, m := range p.Members {
		if m.Status == MemberActive || m.Status == MemberSyncing {
			out = append(out, id)
		}
	}
	return out
}

// SyncWorkCredits applies a per-node credits-contributed snapshot and
// refreshes last-sync for each named member.
func (e *Engine) SyncWorkCredits(ctx context.Context, poolID string, nodeCredits map[string]float64) error {
	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var total float64
	for id, credits := range nodeCredits {
		m, ok := p.Members[id]
		if !ok {
			continue
		}
		m.CreditsContributed = credits
		m.LastSync = now
		if m.Status != MemberBanned && m.Status != MemberLeaving {
			m.Status = MemberActive
		}
		p.Members[id] = m
	}
	for _, m := range p.Members {
		total += m.CreditsContributed
	}
	p.TotalWorkCredits = total
	return e.savePool(ctx, p)
}

// DistributeRewards splits pending rewards across active members per
// the pool's reward-method, falling back to equal split when the
// chosen method's denominator is zero, and emits a reward-distribution
// sync operation.
func (e *Engine) DistributeRewards(ctx context.Context, poolID string) error {
	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	if p.Status != StatusActive {
		return coreerr.Precondition("pool %s is not active (status=%s)", poolID, p.Status)
	}
	if p.RewardsPending < e.minRewardThreshold {
		return coreerr.Precondition("pool %s rewards-pending below threshold", poolID)
	}

	active := activeMembers(p)
	if len(active) == 0 {
		return coreerr.Precondition("pool %s has no active members to distribute to", poolID)
	}

	amount := p.RewardsPending
	shares := e.computeShares(p, active, amount)

	for id, share := range shares {
		m := p.Members[id]
		m.RewardsEarned += share
		p.Members[id] = m
	}
	p.RewardsDistributed += amount
	p.RewardsPending = 0
	p.LastDistribution = time.Now().UTC()

	if err := e.savePool(ctx, p); err != nil {
		return err
	}
	return e.emitRewardSyncOp(ctx, poolID, amount)
}

func (e *Engine) computeShares(p Pool, active []string, amount float64) map[string]float64 {
	shares := make(map[string]float64, len(active))
	equalShare := func() {
		per := amount / float64(len(active))
		for _, id := range active {
			shares[id] = per
		}
	}

	switch p.Config.RewardMethod {
	case RewardContributionWeighted:
		var total float64
		for _, id := range active {
			total += p.Members[id].ContributionScore
		}
		if total <= 0 {
			equalShare()
			return shares
		}
		for _, id := range active {
			shares[id] = amount * (p.Members[id].ContributionScore / total)
		}
	case RewardWorkCreditWeighted:
		var total float64
		for _, id := range active {
			total += p.Members[id].CreditsContributed
		}
		if total <= 0 {
			equalShare()
			return shares
		}
		for _, id := range active {
			shares[id] = amount * (p.Members[id].CreditsContributed / total)
		}
	default:
		equalShare()
	}
	return shares
}

func (e *Engine) emitRewardSyncOp(ctx context.Context, poolID string, amount float64) error {
	opID := uuid.NewString()
	return e.st.Upsert(ctx, syncOpsCollection, opID, store.Doc{
		"op_id":   opID,
		"pool_id": poolID,
		"kind":    "reward-distribution",
		"amount":  amount,
		"status":  "pending",
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// DecayContributionScores applies the per-sync decay: ×0.99 when a
// member has been inactive since the last call, or +0.01×recent-credits
// otherwise, clamped to [0,100].
func (e *Engine) DecayContributionScores(ctx context.Context, poolID string) error {
	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	for id, m := range p.Members {
		if m.Status == MemberActive || m.Status == MemberSyncing {
			var recent float64
			if e.credits != nil {
				recent, _ = e.credits.RecentCredits(ctx, id)
			}
			m.ContributionScore += 0.01 * recent
		} else {
			m.ContributionScore *= 0.99
		}
		if m.ContributionScore > 100 {
			m.ContributionScore = 100
		}
		if m.ContributionScore < 0 {
			m.ContributionScore = 0
		}
		p.Members[id] = m
	}
	return e.savePool(ctx, p)
}

// RefreshMemberHealth marks members unhealthy (degraded) when their
// last-sync is stale or their contribution-score has fallen below 10,
// and transitions the pool to degraded when more than half its members
// are unhealthy.
func (e *Engine) RefreshMemberHealth(ctx context.Context, poolID string) error {
	p, err := e.getPool(ctx, poolID)
	if err != nil {
		return err
	}
	now := time.Now()
	unhealthy := 0
	total := 0
	for id, m := range p.Members {
		if m.Status == MemberBanned || m.Status == MemberLeaving {
			continue
		}
		total++
		isUnhealthy := now.Sub(m.LastSync) > e.unhealthySync || m.ContributionScore < 10
		if isUnhealthy {
			unhealthy++
			if m.Status == MemberActive {
				m.Status = MemberDegraded
				p.Members[id] = m
			}
		}
	}
	if p.Status == StatusActive && total > 0 && unhealthy*2 > total {
		p.Status = StatusDegraded
	}
	return e.savePool(ctx, p)
}

// RunMaintenanceLoop runs contribution-score decay and member-health
// refresh for every pool on every tick until ctx is cancelled.
func (e *Engine) RunMaintenanceLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.maintenanceOnce(ctx)
		}
	}
}

func (e *Engine) maintenanceOnce(ctx context.Context) {
	ids, err := e.allPoolIDs(ctx)
	if err != nil {
		log.Printf("pool: list pools: %v", err)
		return
	}
	for _, id := range ids {
		if err := e.DecayContributionScores(ctx, id); err != nil {
			log.Printf("pool: decay %s: %v", id, err)
		}
		if err := e.RefreshMemberHealth(ctx, id); err != nil {
			log.Printf("pool: health %s: %v", id, err)
		}
	}
}

// RunRewardSweepLoop runs DistributeRewards across every eligible pool
// on every tick until ctx is cancelled.
func (e *Engine) RunRewardSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.rewardSweepOnce(ctx)
		}
	}
}

func (e *Engine) rewardSweepOnce(ctx context.Context) {
	ids, err := e.allPoolIDs(ctx)
	if err != nil {
		log.Printf("pool: list pools for reward sweep: %v", err)
		return
	}
	for _, id := range ids {
		if err := e.DistributeRewards(ctx, id); err != nil && !coreerr.Is(err, coreerr.KindPrecondition) {
			log.Printf("pool: distribute rewards %s: %v", id, err)
		}
	}
}

func (e *Engine) allPoolIDs(ctx context.Context) ([]string, error) {
	it, err := e.st.Find(ctx, poolsCollection, nil, nil, 0)
	if err != nil {
		return nil, coreerr.Transient(err, "scan pools")
	}
	defer it.Close()

	var out []string
	for {
		doc, ok, err := it.Next(ctx)
		if err != nil {
			return nil, coreerr.Transient(err, "iterate pools")
		}
		if !ok {
			break
		}
		out = append(out, strOf(doc["pool_id"]))
	}
	return out, nil
}

func (e *Engine) getPool(ctx context.Context, poolID string) (Pool, error) {
	doc, ok, err := e.st.FindOne(ctx, poolsCollection, store.Eq("pool_id", poolID))
	if err != nil {
		return Pool{}, coreerr.Transient(err, "load pool %s", poolID)
	}
	if !ok {
		return Pool{}, coreerr.Validation("unknown pool %s", poolID)
	}
	return poolFromDoc(doc), nil
}

func (e *Engine) savePool(ctx context.Context, p Pool) error {
	return e.st.Upsert(ctx, poolsCollection, p.PoolID, docFromPool(p))
}

func docFromPool(p Pool) store.Doc {
	members := make(map[string]interface{}, len(p.Members))
	for id, m := range p.Members {
		members[id] = map[string]interface{}{
			"role":                string(m.Role),
			"status":              string(m.Status),
			"joined_at":           m.JoinedAt.Format(time.RFC3339Nano),
			"contribution_score":  m.ContributionScore,
			"credits_contributed": m.CreditsContributed,
			"rewards_earned":      m.RewardsEarned,
			"last_sync":           m.LastSync.Format(time.RFC3339Nano),
		}
	}
	return store.Doc{
		"pool_id":             p.PoolID,
		"name":                p.Name,
		"description":         p.Description,
		"status":              string(p.Status),
		"creator_node_id":     p.CreatorNodeID,
		"config_reward_method":       string(p.Config.RewardMethod),
		"config_min_uptime":          p.Config.MinUptime,
		"config_auto_kick_threshold": p.Config.AutoKickThreshold,
		"config_leader_rotation":     p.Config.LeaderRotation,
		"config_rotation_interval_s": p.Config.RotationInterval.Seconds(),
		"config_sync_tolerance_s":    p.Config.SyncTolerance.Seconds(),
		"config_unanimous_required":  p.Config.UnanimousRequired,
		"config_min_size":            p.Config.MinSize,
		"config_max_size":            p.Config.MaxSize,
		"members":             members,
		"total_work_credits":  p.TotalWorkCredits,
		"rewards_distributed": p.RewardsDistributed,
		"rewards_pending":     p.RewardsPending,
		"last_distribution":   formatOptTime(p.LastDistribution),
	}
}

func poolFromDoc(d store.Doc) Pool {
	p := Pool{
		PoolID:        strOf(d["pool_id"]),
		Name:          strOf(d["name"]),
		Description:   strOf(d["description"]),
		Status:        Status(strOf(d["status"])),
		CreatorNodeID: strOf(d["creator_node_id"]),
		Config: Config{
			RewardMethod:      RewardMethod(strOf(d["config_reward_method"])),
			MinUptime:         floatOf(d["config_min_uptime"]),
			AutoKickThreshold: floatOf(d["config_auto_kick_threshold"]),
			LeaderRotation:    boolOf(d["config_leader_rotation"]),
			RotationInterval:  time.Duration(floatOf(d["config_rotation_interval_s"])) * time.Second,
			SyncTolerance:     time.Duration(floatOf(d["config_sync_tolerance_s"])) * time.Second,
			UnanimousRequired: boolOf(d["config_unanimous_required"]),
			MinSize:           int(floatOf(d["config_min_size"])),
			MaxSize:           int(floatOf(d["config_max_size"])),
		},
		Members:            map[string]Member{},
		TotalWorkCredits:    floatOf(d["total_work_credits"]),
		RewardsDistributed: floatOf(d["rewards_distributed"]),
		RewardsPending:     floatOf(d["rewards_pending"]),
		LastDistribution:   parseOptTime(d["last_distribution"]),
	}
	if members, ok := d["members"].(map[string]interface{}); ok {
		for id, raw := range members {
			mm, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			p.Members[id] = Member{
				NodeID:             id,
				Role:               MemberRole(strOf(mm["role"])),
				Status:             MemberStatus(strOf(mm["status"])),
				JoinedAt:           parseOptTime(mm["joined_at"]),
				ContributionScore:  floatOf(mm["contribution_score"]),
				CreditsContributed: floatOf(mm["credits_contributed"]),
				RewardsEarned:      floatOf(mm["rewards_earned"]),
				LastSync:           parseOptTime(mm["last_sync"]),
			}
		}
	}
	return p
}

func strOf(v interface{}) string { s, _ := v.(string); return s }
func boolOf(v interface{}) bool  { b, _ := v.(bool); return b }
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
