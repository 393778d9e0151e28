package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
)

func newTestEngine() *Engine {
	return New(store.NewMemory(), nil, 1.0, 10*time.Minute)
}

func testConfig() Config {
	return Config{RewardMethod: RewardEqual, MinSize: 2, MaxSize: 10}
}

func addActiveMember(t *testing.T, e *Engine, ctx context.Context, p Pool, nodeID string, role MemberRole, contribution float64) Pool {
	p.Members[nodeID] = Member{NodeID: nodeID, Role: role, Status: MemberActive, JoinedAt: time.Now(), ContributionScore: contribution, LastSync: time.Now()}
	require.NoError(t, e.savePool(ctx, p))
	got, _ := e.getPool(ctx, p.PoolID)
	return got
}

// TestLeaderFailover implements S5 from spec.md §8.
func TestLeaderFailover(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p, err := e.CreatePool(ctx, "pool1", "d", "L", testConfig())
	require.NoError(t, err)
	p = addActiveMember(t, e, ctx, p, "C", RoleCoLeader, 50)
	p = addActiveMember(t, e, ctx, p, "M", RoleMember, 70)

	require.NoError(t, e.LeavePool(ctx, p.PoolID, "L"))
	p, err = e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, RoleLeader, p.Members["C"].Role)

	require.NoError(t, e.LeavePool(ctx, p.PoolID, "C"))
	p, err = e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, RoleLeader, p.Members["M"].Role)

	require.NoError(t, e.LeavePool(ctx, p.PoolID, "M"))
	p, err = e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, StatusDisbanded, p.Status)
}

// TestExactlyOneLeaderWhileActive implements invariant 6 (leader
// uniqueness / member-count bounds while a pool is active).
func TestExactlyOneLeaderWhileActive(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p, err := e.CreatePool(ctx, "pool2", "d", "L", testConfig())
	require.NoError(t, err)

	jr, err := e.RequestJoinPool(ctx, p.PoolID, "m2")
	require.NoError(t, err)
	require.NoError(t, e.ApproveJoinRequest(ctx, jr.RequestID, "L"))

	p, err = e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, p.Status)

	leaders := 0
	for _, m := range p.Members {
		if m.Role == RoleLeader {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)
	assert.GreaterOrEqual(t, len(p.Members), p.Config.MinSize)
}

func TestApproveJoinRequiresLeaderOrCoLeader(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p, err := e.CreatePool(ctx, "pool3", "d", "L", testConfig())
	require.NoError(t, err)
	p = addActiveMember(t, e, ctx, p, "member1", RoleMember, 10)

	jr, err := e.RequestJoinPool(ctx, p.PoolID, "newcomer")
	require.NoError(t, err)

	err = e.ApproveJoinRequest(ctx, jr.RequestID, "member1")
	assert.Error(t, err)
}

func TestDistributeRewardsContributionWeighted(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	cfg := testConfig()
	cfg.RewardMethod = RewardContributionWeighted
	p, err := e.CreatePool(ctx, "pool4", "d", "L", cfg)
	require.NoError(t, err)
	p = addActiveMember(t, e, ctx, p, "m2", RoleMember, 30)

	p.Members["L"] = Member{NodeID: "L", Role: RoleLeader, Status: MemberActive, ContributionScore: 70, JoinedAt: time.Now(), LastSync: time.Now()}
	p.Status = StatusActive
	p.RewardsPending = 100
	require.NoError(t, e.savePool(ctx, p))

	require.NoError(t, e.DistributeRewards(ctx, p.PoolID))

	got, err := e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 70.0, got.Members["L"].RewardsEarned, 0.001)
	assert.InDelta(t, 30.0, got.Members["m2"].RewardsEarned, 0.001)
	assert.Equal(t, 0.0, got.RewardsPending)
}

func TestDistributeRewardsFallsBackToEqualOnZeroDenominator(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	cfg := testConfig()
	cfg.RewardMethod = RewardWorkCreditWeighted
	p, err := e.CreatePool(ctx, "pool5", "d", "L", cfg)
	require.NoError(t, err)
	p = addActiveMember(t, e, ctx, p, "m2", RoleMember, 0)
	p.Status = StatusActive
	p.RewardsPending = 50
	require.NoError(t, e.savePool(ctx, p))

	require.NoError(t, e.DistributeRewards(ctx, p.PoolID))

	got, err := e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, got.Members["L"].RewardsEarned, 0.001)
	assert.InDelta(t, 25.0, got.Members["m2"].RewardsEarned, 0.001)
}

func TestRefreshMemberHealthDegradesPool(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	p, err := e.CreatePool(ctx, "pool6", "d", "L", testConfig())
	require.NoError(t, err)
	stale := Member{NodeID: "m2", Role: RoleMember, Status: MemberActive, LastSync: time.Now().Add(-time.Hour)}
	p.Members["m2"] = stale
	require.NoError(t, e.savePool(ctx, p))
	p.Status = StatusActive
	require.NoError(t, e.savePool(ctx, p))

	require.NoError(t, e.RefreshMemberHealth(ctx, p.PoolID))

	got, err := e.getPool(ctx, p.PoolID)
	require.NoError(t, err)
	assert.Equal(t, StatusDegraded, got.Status)
}
