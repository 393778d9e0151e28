package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
)

func newTestEngine() *Engine {
	return New(store.NewMemory(), "op1", 30*time.Second, 5*time.Minute, 100, 3, nil)
}

func registerOp(t *testing.T, e *Engine, ctx context.Context, id string, role Role, status SyncStatus) {
	require.NoError(t, e.RegisterOperator(ctx, Operator{OperatorID: id, NodeID: id, Role: role, SyncStatus: status}))
}

// TestCheckpointDeterminism implements invariant 10: two operators fed
// byte-identical state data produce byte-identical state-hash.
func TestCheckpointDeterminism(t *testing.T) {
	e1 := newTestEngine()
	e2 := newTestEngine()
	ctx := context.Background()

	state := map[string]interface{}{"b": 2, "a": 1, "c": "three"}

	cp1, err := e1.CreateCheckpoint(ctx, "op1", state)
	require.NoError(t, err)
	cp2, err := e2.CreateCheckpoint(ctx, "op2", state)
	require.NoError(t, err)

	assert.Equal(t, cp1.StateHash, cp2.StateHash)
	assert.NotEmpty(t, cp1.StateHash)
}

// TestLeaderElectionDeterminism implements invariant 11: given a fixed
// set of eligible operators, repeated elections pick the same
// operator-id.
func TestLeaderElectionDeterminism(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	registerOp(t, e, ctx, "zzz", RolePrimary, StatusInSync)
	registerOp(t, e, ctx, "aaa", RoleSecondary, StatusInSync)
	registerOp(t, e, ctx, "mmm", RoleSecondary, StatusSyncing)

	winner1, err := e.ElectLeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "aaa", winner1)

	winner2, err := e.ElectLeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, winner1, winner2)

	zzz, ok, err := e.getOperator(ctx, "zzz")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RoleSecondary, zzz.Role)

	aaa, ok, err := e.getOperator(ctx, "aaa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RolePrimary, aaa.Role)
}

func TestHeartbeatSweepMarksOffline(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	registerOp(t, e, ctx, "stale", RoleSecondary, StatusInSync)
	op, ok, err := e.getOperator(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)
	op.LastHeartbeat = time.Now().Add(-10 * time.Minute)
	require.NoError(t, e.saveOperator(ctx, op))

	e.heartbeatSweepOnce(ctx)

	got, ok, err := e.getOperator(ctx, "stale")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusOffline, got.SyncStatus)
}

func TestSubmitOperationHighPriorityExecutesImmediately(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	op, err := e.SubmitOperation(ctx, "op1", OpStateUpdate, "", map[string]interface{}{"k": "v"}, nil, 5)
	require.NoError(t, err)
	assert.Equal(t, OpCompleted, op.Status)
	assert.Equal(t, "v", e.state.Data["k"])
}

func TestStateUpdateRejectsReservedKey(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	_, err := e.SubmitOperation(ctx, "op1", OpStateUpdate, "", map[string]interface{}{"op_id": "x"}, nil, 5)
	assert.Error(t, err)
}

func TestReportConflictLeadershipTriggersElection(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	registerOp(t, e, ctx, "bbb", RolePrimary, StatusInSync)
	registerOp(t, e, ctx, "aaa", RoleSecondary, StatusInSync)

	c, err := e.ReportConflict(ctx, ConflictLeadership, []string{"aaa", "bbb"}, nil)
	require.NoError(t, err)
	assert.True(t, c.Resolved)

	aaa, ok, err := e.getOperator(ctx, "aaa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, RolePrimary, aaa.Role)
}
