package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
)

type fakePeers struct {
	ids []string
}

func (f *fakePeers) ActivePeerIDs(context.Context) ([]string, error) { return f.ids, nil }

func newTestEngine(peers []string) *Engine {
	return New(store.NewMemory(), &fakePeers{ids: peers}, nil, nil,
		time.Minute, time.Minute, 30*24*time.Hour, 0.33, 5)
}

func voteWindow(e *Engine, ctx context.Context, proposalID string) {
	// Force the proposal directly into its voting window for
	// deterministic tests rather than sleeping past discussionDuration.
	p, err := e.getProposal(ctx, proposalID)
	if err != nil {
		panic(err)
	}
	now := time.Now()
	p.Status = StatusVoting
	p.VotingStart = now.Add(-time.Second)
	p.VotingEnd = now.Add(time.Hour)
	if err := e.saveProposal(ctx, p); err != nil {
		panic(err)
	}
}

// TestEqualWeightQuorumPasses implements S2 from spec.md §8.
func TestEqualWeightQuorumPasses(t *testing.T) {
	e := newTestEngine([]string{"a", "b", "c"})
	ctx := context.Background()

	p, err := e.CreateProposal(ctx, "a", "raise cap", "desc", KindParameterChange, WeightEqual, nil)
	require.NoError(t, err)
	voteWindow(e, ctx, p.ProposalID)

	require.NoError(t, e.CastVote(ctx, p.ProposalID, "a", ChoiceYes, ""))
	require.NoError(t, e.CastVote(ctx, p.ProposalID, "b", ChoiceYes, ""))
	require.NoError(t, e.CastVote(ctx, p.ProposalID, "c", ChoiceNo, ""))

	tally, err := e.UpdateProposalTally(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.True(t, tally.QuorumMet)
	assert.Equal(t, 2.0, tally.YesWeight)
	assert.Equal(t, 1.0, tally.NoWeight)
	assert.Equal(t, StatusPassed, tally.Result)
}

// TestDoubleVoteRejected implements invariant 3 (vote uniqueness).
func TestDoubleVoteRejected(t *testing.T) {
	e := newTestEngine([]string{"a", "b"})
	ctx := context.Background()

	p, err := e.CreateProposal(ctx, "a", "t", "d", KindNetworkPolicy, WeightEqual, nil)
	require.NoError(t, err)
	voteWindow(e, ctx, p.ProposalID)

	require.NoError(t, e.CastVote(ctx, p.ProposalID, "a", ChoiceYes, ""))
	err = e.CastVote(ctx, p.ProposalID, "a", ChoiceNo, "")
	assert.Error(t, err)
}

// TestQuorumNotMetExpires implements invariant 4 (quorum & result).
func TestQuorumNotMetExpires(t *testing.T) {
	e := newTestEngine([]string{"a", "b", "c", "d", "e"})
	ctx := context.Background()

	p, err := e.CreateProposal(ctx, "a", "t", "d", KindNetworkPolicy, WeightEqual, nil)
	require.NoError(t, err)
	voteWindow(e, ctx, p.ProposalID)

	require.NoError(t, e.CastVote(ctx, p.ProposalID, "a", ChoiceYes, ""))

	tally, err := e.UpdateProposalTally(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.False(t, tally.QuorumMet)
	assert.Equal(t, StatusExpired, tally.Result)
}

// TestTieIsRejected covers the tie-as-rejected resolved Open Question.
func TestTieIsRejected(t *testing.T) {
	e := newTestEngine([]string{"a", "b"})
	ctx := context.Background()

	p, err := e.CreateProposal(ctx, "a", "t", "d", KindNetworkPolicy, WeightEqual, nil)
	require.NoError(t, err)
	voteWindow(e, ctx, p.ProposalID)

	require.NoError(t, e.CastVote(ctx, p.ProposalID, "a", ChoiceYes, ""))
	require.NoError(t, e.CastVote(ctx, p.ProposalID, "b", ChoiceNo, ""))

	tally, err := e.UpdateProposalTally(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.True(t, tally.QuorumMet)
	assert.Equal(t, StatusRejected, tally.Result)
}

// TestLifecycleMonotonic implements invariant 5: a proposal never moves
// backward through draft -> discussion -> voting -> terminal.
func TestLifecycleMonotonic(t *testing.T) {
	e := newTestEngine([]string{"a"})
	ctx := context.Background()

	p, err := e.CreateProposal(ctx, "a", "t", "d", KindNetworkPolicy, WeightEqual, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, p.Status)

	require.NoError(t, e.StartDiscussion(ctx, p.ProposalID))
	got, err := e.getProposal(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, StatusDiscussion, got.Status)

	// Cannot re-enter discussion once past draft.
	err = e.StartDiscussion(ctx, p.ProposalID)
	assert.Error(t, err)

	voteWindow(e, ctx, p.ProposalID)
	require.NoError(t, e.CastVote(ctx, p.ProposalID, "a", ChoiceYes, ""))
	tally, err := e.UpdateProposalTally(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, StatusPassed, tally.Result)

	// Cannot cancel once past discussion.
	err = e.Cancel(ctx, p.ProposalID)
	assert.Error(t, err)
}

func TestActiveProposalCapEnforced(t *testing.T) {
	e := newTestEngine([]string{"a"})
	e.maxActiveProposals = 1
	ctx := context.Background()

	_, err := e.CreateProposal(ctx, "a", "first", "d", KindNetworkPolicy, WeightEqual, nil)
	require.NoError(t, err)

	_, err = e.CreateProposal(ctx, "a", "second", "d", KindNetworkPolicy, WeightEqual, nil)
	assert.Error(t, err)
}

func TestDelegateRejectsSelfAndOverlap(t *testing.T) {
	e := newTestEngine([]string{"a", "b"})
	ctx := context.Background()

	_, err := e.Delegate(ctx, "a", "a", "all")
	assert.Error(t, err)

	_, err = e.Delegate(ctx, "a", "b", "all")
	require.NoError(t, err)

	_, err = e.Delegate(ctx, "a", "b", "all")
	assert.Error(t, err)
}

func TestCastVoteViaDelegation(t *testing.T) {
	e := newTestEngine([]string{"a", "b"})
	ctx := context.Background()

	_, err := e.Delegate(ctx, "a", "b", "all")
	require.NoError(t, err)

	p, err := e.CreateProposal(ctx, "a", "t", "d", KindNetworkPolicy, WeightEqual, nil)
	require.NoError(t, err)
	voteWindow(e, ctx, p.ProposalID)

	require.NoError(t, e.CastVote(ctx, p.ProposalID, "b", ChoiceYes, "a"))

	tally, err := e.UpdateProposalTally(ctx, p.ProposalID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, tally.YesWeight)
}
