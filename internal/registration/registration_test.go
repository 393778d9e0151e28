package registration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/overlay"
	"github.com/HamiGames/Lucid-sub000/internal/peer"
	"github.com/HamiGames/Lucid-sub000/internal/store"
)

type fakeStake struct{ verified bool }

func (f *fakeStake) ValidateStake(context.Context, string, string, float64) (bool, error) {
	return f.verified, nil
}

type alwaysValidSig struct{}

func (alwaysValidSig) Verify(string, []byte, []byte) (bool, error) { return true, nil }

func newTestEngine(stakeVerified bool) *Engine {
	dir := peer.New(store.NewMemory(), overlay.NewHTTPClient(), 10*time.Minute, 24*time.Hour, time.Minute, nil)
	return New(store.NewMemory(), dir, &fakeStake{verified: stakeVerified}, alwaysValidSig{},
		100, []peer.Role{peer.RoleWorker, peer.RoleServer}, 5*time.Minute, 2*time.Minute, []byte("test-secret"))
}

func TestSubmitRejectsNonOnionAddress(t *testing.T) {
	e := newTestEngine(true)
	_, err := e.Submit(context.Background(), "n1", "example.com", 9000, peer.RoleWorker, 200)
	assert.Error(t, err)
}

func TestSubmitRejectsInsufficientStake(t *testing.T) {
	e := newTestEngine(true)
	_, err := e.Submit(context.Background(), "n1", "abc123xyz.onion", 9000, peer.RoleWorker, 10)
	assert.Error(t, err)
}

func TestFullOnboardingFlowApproves(t *testing.T) {
	e := newTestEngine(true)
	ctx := context.Background()

	r, err := e.Submit(ctx, "n1", "abc123xyz.onion", 9000, peer.RoleWorker, 200)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingChallenges, r.Status)

	it, err := e.st.Find(ctx, challengesCollection, store.Eq("registration_id", r.RegistrationID), nil, 0)
	require.NoError(t, err)
	var challengeIDs []string
	for {
		doc, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		challengeIDs = append(challengeIDs, strOf(doc["challenge_id"]))
	}
	it.Close()
	require.Len(t, challengeIDs, 4)

	for _, cid := range challengeIDs {
		require.NoError(t, e.VerifyChallenge(ctx, cid, []byte("response")))
	}

	r, err = e.getRegistration(ctx, r.RegistrationID)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.VerificationScore, 0.001)
	assert.Equal(t, StatusStakeVerified, r.Status)

	require.NoError(t, e.Approve(ctx, r.RegistrationID))
	r, err = e.getRegistration(ctx, r.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, r.Status)

	_, ok := e.dir.GetPeer("n1")
	assert.True(t, ok)
}

func TestApproveRejectsBelowVerificationThreshold(t *testing.T) {
	e := newTestEngine(true)
	ctx := context.Background()

	r, err := e.Submit(ctx, "n2", "def456xyz.onion", 9000, peer.RoleWorker, 200)
	require.NoError(t, err)

	err = e.Approve(ctx, r.RegistrationID)
	assert.Error(t, err)
}

func TestStakeUnverifiedBlocksApprove(t *testing.T) {
	e := newTestEngine(false)
	ctx := context.Background()

	r, err := e.Submit(ctx, "n3", "ghi789xyz.onion", 9000, peer.RoleWorker, 200)
	require.NoError(t, err)

	it, _ := e.st.Find(ctx, challengesCollection, store.Eq("registration_id", r.RegistrationID), nil, 0)
	for {
		doc, ok, _ := it.Next(ctx)
		if !ok {
			break
		}
		require.NoError(t, e.VerifyChallenge(ctx, strOf(doc["challenge_id"]), []byte("r")))
	}
	it.Close()

	r, err = e.getRegistration(ctx, r.RegistrationID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingChallenges, r.Status)

	err = e.Approve(ctx, r.RegistrationID)
	assert.Error(t, err)
}

func TestReachabilityTokenAndQRCode(t *testing.T) {
	e := newTestEngine(true)
	ctx := context.Background()

	r, err := e.Submit(ctx, "n4", "jkl012xyz.onion", 9000, peer.RoleWorker, 200)
	require.NoError(t, err)

	token, err := e.IssueReachabilityToken(r.RegistrationID)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	png, err := e.ApprovalReceiptQR(r.RegistrationID)
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}
