package poot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

type fakeNetwork struct {
	balances map[string]valuenet.AccountBalance
}

func (f *fakeNetwork) SendUSDT(context.Context, string, float64) (string, error) { return "", nil }
func (f *fakeNetwork) GetAccountBalance(_ context.Context, address string) (valuenet.AccountBalance, error) {
	return f.balances[address], nil
}
func (f *fakeNetwork) GetTransactionStatus(context.Context, string) (valuenet.TxStatus, error) {
	return valuenet.TxConfirmed, nil
}
func (f *fakeNetwork) EstimateFee(context.Context, string, float64) (float64, error) { return 0, nil }

type alwaysValidVerifier struct{}

func (alwaysValidVerifier) Verify(string, []byte, []byte) (bool, error) { return true, nil }

func newTestEngine() *Engine {
	return New(store.NewMemory(), alwaysValidVerifier{}, &fakeNetwork{balances: map[string]valuenet.AccountBalance{}}, 15*time.Minute, 60*time.Minute, 100, 32)
}

// TestOwnershipChallengeRateLimit implements S3 from spec.md §8.
func TestOwnershipChallengeRateLimit(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.GenerateOwnershipChallenge(ctx, "nodeX", ProofStake, 1)
		require.NoError(t, err)
	}

	_, err := e.GenerateOwnershipChallenge(ctx, "nodeX", ProofStake, 1)
	assert.Error(t, err)
}

func TestSubmitOwnershipProofValid(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	c, err := e.GenerateOwnershipChallenge(ctx, "nodeY", ProofStake, 1)
	require.NoError(t, err)

	result, err := e.SubmitOwnershipProof(ctx, Proof{
		ChallengeID: c.ChallengeID,
		NodeID:      "nodeY",
		StakeAmount: 150,
		Signature:   []byte("sig"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValid, result.ValidationStatus)
}

func TestSubmitOwnershipProofInsufficientStake(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	c, err := e.GenerateOwnershipChallenge(ctx, "nodeZ", ProofStake, 1)
	require.NoError(t, err)

	result, err := e.SubmitOwnershipProof(ctx, Proof{
		ChallengeID: c.ChallengeID,
		NodeID:      "nodeZ",
		StakeAmount: 10,
		Signature:   []byte("sig"),
	})
	assert.Error(t, err)
	assert.Equal(t, StatusInsufficientStake, result.ValidationStatus)
}

func TestSubmitOwnershipProofUnknownChallenge(t *testing.T) {
	e := newTestEngine()
	_, err := e.SubmitOwnershipProof(context.Background(), Proof{ChallengeID: "bogus", NodeID: "n1"})
	assert.Error(t, err)
}

func TestValidateStakeFlagsUnderreporting(t *testing.T) {
	e := newTestEngine()
	e.network = &fakeNetwork{balances: map[string]valuenet.AccountBalance{
		"addr1": {USDT: 50},
	}}

	verified, err := e.ValidateStake(context.Background(), "nodeQ", "addr1", 200)
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestValidateStakeAcceptsSufficientBalance(t *testing.T) {
	e := newTestEngine()
	e.network = &fakeNetwork{balances: map[string]valuenet.AccountBalance{
		"addr2": {USDT: 500},
	}}

	verified, err := e.ValidateStake(context.Background(), "nodeR", "addr2", 200)
	require.NoError(t, err)
	assert.True(t, verified)
}
