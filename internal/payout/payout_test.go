package payout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HamiGames/Lucid-sub000/internal/store"
	"github.com/HamiGames/Lucid-sub000/internal/valuenet"
)

type fakeAdapter struct {
	fail   bool
	nextTx int
}

func (f *fakeAdapter) SendUSDT(context.Context, string, float64) (string, error) {
	if f.fail {
		return "", assert.AnError
	}
	f.nextTx++
	return "tx-" + string(rune('0'+f.nextTx)), nil
}

func (f *fakeAdapter) GetAccountBalance(context.Context, string) (valuenet.AccountBalance, error) {
	return valuenet.AccountBalance{}, nil
}

func (f *fakeAdapter) GetTransactionStatus(context.Context, string) (valuenet.TxStatus, error) {
	return valuenet.TxConfirmed, nil
}

func (f *fakeAdapter) EstimateFee(context.Context, string, float64) (float64, error) { return 0, nil }

func newTestEngine(adapter valuenet.Adapter) *Engine {
	return New(store.NewMemory(), adapter, 1, 10000, 10, 1.0, 3, 500)
}

// TestPayoutThresholdInvariant implements invariant 12: any created
// payout satisfies min ≤ amount ≤ max ∧ amount ≥ threshold.
func TestPayoutThresholdInvariant(t *testing.T) {
	e := newTestEngine(&fakeAdapter{})
	ctx := context.Background()

	_, err := e.CreatePayout(ctx, "n1", "reward", 5, "addr1")
	assert.Error(t, err, "below threshold must be rejected")

	_, err = e.CreatePayout(ctx, "n1", "reward", 20000, "addr1")
	assert.Error(t, err, "above maximum must be rejected")

	r, err := e.CreatePayout(ctx, "n1", "reward", 100, "addr1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
}

func TestCheckPayoutEligibilityComputesFeeAndNet(t *testing.T) {
	e := newTestEngine(&fakeAdapter{})
	elig := e.CheckPayoutEligibility(100)
	assert.True(t, elig.Eligible)
	assert.InDelta(t, 1.0, elig.Fee, 0.001)
	assert.InDelta(t, 99.0, elig.Net, 0.001)
}

func TestCancelPayoutOnlyWhilePending(t *testing.T) {
	e := newTestEngine(&fakeAdapter{})
	ctx := context.Background()

	r, err := e.CreatePayout(ctx, "n1", "reward", 100, "addr1")
	require.NoError(t, err)

	require.NoError(t, e.CancelPayout(ctx, r.RequestID))

	err = e.CancelPayout(ctx, r.RequestID)
	assert.Error(t, err)
}

func TestProcessPendingCompletesWithExternalTxHash(t *testing.T) {
	e := newTestEngine(&fakeAdapter{})
	ctx := context.Background()

	r, err := e.CreatePayout(ctx, "n1", "reward", 100, "addr1")
	require.NoError(t, err)

	e.ProcessPending(ctx)

	got, err := e.getRequest(ctx, r.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.NotEmpty(t, got.ExternalTxHash)
}

func TestProcessPendingMarksFailedOnAdapterError(t *testing.T) {
	e := newTestEngine(&fakeAdapter{fail: true})
	ctx := context.Background()

	r, err := e.CreatePayout(ctx, "n1", "reward", 100, "addr1")
	require.NoError(t, err)

	e.ProcessPending(ctx)

	got, err := e.getRequest(ctx, r.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
}

func TestBuildBatchesRespectsSizeAndAmountCaps(t *testing.T) {
	e := newTestEngine(&fakeAdapter{})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := e.CreatePayout(ctx, "n1", "reward", 200, "addr1")
		require.NoError(t, err)
	}

	batches, err := e.BuildBatches(ctx)
	require.NoError(t, err)

	for _, b := range batches {
		assert.LessOrEqual(t, len(b.Requests), e.batchSize)
		assert.LessOrEqual(t, b.TotalAmount, e.maxBatchAmt)
	}
	total := 0
	for _, b := range batches {
		total += len(b.Requests)
	}
	assert.Equal(t, 4, total)
}
