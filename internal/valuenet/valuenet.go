// Package valuenet is the consumed contract for the external
// value-network (spec.md §6): send/balance/status/fee operations
// against whatever settlement chain backs node payouts and stake
// verification. No other knowledge of the external chain leaks into
// the core.
package valuenet

import "context"

// TxStatus is the lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
	TxExpired   TxStatus = "expired"
)

// AccountBalance mirrors GetAccountBalance's response shape.
type AccountBalance struct {
	TRX    float64
	USDT   float64
	Active bool
}

// Adapter is the narrow external value-network contract.
type Adapter interface {
	SendUSDT(ctx context.Context, to string, amount float64) (txHash string, err error)
	GetAccountBalance(ctx context.Context, address string) (AccountBalance, error)
	GetTransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
	EstimateFee(ctx context.Context, to string, amount float64) (fee float64, err error)
}
