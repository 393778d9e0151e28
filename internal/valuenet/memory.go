package valuenet

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is a development/test stand-in for Adapter: balances and
// transactions live in process memory, never touching a real chain.
// It is never wired into a production path.
type Memory struct {
	mu       sync.Mutex
	balances map[string]AccountBalance
}

// NewMemory builds an empty Memory adapter.
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]AccountBalance)}
}

// Credit seeds an address with a balance, for test/dev setup.
func (m *Memory) Credit(address string, usdt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[address]
	b.USDT += usdt
	b.Active = true
	m.balances[address] = b
}

func (m *Memory) SendUSDT(_ context.Context, to string, amount float64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[to]
	b.USDT += amount
	b.Active = true
	m.balances[to] = b
	return fmt.Sprintf("memtx-%s", uuid.NewString()), nil
}

func (m *Memory) GetAccountBalance(_ context.Context, address string) (AccountBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[address], nil
}

func (m *Memory) GetTransactionStatus(_ context.Context, _ string) (TxStatus, error) {
	return TxConfirmed, nil
}

func (m *Memory) EstimateFee(_ context.Context, _ string, amount float64) (float64, error) {
	return amount * 0.01, nil
}

var _ Adapter = (*Memory)(nil)
