package faucet

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkwallet/zkwallet/internal/db"
	"github.com/zkwallet/zkwallet/pkg/polygon"
)

type memoryLog struct {
	mu       sync.Mutex
	nextID   int64
	requests map[int64][]*db.FaucetRequest
}

func newMemoryLog() *memoryLog {
	return &memoryLog{requests: make(map[int64][]*db.FaucetRequest)}
}

func (m *memoryLog) LastRequest(_ context.Context, walletID int64) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.requests[walletID]
	if len(reqs) == 0 {
		return nil, nil
	}
	last := reqs[len(reqs)-1].CreatedAt
	return &last, nil
}

func (m *memoryLog) Record(_ context.Context, req *db.FaucetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, prev := range m.requests[req.WalletID] {
		if req.CreatedAt.Sub(prev.CreatedAt) < Window {
			return &CooldownError{RetryAfter: Window}
		}
	}
	m.nextID++
	req.ID = m.nextID
	m.requests[req.WalletID] = append(m.requests[req.WalletID], req)
	return nil
}

func (m *memoryLog) Release(_ context.Context, req *db.FaucetRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reqs := m.requests[req.WalletID]
	for i, prev := range reqs {
		if prev.ID == req.ID {
			m.requests[req.WalletID] = append(reqs[:i], reqs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memoryLog) AttachResult(context.Context, *db.FaucetRequest) error {
	return nil
}

type fakeFunds struct {
	mu            sync.Mutex
	simulated     bool
	masterBalance decimal.Decimal
	transferErr   error
	transfers     int
}

func (f *fakeFunds) Simulated() bool { return f.simulated }

func (f *fakeFunds) MasterBalance(context.Context) (decimal.Decimal, error) {
	return f.masterBalance, nil
}

func (f *fakeFunds) Transfer(_ context.Context, _ string, _ decimal.Decimal) (*polygon.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	f.transfers++
	return &polygon.TransferResult{TxHash: "0xfaucet", Simulated: f.simulated}, nil
}

func (f *fakeFunds) transferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transfers
}

type fakeWallets struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	nextTx   int64
}

func newFakeWallets(ids ...int64) *fakeWallets {
	f := &fakeWallets{balances: make(map[int64]decimal.Decimal)}
	for _, id := range ids {
		f.balances[id] = decimal.Zero
	}
	return f
}

func (f *fakeWallets) WalletByID(_ context.Context, id int64) (*db.Wallet, error) {
	addr := "0x000000000000000000000000000000000000dEaD"
	return &db.Wallet{
		ID:              id,
		InternalAddress: fmt.Sprintf("ZKWALLET%032d", id),
		ChainAddress:    &addr,
		Active:          true,
	}, nil
}

func (f *fakeWallets) Credit(_ context.Context, walletID int64, amount decimal.Decimal, _, _ string) (*db.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[walletID] = f.balances[walletID].Add(amount)
	f.nextTx++
	return &db.Transaction{ID: f.nextTx, Status: db.TxStatusPending}, nil
}

func (f *fakeWallets) MarkTransactionCompleted(context.Context, int64, string, bool) error {
	return nil
}

func newTestDispenser(clock *time.Time) (*Dispenser, *fakeWallets, *fakeFunds) {
	wallets := newFakeWallets(1)
	funds := &fakeFunds{simulated: true}
	d := NewDispenser(wallets, funds, newMemoryLog())
	d.now = func() time.Time { return *clock }
	return d, wallets, funds
}

func TestDispenseWindow(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := start
	d, wallets, _ := newTestDispenser(&clock)
	ctx := context.Background()

	// T=0: succeeds.
	req, err := d.Dispense(ctx, 1)
	require.NoError(t, err)
	assert.True(t, req.Simulated)
	assert.True(t, wallets.balances[1].Equal(DispenseAmount))

	// T=+1h: inside the window, retry-after is roughly 23h.
	clock = start.Add(time.Hour)
	_, err = d.Dispense(ctx, 1)
	require.ErrorIs(t, err, ErrCooldown)
	var cd *CooldownError
	require.ErrorAs(t, err, &cd)
	assert.InDelta(t, (23 * time.Hour).Seconds(), cd.RetryAfter.Seconds(), float64(time.Minute/time.Second))

	// T=+25h: window elapsed, succeeds again.
	clock = start.Add(25 * time.Hour)
	_, err = d.Dispense(ctx, 1)
	require.NoError(t, err)
	assert.True(t, wallets.balances[1].Equal(DispenseAmount.Mul(decimal.NewFromInt(2))))
}

func TestDispenseConcurrentSameWallet(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d, _, funds := newTestDispenser(&clock)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Dispense(context.Background(), 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	winners := 0
	for err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrCooldown)
		}
	}
	assert.Equal(t, 1, winners, "the commit-time window re-check must admit exactly one")
	assert.Equal(t, 1, funds.transferCount(), "only the winner may move funds on-chain")
}

func TestDispenseBroadcastFailureReleasesWindow(t *testing.T) {
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	d, wallets, funds := newTestDispenser(&clock)
	ctx := context.Background()

	funds.transferErr = fmt.Errorf("rpc down")
	_, err := d.Dispense(ctx, 1)
	require.Error(t, err)
	assert.True(t, wallets.balances[1].IsZero(), "failed broadcast must not credit")

	// The claim was released, so a retry inside the window still works.
	funds.transferErr = nil
	req, err := d.Dispense(ctx, 1)
	require.NoError(t, err)
	assert.True(t, wallets.balances[1].Equal(DispenseAmount))
	require.NotNil(t, req.ChainTxHash)
}

func TestDispenseMasterReserve(t *testing.T) {
	wallets := newFakeWallets(1)
	d := NewDispenser(wallets, &fakeFunds{
		simulated:     false,
		masterBalance: decimal.RequireFromString("0.05"),
	}, newMemoryLog())

	_, err := d.Dispense(context.Background(), 1)
	require.ErrorIs(t, err, ErrMasterDrained)

	// With headroom above the reserve it goes through.
	d = NewDispenser(wallets, &fakeFunds{
		simulated:     false,
		masterBalance: decimal.RequireFromString("1.0"),
	}, newMemoryLog())
	_, err = d.Dispense(context.Background(), 1)
	require.NoError(t, err)
}
