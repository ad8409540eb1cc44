package deposit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
)

type fakeBackend struct {
	mu        sync.Mutex
	chain     entities.Chain
	threshold uint64
	inbound   []entities.InboundTransfer
	listErr   error
}

func (b *fakeBackend) Chain() entities.Chain { return b.chain }

func (b *fakeBackend) Ping(context.Context) error { return nil }

func (b *fakeBackend) ConfirmationThreshold() uint64 { return b.threshold }

func (b *fakeBackend) Transfer(context.Context, chains.TransferRequest) (string, error) {
	return "", nil
}

func (b *fakeBackend) ListInbound(context.Context, string) ([]entities.InboundTransfer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	out := make([]entities.InboundTransfer, len(b.inbound))
	copy(out, b.inbound)
	return out, nil
}

func (b *fakeBackend) setInbound(transfers ...entities.InboundTransfer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbound = transfers
}

type fakeTxStore struct {
	mu       sync.Mutex
	created  []*entities.Transaction
	existing map[string]bool
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{existing: make(map[string]bool)}
}

func (s *fakeTxStore) Create(_ context.Context, tx *entities.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, tx)
	if tx.ReferenceID != nil {
		s.existing[*tx.ReferenceID] = true
	}
	return nil
}

func (s *fakeTxStore) ExistsCompletedDeposit(_ context.Context, referenceID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[referenceID], nil
}

func (s *fakeTxStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakeWalletStore struct {
	mu      sync.Mutex
	wallets map[uuid.UUID]*entities.CustodyWallet
	credits []decimal.Decimal
}

func (s *fakeWalletStore) GetByID(_ context.Context, id uuid.UUID) (*entities.CustodyWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, entities.ErrWalletNotFound
	}
	return w, nil
}

func (s *fakeWalletStore) GetExpectingDeposits(context.Context) ([]*entities.CustodyWallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entities.CustodyWallet
	for _, w := range s.wallets {
		if w.ExpectsDeposits {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *fakeWalletStore) CreditBalance(_ context.Context, _ uuid.UUID, _ entities.Chain, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = append(s.credits, amount)
	return nil
}

func (s *fakeWalletStore) creditCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.credits)
}

type fakeDepositNotifier struct {
	mu    sync.Mutex
	count int
}

func (n *fakeDepositNotifier) NotifyDepositReceived(context.Context, uuid.UUID, entities.Chain, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count++
	return nil
}

func (n *fakeDepositNotifier) notified() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.count
}

func testWallet(chain entities.Chain) *entities.CustodyWallet {
	return &entities.CustodyWallet{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Chain:           chain,
		Kind:            entities.WalletKindCustodial,
		Address:         "FrSrxkNtgP4f9pYDWB6QdVJf8FMpCPvPVnFkdku6Cc5q",
		ExpectsDeposits: true,
	}
}

func newTestMonitor(t *testing.T, cfg Config, backend chains.Backend, wallets *fakeWalletStore, txStore *fakeTxStore, notifier *fakeDepositNotifier) *Monitor {
	t.Helper()
	m := NewMonitor(cfg, chains.NewRegistry(backend), txStore, wallets, wallets, notifier, nil, nil, logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	require.NoError(t, m.Start(ctx))
	return m
}

func fastConfig() Config {
	return Config{
		PollInterval: 10 * time.Millisecond,
		MaxAttempts:  5,
		IdleTimeout:  time.Hour,
		Reconcile:    false,
	}
}

func TestMonitorCreditsConfirmedDepositOnce(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 2}
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig1",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("1.5"),
		Confirmations: 3,
	})

	m := newTestMonitor(t, fastConfig(), backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))

	require.Eventually(t, func() bool { return txStore.createdCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Nothing credits a second time
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, txStore.createdCount())
	assert.Equal(t, 1, wallets.creditCount())
	assert.Equal(t, 1, notifier.notified())

	txStore.mu.Lock()
	record := txStore.created[0]
	txStore.mu.Unlock()
	assert.Equal(t, entities.TransactionTypeDeposit, record.Type)
	assert.Equal(t, entities.TransactionStatusCompleted, record.Status)
	require.NotNil(t, record.ReferenceID)
	assert.Equal(t, "DepSig1", *record.ReferenceID)
	assert.True(t, record.Amount.Equal(decimal.RequireFromString("1.5")))
}

func TestMonitorWatchEndsAfterCreditedDeposit(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 1}
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig5",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("2"),
		Confirmations: 1,
	})

	m := newTestMonitor(t, fastConfig(), backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))

	require.Eventually(t, func() bool { return txStore.createdCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	// A confirmed deposit removes the wallet from the watch set
	require.Eventually(t, func() bool { return !m.Watching(wallet.ID) }, 2*time.Second, 5*time.Millisecond)

	// A later transfer on the same address is not picked up without a re-watch
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig6",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("3"),
		Confirmations: 1,
	})
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, txStore.createdCount())
}

func TestMonitorIgnoresUnconfirmedTransfers(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 5}
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig2",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("1"),
		Confirmations: 4,
	})

	m := newTestMonitor(t, fastConfig(), backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, txStore.createdCount())

	// Crossing the threshold credits it
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig2",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("1"),
		Confirmations: 5,
	})
	require.Eventually(t, func() bool { return txStore.createdCount() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestMonitorSkipsAlreadyRecordedDeposit(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	txStore.existing["DepSig3"] = true
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 1}
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig3",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("1"),
		Confirmations: 1,
	})

	m := newTestMonitor(t, fastConfig(), backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, txStore.createdCount())
	assert.Zero(t, wallets.creditCount())
	assert.Zero(t, notifier.notified())
}

func TestMonitorUnwatchStopsCrediting(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 1}

	m := newTestMonitor(t, fastConfig(), backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))
	assert.True(t, m.Watching(wallet.ID))

	m.Unwatch(wallet.ID)
	require.Eventually(t, func() bool { return !m.Watching(wallet.ID) }, 2*time.Second, 5*time.Millisecond)

	// A transfer arriving after unwatch is never credited
	backend.setInbound(entities.InboundTransfer{
		TxID:          "DepSig4",
		Address:       wallet.Address,
		Amount:        decimal.RequireFromString("1"),
		Confirmations: 1,
	})
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, txStore.createdCount())
}

func TestMonitorIdleTimeoutStopsWatch(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 1}

	cfg := fastConfig()
	cfg.IdleTimeout = 50 * time.Millisecond

	m := newTestMonitor(t, cfg, backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))

	require.Eventually(t, func() bool { return !m.Watching(wallet.ID) }, 2*time.Second, 5*time.Millisecond)
}

func TestMonitorRetryBudgetExhaustion(t *testing.T) {
	wallet := testWallet(entities.ChainSOL)
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 1}
	backend.mu.Lock()
	backend.listErr = assert.AnError
	backend.mu.Unlock()

	cfg := fastConfig()
	cfg.MaxAttempts = 3

	m := newTestMonitor(t, cfg, backend, wallets, txStore, notifier)
	require.NoError(t, m.Watch(context.Background(), wallet.ID))

	require.Eventually(t, func() bool { return !m.Watching(wallet.ID) }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, txStore.createdCount())
}

func TestMonitorStartReconcilesExpectingWallets(t *testing.T) {
	watched := testWallet(entities.ChainSOL)
	ignored := testWallet(entities.ChainSOL)
	ignored.ExpectsDeposits = false

	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{
		watched.ID: watched,
		ignored.ID: ignored,
	}}
	txStore := newFakeTxStore()
	notifier := &fakeDepositNotifier{}
	backend := &fakeBackend{chain: entities.ChainSOL, threshold: 1}

	cfg := fastConfig()
	cfg.Reconcile = true

	m := NewMonitor(cfg, chains.NewRegistry(backend), txStore, wallets, wallets, notifier, nil, nil, logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Stop()
	})
	require.NoError(t, m.Start(ctx))

	assert.True(t, m.Watching(watched.ID))
	assert.False(t, m.Watching(ignored.ID))

	snapshot := m.Watches()
	require.Len(t, snapshot, 1)
	assert.Equal(t, watched.ID, snapshot[0].WalletID)
	assert.Equal(t, watched.Address, snapshot[0].Address)
	assert.Equal(t, entities.ChainSOL, snapshot[0].Chain)
}

func TestMonitorWatchUnknownWallet(t *testing.T) {
	wallets := &fakeWalletStore{wallets: map[uuid.UUID]*entities.CustodyWallet{}}
	m := newTestMonitor(t, fastConfig(), &fakeBackend{chain: entities.ChainSOL, threshold: 1}, wallets, newFakeTxStore(), &fakeDepositNotifier{})

	err := m.Watch(context.Background(), uuid.New())
	assert.ErrorIs(t, err, entities.ErrWalletNotFound)
}
