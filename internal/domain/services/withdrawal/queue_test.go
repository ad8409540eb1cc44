package withdrawal

import (
	"context"
	"errors"
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

type fakeTxRepo struct {
	mu          sync.Mutex
	txs         map[uuid.UUID]*entities.Transaction
	claims      map[uuid.UUID]int
	completed   map[uuid.UUID]string
	failed      map[uuid.UUID]string
	referenceID map[uuid.UUID]string
}

func newFakeTxRepo(txs ...*entities.Transaction) *fakeTxRepo {
	r := &fakeTxRepo{
		txs:         make(map[uuid.UUID]*entities.Transaction),
		claims:      make(map[uuid.UUID]int),
		completed:   make(map[uuid.UUID]string),
		failed:      make(map[uuid.UUID]string),
		referenceID: make(map[uuid.UUID]string),
	}
	for _, tx := range txs {
		r.txs[tx.ID] = tx
	}
	return r
}

func (r *fakeTxRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return nil, entities.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (r *fakeTxRepo) ClaimForProcessing(_ context.Context, id uuid.UUID, from, to entities.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok || tx.Status != from {
		return entities.ErrAlreadyClaimed
	}
	tx.Status = to
	r.claims[id]++
	return nil
}

func (r *fakeTxRepo) SetReferenceID(_ context.Context, id uuid.UUID, refID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.referenceID[id] = refID
	return nil
}

func (r *fakeTxRepo) MarkCompleted(_ context.Context, id uuid.UUID, refID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[id].Status = entities.TransactionStatusCompleted
	r.completed[id] = refID
	return nil
}

func (r *fakeTxRepo) MarkFailed(_ context.Context, id uuid.UUID, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs[id].Status = entities.TransactionStatusFailed
	r.failed[id] = description
	return nil
}

func (r *fakeTxRepo) status(id uuid.UUID) entities.TransactionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs[id].Status
}

type fakeWalletRepo struct {
	wallets map[uuid.UUID]*entities.CustodyWallet
}

func (r *fakeWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.CustodyWallet, error) {
	w, ok := r.wallets[id]
	if !ok {
		return nil, entities.ErrWalletNotFound
	}
	return w, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	chain     entities.Chain
	refID     string
	err       error
	transfers []chains.TransferRequest
	delay     time.Duration
}

func (b *fakeBackend) Chain() entities.Chain { return b.chain }

func (b *fakeBackend) Ping(context.Context) error { return nil }

func (b *fakeBackend) ConfirmationThreshold() uint64 { return 1 }

func (b *fakeBackend) Transfer(_ context.Context, req chains.TransferRequest) (string, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transfers = append(b.transfers, req)
	return b.refID, b.err
}

func (b *fakeBackend) ListInbound(context.Context, string) ([]entities.InboundTransfer, error) {
	return nil, nil
}

func (b *fakeBackend) transferCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transfers)
}

type fakeRefunder struct {
	mu      sync.Mutex
	refunds []uuid.UUID
	err     error
}

func (r *fakeRefunder) Refund(_ context.Context, tx *entities.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refunds = append(r.refunds, tx.ID)
	return r.err
}

func (r *fakeRefunder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.refunds)
}

type fakeNotifier struct {
	mu        sync.Mutex
	completed int
	failed    int
	reasons   []string
}

func (n *fakeNotifier) NotifyWithdrawalCompleted(context.Context, uuid.UUID, string, string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed++
	return nil
}

func (n *fakeNotifier) NotifyWithdrawalFailed(_ context.Context, _ uuid.UUID, _ string, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed++
	n.reasons = append(n.reasons, reason)
	return nil
}

func (n *fakeNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.completed, n.failed
}

type fakeProfits struct {
	mu      sync.Mutex
	entries []*entities.Transaction
}

func (p *fakeProfits) RecordProfit(_ context.Context, tx *entities.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, tx)
	return nil
}

func (p *fakeProfits) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func destinationPtr(s string) *string { return &s }

func pendingWithdrawal(walletID, userID uuid.UUID, chain entities.Chain, amount, fee string) *entities.Transaction {
	return &entities.Transaction{
		ID:          uuid.New(),
		WalletID:    walletID,
		UserID:      userID,
		Chain:       chain,
		Type:        entities.TransactionTypeWithdrawal,
		Amount:      decimal.RequireFromString(amount),
		Fee:         decimal.RequireFromString(fee),
		Status:      entities.TransactionStatusPending,
		Destination: destinationPtr("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func custodialWallet(userID uuid.UUID, chain entities.Chain) *entities.CustodyWallet {
	return &entities.CustodyWallet{
		ID:      uuid.New(),
		UserID:  userID,
		Chain:   chain,
		Kind:    entities.WalletKindCustodial,
		Address: "FrSrxkNtgP4f9pYDWB6QdVJf8FMpCPvPVnFkdku6Cc5q",
	}
}

func newTestQueue(t *testing.T, txRepo *fakeTxRepo, wallets *fakeWalletRepo, backend chains.Backend) (*Queue, *fakeRefunder, *fakeNotifier, *fakeProfits) {
	t.Helper()
	refunder := &fakeRefunder{}
	notifier := &fakeNotifier{}
	profits := &fakeProfits{}
	q := NewQueue(txRepo, wallets, chains.NewRegistry(backend), refunder, notifier, profits, logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	return q, refunder, notifier, profits
}

func TestQueueProcessesWithdrawal(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "2.5", "0.01")

	txRepo := newFakeTxRepo(tx)
	backend := &fakeBackend{chain: entities.ChainSOL, refID: "Sig1"}
	q, refunder, notifier, profits := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	q.Enqueue(tx.ID)

	require.Eventually(t, func() bool {
		return txRepo.status(tx.ID) == entities.TransactionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, backend.transferCount())
	assert.Equal(t, "Sig1", txRepo.completed[tx.ID])
	assert.Equal(t, "Sig1", txRepo.referenceID[tx.ID])
	assert.Equal(t, 0, refunder.count())

	done, failed := notifier.counts()
	assert.Equal(t, 1, done)
	assert.Equal(t, 0, failed)

	// Fee was charged; exactly one profit entry
	assert.Equal(t, 1, profits.count())
}

func TestQueueDoubleEnqueueRunsOnce(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "1", "0")

	txRepo := newFakeTxRepo(tx)
	backend := &fakeBackend{chain: entities.ChainSOL, refID: "Sig1", delay: 20 * time.Millisecond}
	q, _, notifier, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	for i := 0; i < 5; i++ {
		q.Enqueue(tx.ID)
	}

	require.Eventually(t, func() bool {
		return txRepo.status(tx.ID) == entities.TransactionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !q.InFlight(tx.ID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, backend.transferCount())
	txRepo.mu.Lock()
	assert.Equal(t, 1, txRepo.claims[tx.ID])
	txRepo.mu.Unlock()

	done, _ := notifier.counts()
	assert.Equal(t, 1, done)
}

func TestQueueReEnqueueAfterCompletionIsDropped(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "1", "0")

	txRepo := newFakeTxRepo(tx)
	backend := &fakeBackend{chain: entities.ChainSOL, refID: "Sig1"}
	q, _, _, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	q.Enqueue(tx.ID)
	require.Eventually(t, func() bool {
		return txRepo.status(tx.ID) == entities.TransactionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !q.InFlight(tx.ID) }, 2*time.Second, 5*time.Millisecond)

	// Replay after completion: the conditional claim drops it silently.
	q.Enqueue(tx.ID)
	require.Eventually(t, func() bool { return !q.InFlight(tx.ID) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, backend.transferCount())
}

func TestQueueFailureRefundsAndNotifiesOnce(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainXMR)
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainXMR, "5", "0.1")

	txRepo := newFakeTxRepo(tx)
	backend := &fakeBackend{chain: entities.ChainXMR, err: errors.New("insufficient funds in wallet")}
	q, refunder, notifier, profits := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	q.Enqueue(tx.ID)

	require.Eventually(t, func() bool {
		return txRepo.status(tx.ID) == entities.TransactionStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	txRepo.mu.Lock()
	assert.Contains(t, txRepo.failed[tx.ID], "insufficient funds")
	txRepo.mu.Unlock()

	assert.Equal(t, 1, refunder.count())
	done, failed := notifier.counts()
	assert.Equal(t, 0, done)
	assert.Equal(t, 1, failed)
	assert.Contains(t, notifier.reasons[0], "insufficient funds")

	// No fee revenue on a failed withdrawal
	assert.Equal(t, 0, profits.count())
}

func TestQueueKeepsReferenceIDOnFailure(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "1", "0")

	txRepo := newFakeTxRepo(tx)
	// Broadcast happened, confirmation did not
	backend := &fakeBackend{
		chain: entities.ChainSOL,
		refID: "SigTimeout",
		err:   &entities.ConfirmationTimeoutError{Chain: entities.ChainSOL, ReferenceID: "SigTimeout", Attempts: 10},
	}
	q, refunder, _, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	q.Enqueue(tx.ID)

	require.Eventually(t, func() bool {
		return txRepo.status(tx.ID) == entities.TransactionStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	txRepo.mu.Lock()
	assert.Equal(t, "SigTimeout", txRepo.referenceID[tx.ID])
	txRepo.mu.Unlock()
	assert.Equal(t, 1, refunder.count())
}

func TestQueueValidationFailure(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "1", "0")
	tx.Destination = nil

	txRepo := newFakeTxRepo(tx)
	backend := &fakeBackend{chain: entities.ChainSOL}
	q, refunder, notifier, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	q.Enqueue(tx.ID)

	require.Eventually(t, func() bool {
		return txRepo.status(tx.ID) == entities.TransactionStatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, backend.transferCount())
	assert.Equal(t, 1, refunder.count())
	_, failed := notifier.counts()
	assert.Equal(t, 1, failed)
}

func TestQueueUnknownTransactionIsAbandoned(t *testing.T) {
	txRepo := newFakeTxRepo()
	backend := &fakeBackend{chain: entities.ChainSOL}
	q, refunder, notifier, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{}}, backend)

	id := uuid.New()
	q.Enqueue(id)

	require.Eventually(t, func() bool { return !q.InFlight(id) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, backend.transferCount())
	assert.Equal(t, 0, refunder.count())
	done, failed := notifier.counts()
	assert.Zero(t, done)
	assert.Zero(t, failed)
}

func TestQueueNonCustodialWalletIsAbandoned(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)
	wallet.Kind = entities.WalletKindExternal
	tx := pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "1", "0")

	txRepo := newFakeTxRepo(tx)
	backend := &fakeBackend{chain: entities.ChainSOL}
	q, _, _, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	q.Enqueue(tx.ID)
	require.Eventually(t, func() bool { return !q.InFlight(tx.ID) }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, backend.transferCount())
	assert.Equal(t, entities.TransactionStatusPending, txRepo.status(tx.ID))
}

func TestQueueDrainsMultiplePending(t *testing.T) {
	userID := uuid.New()
	wallet := custodialWallet(userID, entities.ChainSOL)

	var txs []*entities.Transaction
	for i := 0; i < 5; i++ {
		txs = append(txs, pendingWithdrawal(wallet.ID, userID, entities.ChainSOL, "1", "0"))
	}
	txRepo := newFakeTxRepo(txs...)
	backend := &fakeBackend{chain: entities.ChainSOL, refID: "Sig"}
	q, _, _, _ := newTestQueue(t, txRepo, &fakeWalletRepo{wallets: map[uuid.UUID]*entities.CustodyWallet{wallet.ID: wallet}}, backend)

	for _, tx := range txs {
		q.Enqueue(tx.ID)
	}

	require.Eventually(t, func() bool {
		for _, tx := range txs {
			if txRepo.status(tx.ID) != entities.TransactionStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 5, backend.transferCount())
}
