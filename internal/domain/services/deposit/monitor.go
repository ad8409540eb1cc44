package deposit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
	"github.com/coinrail/custody_service/pkg/metrics"
)

// TransactionStore is the durable record contract for credited deposits
type TransactionStore interface {
	Create(ctx context.Context, tx *entities.Transaction) error
	ExistsCompletedDeposit(ctx context.Context, referenceID string) (bool, error)
}

// WalletStore loads watched wallets
type WalletStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.CustodyWallet, error)
	GetExpectingDeposits(ctx context.Context) ([]*entities.CustodyWallet, error)
}

// BalanceStore credits confirmed deposits
type BalanceStore interface {
	CreditBalance(ctx context.Context, userID uuid.UUID, chain entities.Chain, amount decimal.Decimal) error
}

// Notifier announces a credited deposit to the user
type Notifier interface {
	NotifyDepositReceived(ctx context.Context, userID uuid.UUID, chain entities.Chain, amount, txID string) error
}

// DedupCache is the shared fast-path seen-set, typically Redis. It is a
// hint only; the durable store remains the source of truth.
type DedupCache interface {
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error
	SetContains(ctx context.Context, key, member string) (bool, error)
}

// PushSource streams transaction signatures touching an address. Chains
// without one fall back to polling.
type PushSource interface {
	SubscribeAddress(ctx context.Context, address string) (<-chan string, func(), error)
}

const dedupKeyTTL = 72 * time.Hour

// Config bounds the watch loops
type Config struct {
	PollInterval time.Duration
	MaxAttempts  int
	IdleTimeout  time.Duration
	// Reconcile re-attaches watches for deposit-expecting wallets on Start
	Reconcile bool
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 30 * time.Second,
		MaxAttempts:  120,
		IdleTimeout:  24 * time.Hour,
		Reconcile:    true,
	}
}

type watch struct {
	wallet  *entities.CustodyWallet
	cancel  context.CancelFunc
	seen    map[string]struct{}
	started time.Time
}

// Monitor runs one watch loop per monitored wallet, crediting confirmed
// inbound transfers exactly once
type Monitor struct {
	cfg      Config
	backends *chains.Registry
	txStore  TransactionStore
	wallets  WalletStore
	balances BalanceStore
	notifier Notifier
	cache    DedupCache
	push     map[entities.Chain]PushSource
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	watches map[uuid.UUID]*watch
	wg      sync.WaitGroup

	baseCtx context.Context
	started bool
}

func NewMonitor(
	cfg Config,
	backends *chains.Registry,
	txStore TransactionStore,
	wallets WalletStore,
	balances BalanceStore,
	notifier Notifier,
	cache DedupCache,
	push map[entities.Chain]PushSource,
	log *logger.Logger,
	m *metrics.Metrics,
) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	return &Monitor{
		cfg:      cfg,
		backends: backends,
		txStore:  txStore,
		wallets:  wallets,
		balances: balances,
		notifier: notifier,
		cache:    cache,
		push:     push,
		logger:   log,
		metrics:  m,
		watches:  make(map[uuid.UUID]*watch),
	}
}

// Start binds the monitor's lifetime context and re-attaches watches for
// every wallet flagged as expecting deposits. Watch state is not durable;
// this reconciliation is what survives restarts.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.started = true
	m.mu.Unlock()

	if !m.cfg.Reconcile {
		m.logger.Info("Deposit monitor started", "reconcile", false)
		return nil
	}

	wallets, err := m.wallets.GetExpectingDeposits(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile monitored wallets: %w", err)
	}

	for _, w := range wallets {
		if err := m.watchWallet(w); err != nil {
			m.logger.Error("Failed to re-attach deposit watch",
				"wallet_id", w.ID.String(),
				"chain", w.Chain,
				"error", err)
		}
	}

	m.logger.Info("Deposit monitor started", "watches", len(wallets))
	return nil
}

// Watch begins monitoring a wallet for inbound transfers. Watching an
// already-watched wallet is a no-op.
func (m *Monitor) Watch(ctx context.Context, walletID uuid.UUID) error {
	m.mu.Lock()
	started := m.started
	_, exists := m.watches[walletID]
	m.mu.Unlock()

	if !started {
		return fmt.Errorf("monitor not started")
	}
	if exists {
		return nil
	}

	w, err := m.wallets.GetByID(ctx, walletID)
	if err != nil {
		return err
	}
	return m.watchWallet(w)
}

// Unwatch stops monitoring a wallet. Unknown ids are a no-op.
func (m *Monitor) Unwatch(walletID uuid.UUID) {
	m.mu.Lock()
	w, ok := m.watches[walletID]
	if ok {
		delete(m.watches, walletID)
	}
	m.mu.Unlock()

	if ok {
		w.cancel()
		if m.metrics != nil {
			m.metrics.MonitoredWallets.Dec()
		}
		m.logger.Info("Stopped deposit watch", "wallet_id", walletID.String())
	}
}

// Watching reports whether a wallet currently has an active watch
func (m *Monitor) Watching(walletID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[walletID]
	return ok
}

// Watches returns a snapshot of the active watch set
func (m *Monitor) Watches() []entities.MonitoredWallet {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]entities.MonitoredWallet, 0, len(m.watches))
	for id, w := range m.watches {
		out = append(out, entities.MonitoredWallet{
			WalletID:  id,
			UserID:    w.wallet.UserID,
			Chain:     w.wallet.Chain,
			Address:   w.wallet.Address,
			StartedAt: w.started,
		})
	}
	return out
}

// Stop cancels all watches and waits for their loops to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	for id, w := range m.watches {
		w.cancel()
		delete(m.watches, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Monitor) watchWallet(wallet *entities.CustodyWallet) error {
	if _, err := m.backends.Lookup(wallet.Chain); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.watches[wallet.ID]; exists {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(m.baseCtx)
	w := &watch{wallet: wallet, cancel: cancel, seen: make(map[string]struct{}), started: time.Now().UTC()}
	m.watches[wallet.ID] = w
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.MonitoredWallets.Inc()
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.Unwatch(wallet.ID)
		m.run(ctx, w)
	}()

	m.logger.Info("Started deposit watch",
		"wallet_id", wallet.ID.String(),
		"chain", wallet.Chain,
		"address", wallet.Address)
	return nil
}

// run is the watch loop for one wallet. A push source, when available,
// only wakes the loop early; crediting always goes through the same
// poll-and-confirm path so both strategies share one dedup gate.
func (m *Monitor) run(ctx context.Context, w *watch) {
	var (
		wake   <-chan string
		unsub  func()
		pushed bool
	)
	if src, ok := m.push[w.wallet.Chain]; ok {
		ch, cancel, err := src.SubscribeAddress(ctx, w.wallet.Address)
		if err != nil {
			m.logger.Warn("Push subscription failed, falling back to polling",
				"wallet_id", w.wallet.ID.String(),
				"error", err)
		} else {
			wake, unsub, pushed = ch, cancel, true
		}
	}
	if unsub != nil {
		defer unsub()
	}

	backend, err := m.backends.Lookup(w.wallet.Chain)
	if err != nil {
		m.logger.Error("No backend for watched wallet", "wallet_id", w.wallet.ID.String(), "error", err)
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			m.logger.Info("Deposit watch idle timeout reached",
				"wallet_id", w.wallet.ID.String(),
				"idle_timeout", m.cfg.IdleTimeout.String())
			return
		case _, ok := <-wake:
			if !ok {
				// Push stream closed; keep polling.
				wake = nil
				pushed = false
				continue
			}
			m.logger.Debug("Push event for watched address",
				"wallet_id", w.wallet.ID.String(),
				"strategy", strategyName(pushed))
		case <-ticker.C:
		}

		credited, err := m.scan(ctx, backend, w)
		if err != nil {
			failures++
			m.logger.Warn("Deposit scan failed",
				"wallet_id", w.wallet.ID.String(),
				"chain", w.wallet.Chain,
				"attempt", failures,
				"max_attempts", m.cfg.MaxAttempts,
				"error", err)
			if failures >= m.cfg.MaxAttempts {
				m.logger.Error("Deposit watch retry budget exhausted, stopping",
					"wallet_id", w.wallet.ID.String(),
					"chain", w.wallet.Chain)
				return
			}
			continue
		}
		failures = 0

		// A credited deposit ends the watch; the caller re-requests
		// monitoring if it expects further deposits on this wallet.
		if credited > 0 {
			m.logger.Info("Deposit confirmed, ending watch",
				"wallet_id", w.wallet.ID.String(),
				"chain", w.wallet.Chain,
				"credited", credited)
			return
		}
	}
}

func strategyName(pushed bool) string {
	if pushed {
		return "push"
	}
	return "poll"
}

// scan lists inbound transfers and credits every sufficiently confirmed,
// not-yet-seen one. Returns how many were credited.
func (m *Monitor) scan(ctx context.Context, backend chains.Backend, w *watch) (int, error) {
	transfers, err := backend.ListInbound(ctx, w.wallet.Address)
	if err != nil {
		return 0, err
	}

	credited := 0
	threshold := backend.ConfirmationThreshold()
	for _, t := range transfers {
		if t.Confirmations < threshold {
			continue
		}
		ok, err := m.credit(ctx, w, t)
		if err != nil {
			m.logger.Error("Failed to credit deposit",
				"wallet_id", w.wallet.ID.String(),
				"tx_id", t.TxID,
				"error", err)
			continue
		}
		if ok {
			credited++
		}
	}
	return credited, nil
}

// credit records and credits one confirmed transfer, exactly once. The
// dedup gate is layered: per-watch memory, shared cache, then the
// durable completed-deposit check which is authoritative.
func (m *Monitor) credit(ctx context.Context, w *watch, t entities.InboundTransfer) (bool, error) {
	if _, seen := w.seen[t.TxID]; seen {
		return false, nil
	}

	cacheKey := dedupKey(w.wallet.Chain)
	if m.cache != nil {
		if hit, err := m.cache.SetContains(ctx, cacheKey, t.TxID); err == nil && hit {
			w.seen[t.TxID] = struct{}{}
			return false, nil
		}
	}

	exists, err := m.txStore.ExistsCompletedDeposit(ctx, t.TxID)
	if err != nil {
		return false, err
	}
	if exists {
		w.seen[t.TxID] = struct{}{}
		return false, nil
	}

	now := time.Now().UTC()
	refID := t.TxID
	record := &entities.Transaction{
		ID:          uuid.New(),
		WalletID:    w.wallet.ID,
		UserID:      w.wallet.UserID,
		Chain:       w.wallet.Chain,
		Type:        entities.TransactionTypeDeposit,
		Amount:      t.Amount,
		Fee:         decimal.Zero,
		Status:      entities.TransactionStatusCompleted,
		ReferenceID: &refID,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	}
	if err := m.txStore.Create(ctx, record); err != nil {
		return false, err
	}

	if err := m.balances.CreditBalance(ctx, w.wallet.UserID, w.wallet.Chain, t.Amount); err != nil {
		return false, fmt.Errorf("deposit recorded but balance credit failed for %s: %w", t.TxID, err)
	}

	w.seen[t.TxID] = struct{}{}
	if m.cache != nil {
		if err := m.cache.SetAdd(ctx, cacheKey, t.TxID, dedupKeyTTL); err != nil {
			m.logger.Warn("Failed to mirror deposit into dedup cache", "tx_id", t.TxID, "error", err)
		}
	}

	if m.metrics != nil {
		m.metrics.DepositsCredited.WithLabelValues(string(w.wallet.Chain)).Inc()
	}

	m.logger.Info("Deposit credited",
		"wallet_id", w.wallet.ID.String(),
		"user_id", w.wallet.UserID.String(),
		"chain", w.wallet.Chain,
		"amount", t.Amount.String(),
		"tx_id", t.TxID,
		"confirmations", t.Confirmations)

	if err := m.notifier.NotifyDepositReceived(ctx, w.wallet.UserID, w.wallet.Chain, t.Amount.String(), t.TxID); err != nil {
		m.logger.Warn("Failed to send deposit notification", "tx_id", t.TxID, "error", err)
	}

	return true, nil
}

func dedupKey(chain entities.Chain) string {
	return fmt.Sprintf("deposits:seen:%s", chain)
}
