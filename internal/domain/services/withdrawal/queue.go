package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
	"github.com/coinrail/custody_service/pkg/metrics"
)

// TransactionRepository is the durable transaction store contract
type TransactionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)
	ClaimForProcessing(ctx context.Context, id uuid.UUID, from, to entities.TransactionStatus) error
	SetReferenceID(ctx context.Context, id uuid.UUID, referenceID string) error
	MarkCompleted(ctx context.Context, id uuid.UUID, referenceID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, description string) error
}

// WalletRepository loads custodial wallets for routing and kind checks
type WalletRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entities.CustodyWallet, error)
}

// Refunder credits a failed withdrawal's amount back to the user balance
type Refunder interface {
	Refund(ctx context.Context, tx *entities.Transaction) error
}

// Notifier delivers the one-per-terminal-outcome user notification
type Notifier interface {
	NotifyWithdrawalCompleted(ctx context.Context, userID uuid.UUID, amount, destination string) error
	NotifyWithdrawalFailed(ctx context.Context, userID uuid.UUID, amount, reason string) error
}

// ProfitLedger books platform fee revenue
type ProfitLedger interface {
	RecordProfit(ctx context.Context, tx *entities.Transaction) error
}

// Queue is the single-flight withdrawal coordinator. Exactly one instance
// per process owns the in-flight set and the serialization of execution;
// it is constructed explicitly and injected wherever enqueueing happens.
type Queue struct {
	txRepo     TransactionRepository
	walletRepo WalletRepository
	backends   *chains.Registry
	refunder   Refunder
	notifier   Notifier
	profits    ProfitLedger
	logger     *logger.Logger
	metrics    *metrics.Metrics

	mu       sync.Mutex
	pending  []uuid.UUID
	inflight map[uuid.UUID]struct{}
	draining bool

	baseCtx context.Context
	started bool

	processedCounter metric.Int64Counter
	durationHist     metric.Float64Histogram
}

// NewQueue creates the withdrawal coordinator
func NewQueue(
	txRepo TransactionRepository,
	walletRepo WalletRepository,
	backends *chains.Registry,
	refunder Refunder,
	notifier Notifier,
	profits ProfitLedger,
	log *logger.Logger,
	m *metrics.Metrics,
) *Queue {
	meter := otel.Meter("withdrawal-queue")
	processedCounter, _ := meter.Int64Counter(
		"withdrawal.processed.total",
		metric.WithDescription("Withdrawals driven to a terminal state"),
	)
	durationHist, _ := meter.Float64Histogram(
		"withdrawal.duration.seconds",
		metric.WithDescription("Wall-clock processing time per withdrawal"),
	)

	return &Queue{
		txRepo:           txRepo,
		walletRepo:       walletRepo,
		backends:         backends,
		refunder:         refunder,
		notifier:         notifier,
		profits:          profits,
		logger:           log,
		metrics:          m,
		inflight:         make(map[uuid.UUID]struct{}),
		processedCounter: processedCounter,
		durationHist:     durationHist,
	}
}

// Start binds the queue to its processing context. Enqueue calls before
// Start are rejected.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.baseCtx = ctx
	q.started = true
}

// Enqueue schedules a withdrawal for processing. Fire-and-forget and
// idempotent: an id already queued or in flight is a no-op. Processing
// errors never propagate to the caller.
func (q *Queue) Enqueue(transactionID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.started {
		q.logger.Error("Enqueue before Start, dropping", "transaction_id", transactionID.String())
		return
	}
	if _, exists := q.inflight[transactionID]; exists {
		q.logger.Debug("Withdrawal already queued or in flight", "transaction_id", transactionID.String())
		return
	}

	q.inflight[transactionID] = struct{}{}
	q.pending = append(q.pending, transactionID)
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.pending)))
	}

	// Single drain goroutine at a time; it keeps popping until the
	// pending list is empty (continuation, not recursion).
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

// InFlight reports whether an id is queued or executing, for tests and
// the recovery sweep
func (q *Queue) InFlight(transactionID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inflight[transactionID]
	return ok
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || q.baseCtx.Err() != nil {
			q.draining = false
			q.mu.Unlock()
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]
		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(len(q.pending)))
		}
		q.mu.Unlock()

		q.process(q.baseCtx, id)

		q.mu.Lock()
		delete(q.inflight, id)
		q.mu.Unlock()
	}
}

// process drives one withdrawal to a terminal state. All backend errors
// are absorbed here; nothing propagates past the queue boundary.
func (q *Queue) process(ctx context.Context, id uuid.UUID) {
	start := time.Now()

	tx, err := q.txRepo.GetByID(ctx, id)
	if err != nil {
		// Nothing was debited for a record we cannot load; abandon without refund.
		q.logger.Error("Failed to load withdrawal, abandoning", "transaction_id", id.String(), "error", err)
		return
	}
	if tx.Type != entities.TransactionTypeWithdrawal {
		q.logger.Error("Transaction is not a withdrawal, abandoning", "transaction_id", id.String(), "type", tx.Type)
		return
	}

	wallet, err := q.walletRepo.GetByID(ctx, tx.WalletID)
	if err != nil {
		q.logger.Error("Failed to load wallet, abandoning", "transaction_id", id.String(), "error", err)
		return
	}
	if wallet.Kind != entities.WalletKindCustodial {
		q.logger.Error("Wallet is not custodial, abandoning",
			"transaction_id", id.String(),
			"wallet_id", wallet.ID.String())
		return
	}

	// Conditional claim is what makes execution at-most-once: a replayed
	// or concurrently enqueued id loses this update and is dropped here.
	if err := q.txRepo.ClaimForProcessing(ctx, id, entities.TransactionStatusPending, entities.TransactionStatusProcessing); err != nil {
		if errors.Is(err, entities.ErrAlreadyClaimed) {
			q.logger.Debug("Withdrawal already claimed elsewhere", "transaction_id", id.String())
			return
		}
		q.logger.Error("Failed to claim withdrawal", "transaction_id", id.String(), "error", err)
		return
	}

	refID, err := q.execute(ctx, tx, wallet)
	elapsed := time.Since(start)
	q.durationHist.Record(ctx, elapsed.Seconds())

	if err != nil {
		q.fail(ctx, tx, refID, err)
		q.processedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("chain", string(tx.Chain)),
			attribute.String("result", "failed"),
		))
		if q.metrics != nil {
			q.metrics.TransfersTotal.WithLabelValues(string(tx.Chain), "failed").Inc()
			q.metrics.TransferDuration.Observe(elapsed.Seconds())
		}
		return
	}

	q.complete(ctx, tx, refID)
	q.processedCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("chain", string(tx.Chain)),
		attribute.String("result", "completed"),
	))
	if q.metrics != nil {
		q.metrics.TransfersTotal.WithLabelValues(string(tx.Chain), "completed").Inc()
		q.metrics.TransferDuration.Observe(elapsed.Seconds())
	}
}

// execute validates routing metadata and runs the chain transfer.
// Returns the chain reference id when a broadcast happened, even on error.
func (q *Queue) execute(ctx context.Context, tx *entities.Transaction, wallet *entities.CustodyWallet) (string, error) {
	if !tx.Chain.IsValid() {
		return "", &entities.ValidationError{Field: "chain", Reason: fmt.Sprintf("unrecognized chain %q", tx.Chain)}
	}
	if tx.Destination == nil || *tx.Destination == "" {
		return "", &entities.ValidationError{Field: "destination", Reason: "missing destination address"}
	}
	if tx.Amount.IsZero() || tx.Amount.IsNegative() {
		return "", &entities.ValidationError{Field: "amount", Reason: "amount must be positive"}
	}

	backend, err := q.backends.Lookup(tx.Chain)
	if err != nil {
		return "", err
	}

	q.logger.Info("Dispatching withdrawal",
		"transaction_id", tx.ID.String(),
		"chain", tx.Chain,
		"amount", tx.Amount.String(),
		"destination", *tx.Destination)

	refID, err := backend.Transfer(ctx, chains.TransferRequest{
		TransactionID: tx.ID,
		WalletID:      wallet.ID,
		Source:        wallet.Address,
		Destination:   *tx.Destination,
		Amount:        tx.Amount,
	})

	// Persist the reference id as soon as a broadcast happened, success
	// or not, so the hash survives on a later-FAILED record.
	if refID != "" {
		if setErr := q.txRepo.SetReferenceID(ctx, tx.ID, refID); setErr != nil {
			q.logger.Error("Failed to persist reference id",
				"transaction_id", tx.ID.String(),
				"reference_id", refID,
				"error", setErr)
		}
	}

	return refID, err
}

// complete finalizes a successful withdrawal: terminal status, one user
// notification, and a profit entry when a fee was charged
func (q *Queue) complete(ctx context.Context, tx *entities.Transaction, refID string) {
	if err := q.txRepo.MarkCompleted(ctx, tx.ID, refID); err != nil {
		q.logger.Error("Failed to mark withdrawal completed",
			"transaction_id", tx.ID.String(),
			"reference_id", refID,
			"error", err)
		return
	}

	q.logger.Info("Withdrawal completed",
		"transaction_id", tx.ID.String(),
		"chain", tx.Chain,
		"reference_id", refID)

	dest := ""
	if tx.Destination != nil {
		dest = *tx.Destination
	}
	if err := q.notifier.NotifyWithdrawalCompleted(ctx, tx.UserID, tx.Amount.String(), dest); err != nil {
		q.logger.Warn("Failed to send completion notification", "transaction_id", tx.ID.String(), "error", err)
	}

	if tx.Fee.IsPositive() {
		if err := q.profits.RecordProfit(ctx, tx); err != nil {
			q.logger.Error("Failed to record profit entry",
				"transaction_id", tx.ID.String(),
				"fee", tx.Fee.String(),
				"error", err)
		}
	}
}

// fail finalizes a failed withdrawal: terminal status with reason, a
// best-effort refund, and one user notification. A refund failure is a
// monitored anomaly; it never reverts the FAILED status or re-queues.
func (q *Queue) fail(ctx context.Context, tx *entities.Transaction, refID string, cause error) {
	reason := cause.Error()
	q.logger.Error("Withdrawal failed",
		"transaction_id", tx.ID.String(),
		"chain", tx.Chain,
		"reference_id", refID,
		"error", reason)

	if err := q.txRepo.MarkFailed(ctx, tx.ID, reason); err != nil {
		q.logger.Error("Failed to mark withdrawal failed", "transaction_id", tx.ID.String(), "error", err)
	}

	if err := q.refunder.Refund(ctx, tx); err != nil {
		q.logger.Error("Refund failed, manual intervention required",
			"transaction_id", tx.ID.String(),
			"user_id", tx.UserID.String(),
			"amount", tx.Amount.String(),
			"error", err)
		if q.metrics != nil {
			q.metrics.RefundFailures.Inc()
		}
	} else if q.metrics != nil {
		q.metrics.RefundsTotal.Inc()
	}

	if err := q.notifier.NotifyWithdrawalFailed(ctx, tx.UserID, tx.Amount.String(), reason); err != nil {
		q.logger.Warn("Failed to send failure notification", "transaction_id", tx.ID.String(), "error", err)
	}
}
