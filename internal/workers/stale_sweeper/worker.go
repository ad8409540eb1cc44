package stale_sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
)

// TransactionRepository interface for stale transaction recovery
type TransactionRepository interface {
	GetStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Transaction, error)
	ResetToPending(ctx context.Context, id uuid.UUID) error
}

// Enqueuer re-schedules recovered withdrawals
type Enqueuer interface {
	Enqueue(transactionID uuid.UUID)
	InFlight(transactionID uuid.UUID) bool
}

// Worker recovers withdrawals stuck in PROCESSING after a crash. A row
// older than the staleness window whose id is not in the live in-flight
// set belongs to a dead executor; it is reset to PENDING and re-enqueued.
type Worker struct {
	txRepo    TransactionRepository
	queue     Enqueuer
	schedule  string
	staleFor  time.Duration
	batchSize int
	logger    *logger.Logger
	cron      *cron.Cron
	stopCh    chan struct{}
}

// Config holds worker configuration
type Config struct {
	Schedule  string
	StaleFor  time.Duration
	BatchSize int
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		Schedule:  "*/5 * * * *",
		StaleFor:  30 * time.Minute,
		BatchSize: 100,
	}
}

// NewWorker creates a new stale withdrawal sweeper
func NewWorker(txRepo TransactionRepository, queue Enqueuer, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Worker{
		txRepo:    txRepo,
		queue:     queue,
		schedule:  config.Schedule,
		staleFor:  config.StaleFor,
		batchSize: config.BatchSize,
		logger:    logger,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the sweeper on its cron schedule
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting stale withdrawal sweeper",
		"schedule", w.schedule,
		"stale_for", w.staleFor.String())

	_, err := w.cron.AddFunc(w.schedule, func() {
		w.sweep(ctx)
	})
	if err != nil {
		return err
	}

	// Run immediately on start to recover from the previous crash
	w.sweep(ctx)
	w.cron.Start()

	go func() {
		select {
		case <-ctx.Done():
		case <-w.stopCh:
		}
		stopCtx := w.cron.Stop()
		<-stopCtx.Done()
		w.logger.Info("Stale withdrawal sweeper stopped")
	}()

	return nil
}

// Stop stops the worker
func (w *Worker) Stop() {
	close(w.stopCh)
}

// sweep resets abandoned PROCESSING rows and re-enqueues them
func (w *Worker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleFor)

	stale, err := w.txRepo.GetStaleProcessing(ctx, cutoff, w.batchSize)
	if err != nil {
		w.logger.Error("Failed to list stale processing withdrawals", "error", err)
		return
	}
	if len(stale) == 0 {
		w.logger.Debug("No stale processing withdrawals found")
		return
	}

	w.logger.Info("Found stale processing withdrawals", "count", len(stale))

	recovered := 0
	for _, tx := range stale {
		// A live executor still owns this row; leave it alone.
		if w.queue.InFlight(tx.ID) {
			continue
		}

		if err := w.txRepo.ResetToPending(ctx, tx.ID); err != nil {
			w.logger.Error("Failed to reset stale withdrawal",
				"transaction_id", tx.ID.String(),
				"error", err)
			continue
		}

		w.queue.Enqueue(tx.ID)
		recovered++
		w.logger.Info("Recovered stale withdrawal",
			"transaction_id", tx.ID.String(),
			"chain", tx.Chain,
			"stuck_since", tx.UpdatedAt.Format(time.RFC3339))
	}

	if recovered > 0 {
		w.logger.Info("Stale sweep completed", "recovered", recovered)
	}
}
