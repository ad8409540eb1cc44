package stale_sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
)

type fakeTxRepo struct {
	mu    sync.Mutex
	stale []*entities.Transaction
	reset []uuid.UUID
}

func (r *fakeTxRepo) GetStaleProcessing(_ context.Context, _ time.Time, _ int) ([]*entities.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stale, nil
}

func (r *fakeTxRepo) ResetToPending(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset = append(r.reset, id)
	return nil
}

type fakeQueue struct {
	mu       sync.Mutex
	inflight map[uuid.UUID]bool
	enqueued []uuid.UUID
}

func (q *fakeQueue) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, id)
}

func (q *fakeQueue) InFlight(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight[id]
}

func staleTx() *entities.Transaction {
	return &entities.Transaction{
		ID:        uuid.New(),
		Chain:     entities.ChainSOL,
		Type:      entities.TransactionTypeWithdrawal,
		Status:    entities.TransactionStatusProcessing,
		UpdatedAt: time.Now().Add(-time.Hour),
	}
}

func TestSweepRecoversAbandonedWithdrawals(t *testing.T) {
	abandoned := staleTx()
	owned := staleTx()

	repo := &fakeTxRepo{stale: []*entities.Transaction{abandoned, owned}}
	queue := &fakeQueue{inflight: map[uuid.UUID]bool{owned.ID: true}}

	w := NewWorker(repo, queue, DefaultConfig(), logger.NewNop())
	w.sweep(context.Background())

	// Only the row no live executor owns is reset and re-enqueued
	assert.Equal(t, []uuid.UUID{abandoned.ID}, repo.reset)
	assert.Equal(t, []uuid.UUID{abandoned.ID}, queue.enqueued)
}

func TestSweepNoStaleRows(t *testing.T) {
	repo := &fakeTxRepo{}
	queue := &fakeQueue{inflight: map[uuid.UUID]bool{}}

	w := NewWorker(repo, queue, nil, logger.NewNop())
	w.sweep(context.Background())

	assert.Empty(t, repo.reset)
	assert.Empty(t, queue.enqueued)
}
