package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// TransactionRepository handles transaction record persistence
type TransactionRepository struct {
	db *sqlx.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sqlx.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create inserts a new transaction record
func (r *TransactionRepository) Create(ctx context.Context, tx *entities.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, wallet_id, user_id, chain, type, amount, fee, status,
			reference_id, destination, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		tx.ID,
		tx.WalletID,
		tx.UserID,
		tx.Chain,
		tx.Type,
		tx.Amount,
		tx.Fee,
		tx.Status,
		tx.ReferenceID,
		tx.Destination,
		tx.Description,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetByID retrieves a transaction by ID
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	query := `
		SELECT id, wallet_id, user_id, chain, type, amount, fee, status,
			reference_id, destination, description, created_at, updated_at, completed_at
		FROM transactions
		WHERE id = $1
	`

	var tx entities.Transaction
	err := r.db.GetContext(ctx, &tx, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, entities.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	return &tx, nil
}

// ClaimForProcessing atomically transitions a transaction from `from` to `to`.
// Returns ErrAlreadyClaimed when the row is not currently in `from`, which is
// how concurrent executors lose the race without double-executing.
func (r *TransactionRepository) ClaimForProcessing(ctx context.Context, id uuid.UUID, from, to entities.TransactionStatus) error {
	query := `
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return fmt.Errorf("failed to claim transaction: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return entities.ErrAlreadyClaimed
	}

	return nil
}

// SetReferenceID records the chain-native hash/signature once broadcast
func (r *TransactionRepository) SetReferenceID(ctx context.Context, id uuid.UUID, referenceID string) error {
	query := `
		UPDATE transactions
		SET reference_id = $1, updated_at = $2
		WHERE id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, referenceID, time.Now(), id); err != nil {
		return fmt.Errorf("failed to set reference id: %w", err)
	}
	return nil
}

// MarkCompleted sets the terminal COMPLETED state
func (r *TransactionRepository) MarkCompleted(ctx context.Context, id uuid.UUID, referenceID string) error {
	now := time.Now()
	query := `
		UPDATE transactions
		SET status = $1, reference_id = $2, updated_at = $3, completed_at = $4
		WHERE id = $5
	`

	if _, err := r.db.ExecContext(ctx, query, entities.TransactionStatusCompleted, referenceID, now, now, id); err != nil {
		return fmt.Errorf("failed to mark transaction completed: %w", err)
	}
	return nil
}

// MarkFailed sets the terminal FAILED state with a human-readable reason.
// Any reference id recorded at broadcast time is left in place.
func (r *TransactionRepository) MarkFailed(ctx context.Context, id uuid.UUID, description string) error {
	query := `
		UPDATE transactions
		SET status = $1, description = $2, updated_at = $3
		WHERE id = $4
	`

	if _, err := r.db.ExecContext(ctx, query, entities.TransactionStatusFailed, description, time.Now(), id); err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	return nil
}

// ExistsCompletedDeposit reports whether a COMPLETED deposit already exists
// for the given chain-native transaction id. This is the durable half of
// the deposit de-duplication double-check.
func (r *TransactionRepository) ExistsCompletedDeposit(ctx context.Context, referenceID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE reference_id = $1 AND type = $2 AND status = $3
		)
	`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, referenceID, entities.TransactionTypeDeposit, entities.TransactionStatusCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to check deposit existence: %w", err)
	}
	return exists, nil
}

// GetStaleProcessing returns withdrawal rows stuck in PROCESSING since before
// the cutoff, for the recovery sweep
func (r *TransactionRepository) GetStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]*entities.Transaction, error) {
	query := `
		SELECT id, wallet_id, user_id, chain, type, amount, fee, status,
			reference_id, destination, description, created_at, updated_at, completed_at
		FROM transactions
		WHERE type = $1 AND status = $2 AND updated_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`

	var txs []*entities.Transaction
	err := r.db.SelectContext(ctx, &txs, query, entities.TransactionTypeWithdrawal, entities.TransactionStatusProcessing, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale processing transactions: %w", err)
	}
	return txs, nil
}

// ResetToPending returns a stale PROCESSING row to PENDING so the queue can
// re-claim it. Conditional on the row still being PROCESSING.
func (r *TransactionRepository) ResetToPending(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE transactions
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`

	if _, err := r.db.ExecContext(ctx, query, entities.TransactionStatusPending, time.Now(), id, entities.TransactionStatusProcessing); err != nil {
		return fmt.Errorf("failed to reset transaction to pending: %w", err)
	}
	return nil
}
