package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// ProfitRepository persists platform fee revenue entries
type ProfitRepository struct {
	db *sqlx.DB
}

func NewProfitRepository(db *sqlx.DB) *ProfitRepository {
	return &ProfitRepository{db: db}
}

// Insert books a profit entry. The unique constraint on transaction_id
// keeps re-processed withdrawals from double-booking the same fee.
func (r *ProfitRepository) Insert(ctx context.Context, entry *entities.ProfitEntry) error {
	query := `
		INSERT INTO admin_profits (id, transaction_id, chain, currency, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transaction_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.TransactionID, entry.Chain, entry.Currency, entry.Amount, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert profit entry: %w", err)
	}
	return nil
}

// TotalByChain sums booked profit per chain for the admin report
func (r *ProfitRepository) TotalByChain(ctx context.Context) (map[entities.Chain]decimal.Decimal, error) {
	query := `SELECT chain, COALESCE(SUM(amount), 0) AS total FROM admin_profits GROUP BY chain`

	rows := []struct {
		Chain entities.Chain  `db:"chain"`
		Total decimal.Decimal `db:"total"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to sum profits: %w", err)
	}

	totals := make(map[entities.Chain]decimal.Decimal, len(rows))
	for _, row := range rows {
		totals[row.Chain] = row.Total
	}
	return totals, nil
}
