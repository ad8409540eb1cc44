package refund

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
)

// BalanceStore credits user balances
type BalanceStore interface {
	CreditBalance(ctx context.Context, userID uuid.UUID, chain entities.Chain, amount decimal.Decimal) error
}

// Service returns the debited amount of a failed withdrawal to the user
type Service struct {
	balances BalanceStore
	logger   *logger.Logger
}

func NewService(balances BalanceStore, log *logger.Logger) *Service {
	return &Service{balances: balances, logger: log}
}

// Refund credits the full withdrawal amount plus fee back to the user's
// balance. The fee is returned because nothing was executed on chain.
func (s *Service) Refund(ctx context.Context, tx *entities.Transaction) error {
	total := tx.Amount.Add(tx.Fee)
	if err := s.balances.CreditBalance(ctx, tx.UserID, tx.Chain, total); err != nil {
		return fmt.Errorf("failed to refund transaction %s: %w", tx.ID, err)
	}

	s.logger.Info("Refunded failed withdrawal",
		"transaction_id", tx.ID.String(),
		"user_id", tx.UserID.String(),
		"chain", tx.Chain,
		"amount", total.String())
	return nil
}
