package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/logger"
)

// ProfitStore is the persistence contract for booked fees
type ProfitStore interface {
	Insert(ctx context.Context, entry *entities.ProfitEntry) error
}

// Service books withdrawal fees as platform revenue
type Service struct {
	store  ProfitStore
	logger *logger.Logger
}

func NewService(store ProfitStore, log *logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// RecordProfit books the fee charged on a withdrawal. The fee is
// denominated in the chain's native currency.
func (s *Service) RecordProfit(ctx context.Context, tx *entities.Transaction) error {
	if !tx.Fee.IsPositive() {
		return nil
	}

	entry := &entities.ProfitEntry{
		ID:            uuid.New(),
		TransactionID: tx.ID,
		Chain:         tx.Chain,
		Currency:      string(tx.Chain),
		Amount:        tx.Fee,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		return fmt.Errorf("failed to record profit for transaction %s: %w", tx.ID, err)
	}

	s.logger.Info("Recorded fee revenue",
		"transaction_id", tx.ID.String(),
		"chain", tx.Chain,
		"amount", tx.Fee.String())
	return nil
}
