package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// CustodyWalletRepository handles custodial wallet persistence,
// including encrypted key material and user balances
type CustodyWalletRepository struct {
	db *sqlx.DB
}

// NewCustodyWalletRepository creates a new custody wallet repository
func NewCustodyWalletRepository(db *sqlx.DB) *CustodyWalletRepository {
	return &CustodyWalletRepository{db: db}
}

// GetByID retrieves a wallet by ID
func (r *CustodyWalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.CustodyWallet, error) {
	query := `
		SELECT id, user_id, chain, kind, address, encrypted_key, expects_deposits, created_at, updated_at
		FROM custody_wallets
		WHERE id = $1
	`

	var wallet entities.CustodyWallet
	err := r.db.GetContext(ctx, &wallet, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, entities.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	return &wallet, nil
}

// GetEncryptedKey fetches the sealed key bytes for a wallet on a chain.
// Callers decrypt per operation and must not cache the plaintext.
func (r *CustodyWalletRepository) GetEncryptedKey(ctx context.Context, walletID uuid.UUID, chain entities.Chain) ([]byte, error) {
	query := `
		SELECT encrypted_key FROM custody_wallets
		WHERE id = $1 AND chain = $2
	`

	var key []byte
	err := r.db.GetContext(ctx, &key, query, walletID, chain)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, entities.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get encrypted key: %w", err)
	}

	return key, nil
}

// GetExpectingDeposits returns custodial wallets flagged as expecting inbound
// transfers, used by the startup reconciliation to re-derive deposit watches
func (r *CustodyWalletRepository) GetExpectingDeposits(ctx context.Context) ([]*entities.CustodyWallet, error) {
	query := `
		SELECT id, user_id, chain, kind, address, encrypted_key, expects_deposits, created_at, updated_at
		FROM custody_wallets
		WHERE kind = $1 AND expects_deposits = true
	`

	var wallets []*entities.CustodyWallet
	err := r.db.SelectContext(ctx, &wallets, query, entities.WalletKindCustodial)
	if err != nil {
		return nil, fmt.Errorf("failed to get wallets expecting deposits: %w", err)
	}
	return wallets, nil
}

// CreditBalance credits a user's platform balance for a chain asset.
// Used by the refund path and by deposit crediting.
func (r *CustodyWalletRepository) CreditBalance(ctx context.Context, userID uuid.UUID, chain entities.Chain, amount decimal.Decimal) error {
	query := `
		INSERT INTO balances (user_id, chain, available, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, chain)
		DO UPDATE SET available = balances.available + EXCLUDED.available, updated_at = EXCLUDED.updated_at
	`

	if _, err := r.db.ExecContext(ctx, query, userID, chain, amount, time.Now()); err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}
	return nil
}
