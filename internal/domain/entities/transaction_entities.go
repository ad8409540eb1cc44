package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Chain identifies a blockchain family or network
type Chain string

const (
	ChainBTC      Chain = "BTC"
	ChainLTC      Chain = "LTC"
	ChainDOGE     Chain = "DOGE"
	ChainDASH     Chain = "DASH"
	ChainSOL      Chain = "SOL"
	ChainTRON     Chain = "TRON"
	ChainXMR      Chain = "XMR"
	ChainEthereum Chain = "ETH"
	ChainPolygon  Chain = "POLYGON"
	ChainBSC      Chain = "BSC"
)

// ValidChains contains all chains the engine can route to
var ValidChains = map[Chain]bool{
	ChainBTC:      true,
	ChainLTC:      true,
	ChainDOGE:     true,
	ChainDASH:     true,
	ChainSOL:      true,
	ChainTRON:     true,
	ChainXMR:      true,
	ChainEthereum: true,
	ChainPolygon:  true,
	ChainBSC:      true,
}

// IsValid checks whether the chain is a recognized routing target
func (c Chain) IsValid() bool {
	return ValidChains[c]
}

// TransactionType distinguishes inbound and outbound value movement
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
)

// TransactionStatus represents the lifecycle state of a transaction record
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
)

// ValidTransactionTransitions defines the status lattice. Terminal
// states have no successors. PROCESSING may fall back to PENDING only
// through the stale-executor recovery sweep.
var ValidTransactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusPending},
	TransactionStatusCompleted:  {},
	TransactionStatusFailed:     {},
}

// CanTransitionTo checks if a transition to newStatus is allowed
func (s TransactionStatus) CanTransitionTo(newStatus TransactionStatus) bool {
	for _, allowed := range ValidTransactionTransitions[s] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true for COMPLETED and FAILED
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// Transaction is the durable record of a deposit or withdrawal.
// ReferenceID carries the chain-native hash/signature and is set exactly
// when a broadcast occurred; it may be present on a FAILED row when the
// broadcast succeeded but confirmation or bookkeeping later failed.
type Transaction struct {
	ID          uuid.UUID         `json:"id" db:"id"`
	WalletID    uuid.UUID         `json:"wallet_id" db:"wallet_id"`
	UserID      uuid.UUID         `json:"user_id" db:"user_id"`
	Chain       Chain             `json:"chain" db:"chain"`
	Type        TransactionType   `json:"type" db:"type"`
	Amount      decimal.Decimal   `json:"amount" db:"amount"`
	Fee         decimal.Decimal   `json:"fee" db:"fee"`
	Status      TransactionStatus `json:"status" db:"status"`
	ReferenceID *string           `json:"reference_id" db:"reference_id"`
	Destination *string           `json:"destination" db:"destination"`
	Description *string           `json:"description" db:"description"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at" db:"completed_at"`
}

// InboundTransfer is a chain-native transfer observed on a monitored address,
// reported by a chain backend's monitoring surface
type InboundTransfer struct {
	TxID          string
	Address       string
	Amount        decimal.Decimal
	Confirmations uint64
	BlockHeight   uint64
	Timestamp     time.Time
}
