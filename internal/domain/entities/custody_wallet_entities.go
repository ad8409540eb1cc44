package entities

import (
	"time"

	"github.com/google/uuid"
)

// WalletKind distinguishes custodial wallets the engine may sign for
// from externally-controlled ones it must never touch
type WalletKind string

const (
	WalletKindCustodial WalletKind = "CUSTODIAL"
	WalletKindExternal  WalletKind = "EXTERNAL"
)

// CustodyWallet is a platform-held wallet on a single chain
type CustodyWallet struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	UserID          uuid.UUID  `json:"user_id" db:"user_id"`
	Chain           Chain      `json:"chain" db:"chain"`
	Kind            WalletKind `json:"kind" db:"kind"`
	Address         string     `json:"address" db:"address"`
	EncryptedKey    []byte     `json:"-" db:"encrypted_key"`
	ExpectsDeposits bool       `json:"expects_deposits" db:"expects_deposits"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// MonitoredWallet is the ephemeral in-memory watch entry for a wallet
// with an active deposit subscription. It is not persisted; a restart
// drops all watches and the startup reconciliation re-derives them.
type MonitoredWallet struct {
	WalletID  uuid.UUID `json:"wallet_id"`
	UserID    uuid.UUID `json:"user_id"`
	Chain     Chain     `json:"chain"`
	Address   string    `json:"address"`
	StartedAt time.Time `json:"started_at"`
}
