package adapters

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/crypto"
)

// EncryptedKeyStore loads sealed wallet key material
type EncryptedKeyStore interface {
	GetEncryptedKey(ctx context.Context, walletID uuid.UUID, chain entities.Chain) ([]byte, error)
}

// WalletKeySource decrypts wallet signing material on demand. Plaintext
// is never cached; callers wipe it as soon as the signing operation is done.
type WalletKeySource struct {
	store EncryptedKeyStore
	vault *crypto.KeyVault
}

func NewWalletKeySource(store EncryptedKeyStore, vault *crypto.KeyVault) *WalletKeySource {
	return &WalletKeySource{store: store, vault: vault}
}

// PrivateKey returns the decrypted signing key for a wallet on a chain
func (s *WalletKeySource) PrivateKey(ctx context.Context, walletID uuid.UUID, chain entities.Chain) ([]byte, error) {
	sealed, err := s.store.GetEncryptedKey(ctx, walletID, chain)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet key: %w", err)
	}

	plaintext, err := s.vault.Open(walletID.String(), sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to unseal wallet key: %w", err)
	}
	return plaintext, nil
}
