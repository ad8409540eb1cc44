package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyVault decrypts custodial wallet key material. Each wallet key is sealed
// with AES-GCM under a per-wallet key derived from the master key via HKDF,
// salted with the wallet identifier. Plaintext must not outlive a single
// signing operation; callers zero it with Wipe when done.
type KeyVault struct {
	masterKey []byte
}

// NewKeyVault creates a vault from the master key
func NewKeyVault(masterKey []byte) (*KeyVault, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("master key too short: %d bytes", len(masterKey))
	}
	return &KeyVault{masterKey: masterKey}, nil
}

// deriveKey derives the per-wallet 32-byte AES key
func (v *KeyVault) deriveKey(walletID string) ([]byte, error) {
	r := hkdf.New(sha256.New, v.masterKey, []byte(walletID), []byte("wallet-key-v1"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive wallet key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext key material for the given wallet
func (v *KeyVault) Seal(walletID string, plaintext []byte) ([]byte, error) {
	key, err := v.deriveKey(walletID)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("create nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts sealed wallet key material
func (v *KeyVault) Open(walletID string, ciphertext []byte) ([]byte, error) {
	key, err := v.deriveKey(walletID)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt wallet key: %w", err)
	}
	return plaintext, nil
}

// Wipe overwrites sensitive byte slices
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
