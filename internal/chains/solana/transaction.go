package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// systemProgramID is the native system program (base58: 11111111111111111111111111111111)
var systemProgramID = make([]byte, 32)

const (
	pubkeyLen    = 32
	signatureLen = 64

	// system program instruction index for a native transfer
	systemTransferIndex = 2
)

// DecodePubkey decodes a base58 address and checks it is a valid
// ed25519 curve point. Off-curve destinations are rejected before any
// transaction is built.
func DecodePubkey(address string) ([]byte, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if len(raw) != pubkeyLen {
		return nil, fmt.Errorf("address must be %d bytes, got %d", pubkeyLen, len(raw))
	}
	point, err := new(edwards25519.Point).SetBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("address is not on the ed25519 curve: %w", err)
	}
	// SetBytes reduces some out-of-range encodings instead of rejecting
	// them; a canonical encoding round-trips unchanged.
	if !bytes.Equal(point.Bytes(), raw) {
		return nil, fmt.Errorf("address is not a canonical ed25519 encoding")
	}
	return raw, nil
}

// appendCompactU16 appends a shortvec-encoded length
func appendCompactU16(buf []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(buf, byte(n))
		}
		buf = append(buf, byte(n&0x7f)|0x80)
		n >>= 7
	}
}

// BuildTransfer serializes and signs a native lamport transfer, returning
// the wire transaction bytes and the base58 signature. The private key is
// the 32-byte ed25519 seed of the custodial wallet.
func BuildTransfer(privateSeed []byte, from, to string, lamports uint64, recentBlockhash string) ([]byte, string, error) {
	if len(privateSeed) != ed25519.SeedSize {
		return nil, "", fmt.Errorf("private key seed must be %d bytes", ed25519.SeedSize)
	}

	fromKey, err := DecodePubkey(from)
	if err != nil {
		return nil, "", fmt.Errorf("source: %w", err)
	}
	toKey, err := DecodePubkey(to)
	if err != nil {
		return nil, "", fmt.Errorf("destination: %w", err)
	}
	blockhash, err := base58.Decode(recentBlockhash)
	if err != nil || len(blockhash) != pubkeyLen {
		return nil, "", fmt.Errorf("invalid recent blockhash %q", recentBlockhash)
	}

	priv := ed25519.NewKeyFromSeed(privateSeed)
	pub := priv.Public().(ed25519.PublicKey)
	if !bytes.Equal(pub, fromKey) {
		return nil, "", fmt.Errorf("wallet key does not control source address %s", from)
	}

	// Instruction data: u32 LE index, u64 LE lamports
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	// Message: header | account keys | blockhash | instructions.
	// Accounts: from (signer, writable), to (writable), system program (readonly).
	var msg []byte
	msg = append(msg, 1, 0, 1)
	msg = appendCompactU16(msg, 3)
	msg = append(msg, fromKey...)
	msg = append(msg, toKey...)
	msg = append(msg, systemProgramID...)
	msg = append(msg, blockhash...)
	msg = appendCompactU16(msg, 1)
	msg = append(msg, 2)            // program id index
	msg = appendCompactU16(msg, 2)  // account index count
	msg = append(msg, 0, 1)         // from, to
	msg = appendCompactU16(msg, len(data))
	msg = append(msg, data...)

	sig := ed25519.Sign(priv, msg)

	// Transaction: compact array of signatures, then the message
	var tx []byte
	tx = appendCompactU16(tx, 1)
	tx = append(tx, sig...)
	tx = append(tx, msg...)

	return tx, base58.Encode(sig), nil
}
