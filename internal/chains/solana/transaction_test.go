package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T, seedByte byte) ([]byte, string) {
	t.Helper()
	seed := bytes.Repeat([]byte{seedByte}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return seed, base58.Encode(pub)
}

func TestDecodePubkey(t *testing.T) {
	t.Run("accepts a valid on-curve key", func(t *testing.T) {
		_, addr := testKeypair(t, 1)
		raw, err := DecodePubkey(addr)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
	})

	t.Run("rejects malformed base58", func(t *testing.T) {
		_, err := DecodePubkey("not-base58-0OIl")
		assert.Error(t, err)
	})

	t.Run("rejects wrong length", func(t *testing.T) {
		_, err := DecodePubkey(base58.Encode([]byte{1, 2, 3}))
		assert.Error(t, err)
	})

	t.Run("rejects non-canonical bytes", func(t *testing.T) {
		// All 0xFF decodes as a reduced field element, not a canonical
		// curve point; it must not pass as an address
		nonCanonical := bytes.Repeat([]byte{0xff}, 32)
		_, err := DecodePubkey(base58.Encode(nonCanonical))
		assert.Error(t, err)
	})
}

func TestBuildTransfer(t *testing.T) {
	fromSeed, fromAddr := testKeypair(t, 1)
	_, toAddr := testKeypair(t, 2)
	blockhash := base58.Encode(bytes.Repeat([]byte{7}, 32))

	t.Run("builds a verifiable signed transaction", func(t *testing.T) {
		tx, sig, err := BuildTransfer(fromSeed, fromAddr, toAddr, 2_500_000_000, blockhash)
		require.NoError(t, err)
		require.NotEmpty(t, tx)

		// One signature, then the message
		assert.Equal(t, byte(1), tx[0])
		sigBytes := tx[1 : 1+signatureLen]
		msg := tx[1+signatureLen:]

		decoded, err := base58.Decode(sig)
		require.NoError(t, err)
		assert.Equal(t, sigBytes, decoded)

		priv := ed25519.NewKeyFromSeed(fromSeed)
		pub := priv.Public().(ed25519.PublicKey)
		assert.True(t, ed25519.Verify(pub, msg, sigBytes))

		// Header: one required signature, one readonly unsigned account
		assert.Equal(t, []byte{1, 0, 1}, msg[0:3])
		// Three account keys: from, to, system program
		assert.Equal(t, byte(3), msg[3])
		fromKey, _ := base58.Decode(fromAddr)
		toKey, _ := base58.Decode(toAddr)
		assert.Equal(t, fromKey, []byte(msg[4:36]))
		assert.Equal(t, toKey, []byte(msg[36:68]))
		assert.Equal(t, systemProgramID, []byte(msg[68:100]))

		// Instruction data carries the transfer index and lamports
		data := msg[len(msg)-12:]
		assert.Equal(t, uint32(systemTransferIndex), binary.LittleEndian.Uint32(data[0:4]))
		assert.Equal(t, uint64(2_500_000_000), binary.LittleEndian.Uint64(data[4:12]))
	})

	t.Run("rejects a key that does not control the source", func(t *testing.T) {
		otherSeed, _ := testKeypair(t, 3)
		_, _, err := BuildTransfer(otherSeed, fromAddr, toAddr, 1, blockhash)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not control source")
	})

	t.Run("rejects a short seed", func(t *testing.T) {
		_, _, err := BuildTransfer([]byte{1, 2, 3}, fromAddr, toAddr, 1, blockhash)
		assert.Error(t, err)
	})

	t.Run("rejects a bad blockhash", func(t *testing.T) {
		_, _, err := BuildTransfer(fromSeed, fromAddr, toAddr, 1, "nope")
		assert.Error(t, err)
	})

	t.Run("rejects a non-canonical destination", func(t *testing.T) {
		nonCanonical := base58.Encode(bytes.Repeat([]byte{0xff}, 32))
		_, _, err := BuildTransfer(fromSeed, fromAddr, nonCanonical, 1, blockhash)
		assert.Error(t, err)
	})
}

func TestAppendCompactU16(t *testing.T) {
	assert.Equal(t, []byte{0}, appendCompactU16(nil, 0))
	assert.Equal(t, []byte{0x7f}, appendCompactU16(nil, 0x7f))
	assert.Equal(t, []byte{0x80, 0x01}, appendCompactU16(nil, 0x80))
	assert.Equal(t, []byte{0xff, 0x01}, appendCompactU16(nil, 0xff))
	assert.Equal(t, []byte{0x80, 0x02}, appendCompactU16(nil, 0x100))
}
