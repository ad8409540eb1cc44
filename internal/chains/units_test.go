package chains

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

func TestToAtomicUint(t *testing.T) {
	t.Run("converts SOL to lamports", func(t *testing.T) {
		got, err := ToAtomicUint(entities.ChainSOL, decimal.RequireFromString("2.5"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2_500_000_000), got)
	})

	t.Run("converts XMR to piconero", func(t *testing.T) {
		got, err := ToAtomicUint(entities.ChainXMR, decimal.RequireFromString("1"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1_000_000_000_000), got)
	})

	t.Run("converts TRX to sun", func(t *testing.T) {
		got, err := ToAtomicUint(entities.ChainTRON, decimal.RequireFromString("0.000001"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got)
	})

	t.Run("rounds once at the atomic unit", func(t *testing.T) {
		// 9 lamport digits plus one more; half-up rounding at the lamport
		got, err := ToAtomicUint(entities.ChainSOL, decimal.RequireFromString("0.0000000015"))
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got)

		got, err = ToAtomicUint(entities.ChainSOL, decimal.RequireFromString("0.0000000014"))
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got)
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		_, err := ToAtomicUint(entities.ChainSOL, decimal.RequireFromString("-1"))
		assert.Error(t, err)
	})

	t.Run("rejects overflow", func(t *testing.T) {
		_, err := ToAtomicUint(entities.ChainEthereum, decimal.RequireFromString("100000000000000"))
		assert.Error(t, err)
	})

	t.Run("rejects unknown chain", func(t *testing.T) {
		_, err := ToAtomicUint(entities.Chain("XYZ"), decimal.RequireFromString("1"))
		assert.Error(t, err)
	})
}

func TestFromAtomic(t *testing.T) {
	t.Run("round trips lamports", func(t *testing.T) {
		native, err := FromAtomicUint(entities.ChainSOL, 2_500_000_000)
		require.NoError(t, err)
		assert.True(t, native.Equal(decimal.RequireFromString("2.5")), "got %s", native)
	})

	t.Run("converts wei without precision loss", func(t *testing.T) {
		native, err := FromAtomic(entities.ChainEthereum, decimal.RequireFromString("1000000000000000001"))
		require.NoError(t, err)
		assert.Equal(t, "1.000000000000000001", native.String())
	})

	t.Run("converts satoshi", func(t *testing.T) {
		native, err := FromAtomicUint(entities.ChainBTC, 12345)
		require.NoError(t, err)
		assert.True(t, native.Equal(decimal.RequireFromString("0.00012345")))
	})
}
