package chains

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// Atomic unit scale per chain family. Persisted ledger amounts are converted
// with decimal fixed-point arithmetic; rounding happens exactly once, at the
// atomic unit, never by float truncation.
//
//	SOL:  1 SOL  = 1e9  lamports
//	XMR:  1 XMR  = 1e12 piconero
//	ETH:  1 ETH  = 1e18 wei
//	BTC:  1 BTC  = 1e8  satoshi (LTC/DOGE/DASH share the scale)
//	TRON: 1 TRX  = 1e6  sun
var atomicScale = map[entities.Chain]int32{
	entities.ChainSOL:      9,
	entities.ChainXMR:      12,
	entities.ChainEthereum: 18,
	entities.ChainPolygon:  18,
	entities.ChainBSC:      18,
	entities.ChainBTC:      8,
	entities.ChainLTC:      8,
	entities.ChainDOGE:     8,
	entities.ChainDASH:     8,
	entities.ChainTRON:     6,
}

// ToAtomic converts a chain-native decimal amount to atomic units,
// rounding half-up at the atomic unit
func ToAtomic(chain entities.Chain, amount decimal.Decimal) (decimal.Decimal, error) {
	scale, ok := atomicScale[chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("no atomic scale for chain %s", chain)
	}
	return amount.Shift(scale).Round(0), nil
}

// ToAtomicUint converts to atomic units as uint64, rejecting negatives
// and values that overflow
func ToAtomicUint(chain entities.Chain, amount decimal.Decimal) (uint64, error) {
	atomic, err := ToAtomic(chain, amount)
	if err != nil {
		return 0, err
	}
	if atomic.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	if !atomic.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows atomic units for %s", amount, chain)
	}
	return atomic.BigInt().Uint64(), nil
}

// FromAtomic converts atomic units back to chain-native decimal
func FromAtomic(chain entities.Chain, atomic decimal.Decimal) (decimal.Decimal, error) {
	scale, ok := atomicScale[chain]
	if !ok {
		return decimal.Zero, fmt.Errorf("no atomic scale for chain %s", chain)
	}
	return atomic.Shift(-scale), nil
}

// FromAtomicUint converts a uint64 atomic amount to chain-native decimal
func FromAtomicUint(chain entities.Chain, atomic uint64) (decimal.Decimal, error) {
	return FromAtomic(chain, decimal.NewFromUint64(atomic))
}
