package chains

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/domain/entities"
)

// TransferRequest carries everything a backend needs to execute a withdrawal
type TransferRequest struct {
	TransactionID uuid.UUID
	WalletID      uuid.UUID
	Source        string
	Destination   string
	Amount        decimal.Decimal
}

// KeySource yields decrypted custodial key material for a wallet.
// Implementations decrypt per call; callers wipe the bytes after signing.
type KeySource interface {
	PrivateKey(ctx context.Context, walletID uuid.UUID, chain entities.Chain) ([]byte, error)
}

// Backend is the uniform capability contract a chain family implements.
// Transfer executes an outbound withdrawal and returns the chain-native
// reference id once broadcast. ListInbound reports transfers received by
// an address so deposit monitoring can filter by confirmation count.
// Ping is the liveness probe; every operation must fail closed with a
// ChainInactiveError when the underlying node is not ready.
type Backend interface {
	Chain() entities.Chain
	Ping(ctx context.Context) error
	Transfer(ctx context.Context, req TransferRequest) (string, error)
	ListInbound(ctx context.Context, address string) ([]entities.InboundTransfer, error)
	ConfirmationThreshold() uint64
}

// Registry is a lookup table of backends keyed by chain identifier
type Registry struct {
	backends map[entities.Chain]Backend
}

// NewRegistry builds a registry from the given backends. A backend may serve
// several chains (UTXO family); register it once per chain.
func NewRegistry(backends ...Backend) *Registry {
	m := make(map[entities.Chain]Backend, len(backends))
	for _, b := range backends {
		m[b.Chain()] = b
	}
	return &Registry{backends: m}
}

// Lookup returns the backend for a chain, or a ValidationError when the
// chain is not a recognized routing target
func (r *Registry) Lookup(chain entities.Chain) (Backend, error) {
	b, ok := r.backends[chain]
	if !ok {
		return nil, &entities.ValidationError{Field: "chain", Reason: "no backend registered for " + string(chain)}
	}
	return b, nil
}

// Chains returns the registered chain identifiers
func (r *Registry) Chains() []entities.Chain {
	out := make([]entities.Chain, 0, len(r.backends))
	for c := range r.backends {
		out = append(out, c)
	}
	return out
}
