package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/circuitbreaker"
	"github.com/coinrail/custody_service/pkg/crypto"
	"github.com/coinrail/custody_service/pkg/logger"
	"github.com/coinrail/custody_service/pkg/retry"
)

// Config holds Solana backend settings
type Config struct {
	ConfirmAttempts int
	ConfirmInterval time.Duration
}

// DefaultConfig returns the default confirmation policy
func DefaultConfig() Config {
	return Config{
		ConfirmAttempts: 10,
		ConfirmInterval: 3 * time.Second,
	}
}

// Backend executes native SOL transfers and reports inbound lamport
// movement on monitored addresses
type Backend struct {
	client  *Client
	keys    chains.KeySource
	config  Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewBackend creates the Solana backend
func NewBackend(client *Client, keys chains.KeySource, config Config, log *logger.Logger) *Backend {
	if config.ConfirmAttempts == 0 {
		config = DefaultConfig()
	}
	return &Backend{
		client: client,
		keys:   keys,
		config: config,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "solana-rpc",
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 5,
		}),
		logger: log,
	}
}

// Chain returns the chain identifier this backend serves
func (b *Backend) Chain() entities.Chain {
	return entities.ChainSOL
}

// ConfirmationThreshold returns the minimum confirmations for deposits.
// Finalized commitment on Solana subsumes a block-count threshold.
func (b *Backend) ConfirmationThreshold() uint64 {
	return 1
}

// Ping probes node readiness; failures surface as ChainInactiveError
func (b *Backend) Ping(ctx context.Context) error {
	err := b.breaker.Execute(ctx, func() error {
		return b.client.GetHealth(ctx)
	})
	if err != nil {
		return &entities.ChainInactiveError{Chain: entities.ChainSOL, Cause: err}
	}
	return nil
}

// Transfer builds, signs, and submits a native transfer, then drives it to a
// confirmed state. A confirmation-wait timeout is not treated as failure:
// final on-chain state is re-queried and decides the outcome.
func (b *Backend) Transfer(ctx context.Context, req chains.TransferRequest) (string, error) {
	if err := b.Ping(ctx); err != nil {
		return "", err
	}

	lamports, err := chains.ToAtomicUint(entities.ChainSOL, req.Amount)
	if err != nil {
		return "", &entities.ValidationError{Field: "amount", Reason: err.Error()}
	}

	var blockhash string
	err = b.breaker.Execute(ctx, func() error {
		var bhErr error
		blockhash, bhErr = b.client.GetLatestBlockhash(ctx)
		return bhErr
	})
	if err != nil {
		return "", &entities.BackendTransferError{Chain: entities.ChainSOL, Op: "blockhash", Cause: err}
	}

	seed, err := b.keys.PrivateKey(ctx, req.WalletID, entities.ChainSOL)
	if err != nil {
		return "", &entities.BackendTransferError{Chain: entities.ChainSOL, Op: "key", Cause: err}
	}
	txBytes, signature, err := BuildTransfer(seed, req.Source, req.Destination, lamports, blockhash)
	crypto.Wipe(seed)
	if err != nil {
		return "", &entities.BackendTransferError{Chain: entities.ChainSOL, Op: "sign", Cause: err}
	}

	var sentSig string
	err = b.breaker.Execute(ctx, func() error {
		var sendErr error
		sentSig, sendErr = b.client.SendTransaction(ctx, base64.StdEncoding.EncodeToString(txBytes))
		return sendErr
	})
	if err != nil {
		return "", &entities.BackendTransferError{Chain: entities.ChainSOL, Op: "broadcast", Cause: err}
	}
	if sentSig == "" {
		sentSig = signature
	}

	b.logger.Info("Solana transfer broadcast",
		"transaction_id", req.TransactionID.String(),
		"signature", sentSig,
		"lamports", lamports)

	if err := b.awaitConfirmation(ctx, sentSig); err != nil {
		// Broadcast succeeded; the reference id travels with the error so
		// the caller can persist it on the failed record.
		return sentSig, err
	}

	return sentSig, nil
}

// awaitConfirmation polls signature status with a bounded retry budget and
// resolves the terminal outcome from on-chain state, not from the wait itself
func (b *Backend) awaitConfirmation(ctx context.Context, signature string) error {
	retrier := retry.NewRetrier(retry.FixedPolicy(b.config.ConfirmAttempts-1, b.config.ConfirmInterval))

	waitErr := retrier.Do(ctx, func() error {
		status, err := b.client.GetSignatureStatus(ctx, signature)
		if err != nil {
			return err
		}
		if status == nil {
			return fmt.Errorf("signature %s not yet observed", signature)
		}
		if status.Err != nil {
			// Terminal on-chain failure, no point retrying
			return nil
		}
		if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
			return nil
		}
		return fmt.Errorf("signature %s still processing", signature)
	})

	// The wait outcome is advisory only. Re-query final state directly and
	// let it decide success or failure.
	status, err := b.client.GetSignatureStatus(ctx, signature)
	if err != nil {
		return &entities.BackendTransferError{Chain: entities.ChainSOL, Op: "status", Cause: err}
	}
	if status == nil {
		if waitErr != nil {
			return &entities.ConfirmationTimeoutError{
				Chain:       entities.ChainSOL,
				ReferenceID: signature,
				Attempts:    b.config.ConfirmAttempts,
			}
		}
		return &entities.BackendTransferError{
			Chain: entities.ChainSOL,
			Op:    "confirm",
			Cause: fmt.Errorf("transaction %s vanished after confirmation wait", signature),
		}
	}
	if status.Err != nil {
		return &entities.BackendTransferError{
			Chain: entities.ChainSOL,
			Op:    "execute",
			Cause: fmt.Errorf("transaction %s failed on chain: %v", signature, status.Err),
		}
	}
	if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
		return nil
	}

	return &entities.ConfirmationTimeoutError{
		Chain:       entities.ChainSOL,
		ReferenceID: signature,
		Attempts:    b.config.ConfirmAttempts,
	}
}

// ListInbound reports recent inbound lamport transfers to the address
func (b *Backend) ListInbound(ctx context.Context, address string) ([]entities.InboundTransfer, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}

	sigs, err := b.client.GetSignaturesForAddress(ctx, address, 50)
	if err != nil {
		return nil, &entities.BackendTransferError{Chain: entities.ChainSOL, Op: "signatures", Cause: err}
	}

	var inbound []entities.InboundTransfer
	for _, sig := range sigs {
		if sig.Err != nil {
			continue
		}
		detail, err := b.client.GetTransaction(ctx, sig.Signature)
		if err != nil {
			b.logger.Warn("Failed to fetch transaction detail", "signature", sig.Signature, "error", err)
			continue
		}
		if detail == nil || detail.Err != nil {
			continue
		}

		delta := inboundLamports(detail, address)
		if delta == 0 {
			continue
		}

		amount, err := chains.FromAtomicUint(entities.ChainSOL, delta)
		if err != nil {
			continue
		}

		transfer := entities.InboundTransfer{
			TxID:          sig.Signature,
			Address:       address,
			Amount:        amount,
			Confirmations: 1, // finalized history entries are settled
			BlockHeight:   detail.Slot,
		}
		if detail.BlockTime != nil {
			transfer.Timestamp = time.Unix(*detail.BlockTime, 0)
		}
		inbound = append(inbound, transfer)
	}

	return inbound, nil
}

// inboundLamports computes the positive lamport delta for the address
func inboundLamports(detail *TransactionDetail, address string) uint64 {
	for i, key := range detail.AccountKeys {
		if key != address {
			continue
		}
		if i < len(detail.PreBalances) && i < len(detail.PostBalances) {
			if detail.PostBalances[i] > detail.PreBalances[i] {
				return detail.PostBalances[i] - detail.PreBalances[i]
			}
		}
	}
	return 0
}
