package monero

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/crypto"
	"github.com/coinrail/custody_service/pkg/logger"
)

// Config holds Monero backend settings
type Config struct {
	ConfirmThreshold uint64
	OpTimeout        time.Duration
}

// DefaultConfig returns the default Monero policy. Six confirmations is
// the customary settlement assurance for proof-of-work XMR.
func DefaultConfig() Config {
	return Config{
		ConfirmThreshold: 6,
		OpTimeout:        5 * time.Minute,
	}
}

// walletJob is one unit of serialized wallet-RPC work
type walletJob struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// Backend executes XMR transfers through monero-wallet-rpc. The wallet RPC
// holds a single stateful session, so all open/use/close cycles go through
// an internal single-worker FIFO queue on top of the engine-level
// serialization the withdrawal queue already provides.
type Backend struct {
	client *Client
	keys   chains.KeySource
	config Config
	logger *logger.Logger

	jobs     chan *walletJob
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewBackend creates the Monero backend and starts its wallet worker
func NewBackend(client *Client, keys chains.KeySource, config Config, log *logger.Logger) *Backend {
	if config.ConfirmThreshold == 0 {
		config = DefaultConfig()
	}
	b := &Backend{
		client:  client,
		keys:    keys,
		config:  config,
		logger:  log,
		jobs:    make(chan *walletJob, 64),
		stopped: make(chan struct{}),
	}
	go b.worker()
	return b
}

// worker drains wallet jobs strictly in FIFO order
func (b *Backend) worker() {
	for {
		select {
		case <-b.stopped:
			return
		case job := <-b.jobs:
			job.done <- job.run(job.ctx)
		}
	}
}

// submit runs fn on the wallet worker and waits for completion
func (b *Backend) submit(ctx context.Context, fn func(ctx context.Context) error) error {
	job := &walletJob{ctx: ctx, run: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopped:
		return fmt.Errorf("monero backend stopped")
	case b.jobs <- job:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-job.done:
		return err
	}
}

// Close stops the wallet worker
func (b *Backend) Close() {
	b.stopOnce.Do(func() { close(b.stopped) })
}

// Chain returns the chain identifier this backend serves
func (b *Backend) Chain() entities.Chain {
	return entities.ChainXMR
}

// ConfirmationThreshold returns the deposit confirmation threshold
func (b *Backend) ConfirmationThreshold() uint64 {
	return b.config.ConfirmThreshold
}

// Ping probes the daemon; an unsynchronized or unreachable node fails closed
func (b *Backend) Ping(ctx context.Context) error {
	info, err := b.client.GetDaemonInfo(ctx)
	if err != nil {
		return &entities.ChainInactiveError{Chain: entities.ChainXMR, Cause: err}
	}
	if !info.Synchronized {
		return &entities.ChainInactiveError{
			Chain: entities.ChainXMR,
			Cause: fmt.Errorf("daemon not synchronized at height %d", info.Height),
		}
	}
	return nil
}

// Transfer opens the custodial wallet, executes the transfer RPC, and closes
// the wallet again. Close is guaranteed regardless of transfer outcome.
// Amounts convert to piconero (1e12 per XMR) with rounding at the atomic unit.
func (b *Backend) Transfer(ctx context.Context, req chains.TransferRequest) (string, error) {
	if err := b.Ping(ctx); err != nil {
		return "", err
	}

	atomicAmount, err := chains.ToAtomicUint(entities.ChainXMR, req.Amount)
	if err != nil {
		return "", &entities.ValidationError{Field: "amount", Reason: err.Error()}
	}

	opCtx, cancel := context.WithTimeout(ctx, b.config.OpTimeout)
	defer cancel()

	var txHash string
	err = b.submit(opCtx, func(ctx context.Context) error {
		password, err := b.keys.PrivateKey(ctx, req.WalletID, entities.ChainXMR)
		if err != nil {
			return &entities.BackendTransferError{Chain: entities.ChainXMR, Op: "key", Cause: err}
		}
		defer crypto.Wipe(password)

		if err := b.client.OpenWallet(ctx, req.WalletID.String(), string(password)); err != nil {
			return &entities.BackendTransferError{Chain: entities.ChainXMR, Op: "open", Cause: err}
		}
		defer func() {
			// Close must run even when the transfer fails; a dangling open
			// wallet blocks every later operation on the session.
			if closeErr := b.client.CloseWallet(context.WithoutCancel(ctx)); closeErr != nil {
				b.logger.Error("Failed to close Monero wallet",
					"wallet_id", req.WalletID.String(),
					"error", closeErr)
			}
		}()

		result, err := b.client.Transfer(ctx, req.Destination, atomicAmount)
		if err != nil {
			return &entities.BackendTransferError{Chain: entities.ChainXMR, Op: "transfer", Cause: err}
		}
		txHash = result.TxHash
		return nil
	})
	if err != nil {
		return "", err
	}

	b.logger.Info("Monero transfer broadcast",
		"transaction_id", req.TransactionID.String(),
		"tx_hash", txHash,
		"piconero", atomicAmount)

	return txHash, nil
}

// ListInbound reports inbound transfers visible to the wallet whose address
// is being monitored. The wallet open/close cycle runs on the worker queue.
func (b *Backend) ListInbound(ctx context.Context, address string) ([]entities.InboundTransfer, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}

	var inbound []entities.InboundTransfer
	err := b.submit(ctx, func(ctx context.Context) error {
		transfers, err := b.client.GetIncomingTransfers(ctx)
		if err != nil {
			return &entities.BackendTransferError{Chain: entities.ChainXMR, Op: "get_transfers", Cause: err}
		}
		for _, t := range transfers {
			if t.Address != "" && t.Address != address {
				continue
			}
			amount, err := chains.FromAtomicUint(entities.ChainXMR, t.Amount)
			if err != nil {
				continue
			}
			inbound = append(inbound, entities.InboundTransfer{
				TxID:          t.TxID,
				Address:       address,
				Amount:        amount,
				Confirmations: t.Confirmations,
				BlockHeight:   t.Height,
				Timestamp:     time.Unix(t.Timestamp, 0),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inbound, nil
}
