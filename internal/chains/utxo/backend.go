package utxo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/circuitbreaker"
	"github.com/coinrail/custody_service/pkg/crypto"
	"github.com/coinrail/custody_service/pkg/logger"
)

// Backend executes transfers on a bitcoind-compatible node whose wallet
// custodies the keys. Works for the whole UTXO family (BTC/LTC/DOGE/DASH);
// all four share the 1e8 atomic scale and the same RPC wallet surface.
// Address checksum validation runs only for BTC, where chain params exist.
type Backend struct {
	chain     entities.Chain
	endpoint  string
	rpcUser   string
	rpcPass   string
	client    *http.Client
	keys      chains.KeySource
	threshold uint64
	params    *chaincfg.Params
	breaker   *circuitbreaker.CircuitBreaker
	logger    *logger.Logger
	requestID atomic.Uint64
}

// NewBackend creates a UTXO-family backend for one chain and node
func NewBackend(chain entities.Chain, endpoint, rpcUser, rpcPass string, keys chains.KeySource, confirmThreshold uint64, log *logger.Logger) *Backend {
	if confirmThreshold == 0 {
		confirmThreshold = 3
	}
	b := &Backend{
		chain:     chain,
		endpoint:  endpoint,
		rpcUser:   rpcUser,
		rpcPass:   rpcPass,
		client:    &http.Client{Timeout: 60 * time.Second},
		keys:      keys,
		threshold: confirmThreshold,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             fmt.Sprintf("utxo-rpc-%s", chain),
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 5,
		}),
		logger: log,
	}
	if chain == entities.ChainBTC {
		b.params = &chaincfg.MainNetParams
	}
	return b
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("node RPC error %d: %s", e.Code, e.Message)
}

func (b *Backend) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "1.0",
		"id":      b.requestID.Add(1),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(b.rpcUser, b.rpcPass)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// Chain returns the chain identifier this backend serves
func (b *Backend) Chain() entities.Chain {
	return b.chain
}

// ConfirmationThreshold returns the deposit confirmation threshold
func (b *Backend) ConfirmationThreshold() uint64 {
	return b.threshold
}

// Ping probes chain sync state; a node still downloading blocks fails closed
func (b *Backend) Ping(ctx context.Context) error {
	err := b.breaker.Execute(ctx, func() error {
		var info struct {
			Blocks               uint64 `json:"blocks"`
			Headers              uint64 `json:"headers"`
			InitialBlockDownload bool   `json:"initialblockdownload"`
		}
		if err := b.call(ctx, "getblockchaininfo", nil, &info); err != nil {
			return err
		}
		if info.InitialBlockDownload || info.Blocks+2 < info.Headers {
			return fmt.Errorf("node syncing: %d/%d blocks", info.Blocks, info.Headers)
		}
		return nil
	})
	if err != nil {
		return &entities.ChainInactiveError{Chain: b.chain, Cause: err}
	}
	return nil
}

// Transfer unlocks the node wallet with the per-operation passphrase, sends
// to the destination, and re-locks. The lock is guaranteed even on failure.
func (b *Backend) Transfer(ctx context.Context, req chains.TransferRequest) (string, error) {
	if err := b.Ping(ctx); err != nil {
		return "", err
	}

	if b.params != nil {
		if _, err := btcutil.DecodeAddress(req.Destination, b.params); err != nil {
			return "", &entities.ValidationError{Field: "destination", Reason: err.Error()}
		}
	}

	// btcutil.Amount round-trips the decimal through the satoshi fixed point
	coins, ok := req.Amount.Float64()
	if !ok || req.Amount.IsNegative() {
		return "", &entities.ValidationError{Field: "amount", Reason: "not representable"}
	}
	sats, err := btcutil.NewAmount(coins)
	if err != nil {
		return "", &entities.ValidationError{Field: "amount", Reason: err.Error()}
	}

	passphrase, err := b.keys.PrivateKey(ctx, req.WalletID, b.chain)
	if err != nil {
		return "", &entities.BackendTransferError{Chain: b.chain, Op: "key", Cause: err}
	}
	defer crypto.Wipe(passphrase)

	if err := b.call(ctx, "walletpassphrase", []interface{}{string(passphrase), 60}, nil); err != nil {
		return "", &entities.BackendTransferError{Chain: b.chain, Op: "unlock", Cause: err}
	}
	defer func() {
		if lockErr := b.call(context.WithoutCancel(ctx), "walletlock", nil, nil); lockErr != nil {
			b.logger.Error("Failed to re-lock node wallet", "chain", b.chain, "error", lockErr)
		}
	}()

	var txid string
	err = b.breaker.Execute(ctx, func() error {
		return b.call(ctx, "sendtoaddress", []interface{}{req.Destination, sats.ToBTC()}, &txid)
	})
	if err != nil {
		return "", &entities.BackendTransferError{Chain: b.chain, Op: "broadcast", Cause: err}
	}

	b.logger.Info("UTXO transfer broadcast",
		"chain", b.chain,
		"transaction_id", req.TransactionID.String(),
		"txid", txid,
		"satoshi", int64(sats))

	return txid, nil
}

// ListInbound lists wallet receive entries for the address with their
// confirmation counts
func (b *Backend) ListInbound(ctx context.Context, address string) ([]entities.InboundTransfer, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}

	var entries []struct {
		Address       string  `json:"address"`
		Category      string  `json:"category"`
		Amount        float64 `json:"amount"`
		Confirmations int64   `json:"confirmations"`
		TxID          string  `json:"txid"`
		BlockHeight   uint64  `json:"blockheight"`
		Time          int64   `json:"time"`
	}
	if err := b.call(ctx, "listtransactions", []interface{}{"*", 100}, &entries); err != nil {
		return nil, &entities.BackendTransferError{Chain: b.chain, Op: "history", Cause: err}
	}

	var inbound []entities.InboundTransfer
	for _, e := range entries {
		if e.Category != "receive" || e.Address != address || e.Confirmations < 0 {
			continue
		}
		amt, err := btcutil.NewAmount(e.Amount)
		if err != nil {
			continue
		}
		amount, err := chains.FromAtomic(b.chain, decimal.NewFromInt(int64(amt)))
		if err != nil {
			continue
		}
		inbound = append(inbound, entities.InboundTransfer{
			TxID:          e.TxID,
			Address:       address,
			Amount:        amount,
			Confirmations: uint64(e.Confirmations),
			BlockHeight:   e.BlockHeight,
			Timestamp:     time.Unix(e.Time, 0),
		})
	}
	return inbound, nil
}
