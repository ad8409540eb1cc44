package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/circuitbreaker"
	"github.com/coinrail/custody_service/pkg/crypto"
	"github.com/coinrail/custody_service/pkg/logger"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Backend executes native-coin transfers on an EVM chain through a node
// that custodies the keystore. Signing happens node-side; the backend
// supplies the decrypted account passphrase per operation and never holds
// key material beyond the call.
type Backend struct {
	chain     entities.Chain
	endpoint  string
	client    *http.Client
	keys      chains.KeySource
	threshold uint64
	breaker   *circuitbreaker.CircuitBreaker
	logger    *logger.Logger
	requestID atomic.Uint64
}

// NewBackend creates an EVM backend for one chain and endpoint
func NewBackend(chain entities.Chain, endpoint string, keys chains.KeySource, confirmThreshold uint64, log *logger.Logger) *Backend {
	if confirmThreshold == 0 {
		confirmThreshold = 12
	}
	return &Backend{
		chain:     chain,
		endpoint:  endpoint,
		client:    &http.Client{Timeout: 30 * time.Second},
		keys:      keys,
		threshold: confirmThreshold,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             fmt.Sprintf("evm-rpc-%s", chain),
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 5,
		}),
		logger: log,
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func (b *Backend) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
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
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
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

// Ping probes node readiness; a syncing node fails closed
func (b *Backend) Ping(ctx context.Context) error {
	err := b.breaker.Execute(ctx, func() error {
		var syncing interface{}
		if err := b.call(ctx, "eth_syncing", []interface{}{}, &syncing); err != nil {
			return err
		}
		// eth_syncing returns false when caught up, an object otherwise
		if v, ok := syncing.(bool); !ok || v {
			return fmt.Errorf("node is syncing")
		}
		return nil
	})
	if err != nil {
		return &entities.ChainInactiveError{Chain: b.chain, Cause: err}
	}
	return nil
}

// Transfer sends a native-coin transfer via personal_sendTransaction.
// The node serializes nonces for its own accounts, keeping concurrent
// transfers from distinct coordinators nonce-safe.
func (b *Backend) Transfer(ctx context.Context, req chains.TransferRequest) (string, error) {
	if err := b.Ping(ctx); err != nil {
		return "", err
	}

	if !addressPattern.MatchString(req.Destination) {
		return "", &entities.ValidationError{Field: "destination", Reason: "not a valid EVM address"}
	}

	wei, err := chains.ToAtomic(b.chain, req.Amount)
	if err != nil {
		return "", &entities.ValidationError{Field: "amount", Reason: err.Error()}
	}
	if wei.IsNegative() {
		return "", &entities.ValidationError{Field: "amount", Reason: "negative amount"}
	}

	passphrase, err := b.keys.PrivateKey(ctx, req.WalletID, b.chain)
	if err != nil {
		return "", &entities.BackendTransferError{Chain: b.chain, Op: "key", Cause: err}
	}
	defer crypto.Wipe(passphrase)

	tx := map[string]interface{}{
		"from":  strings.ToLower(req.Source),
		"to":    strings.ToLower(req.Destination),
		"value": "0x" + wei.BigInt().Text(16),
	}

	var txHash string
	err = b.breaker.Execute(ctx, func() error {
		return b.call(ctx, "personal_sendTransaction", []interface{}{tx, string(passphrase)}, &txHash)
	})
	if err != nil {
		return "", &entities.BackendTransferError{Chain: b.chain, Op: "broadcast", Cause: err}
	}
	if txHash == "" {
		return "", &entities.BackendTransferError{Chain: b.chain, Op: "broadcast", Cause: fmt.Errorf("empty transaction hash")}
	}

	b.logger.Info("EVM transfer broadcast",
		"chain", b.chain,
		"transaction_id", req.TransactionID.String(),
		"tx_hash", txHash)

	return txHash, nil
}

// blockScanDepth bounds how far back one poll cycle scans
const blockScanDepth = 40

type rpcBlock struct {
	Number       string `json:"number"`
	Timestamp    string `json:"timestamp"`
	Transactions []struct {
		Hash  string `json:"hash"`
		To    string `json:"to"`
		Value string `json:"value"`
	} `json:"transactions"`
}

// ListInbound scans recent blocks for native transfers to the address.
// The JSON-RPC surface has no per-address history, so each poll walks the
// chain tip backwards within a bounded depth.
func (b *Backend) ListInbound(ctx context.Context, address string) ([]entities.InboundTransfer, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}

	var latestHex string
	if err := b.call(ctx, "eth_blockNumber", []interface{}{}, &latestHex); err != nil {
		return nil, &entities.BackendTransferError{Chain: b.chain, Op: "blockNumber", Cause: err}
	}
	latest, err := hexToUint(latestHex)
	if err != nil {
		return nil, &entities.BackendTransferError{Chain: b.chain, Op: "blockNumber", Cause: err}
	}

	from := uint64(0)
	if latest > blockScanDepth {
		from = latest - blockScanDepth
	}

	wanted := strings.ToLower(address)
	var inbound []entities.InboundTransfer

	for n := from; n <= latest; n++ {
		var block rpcBlock
		params := []interface{}{fmt.Sprintf("0x%x", n), true}
		if err := b.call(ctx, "eth_getBlockByNumber", params, &block); err != nil {
			return nil, &entities.BackendTransferError{Chain: b.chain, Op: "getBlock", Cause: err}
		}
		ts, _ := hexToUint(block.Timestamp)

		for _, tx := range block.Transactions {
			if strings.ToLower(tx.To) != wanted {
				continue
			}
			wei, ok := new(big.Int).SetString(strings.TrimPrefix(tx.Value, "0x"), 16)
			if !ok || wei.Sign() <= 0 {
				continue
			}
			amount, err := chains.FromAtomic(b.chain, decimal.NewFromBigInt(wei, 0))
			if err != nil {
				continue
			}
			inbound = append(inbound, entities.InboundTransfer{
				TxID:          tx.Hash,
				Address:       address,
				Amount:        amount,
				Confirmations: latest - n + 1,
				BlockHeight:   n,
				Timestamp:     time.Unix(int64(ts), 0),
			})
		}
	}

	return inbound, nil
}

func hexToUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex %q: %w", s, err)
	}
	return v, nil
}
