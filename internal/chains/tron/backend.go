package tron

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coinrail/custody_service/internal/chains"
	"github.com/coinrail/custody_service/internal/domain/entities"
	"github.com/coinrail/custody_service/pkg/circuitbreaker"
	"github.com/coinrail/custody_service/pkg/crypto"
	"github.com/coinrail/custody_service/pkg/logger"
)

// Backend executes TRX transfers through a full node's HTTP wallet API.
// The node performs signing from the per-operation private key; the key
// bytes are wiped as soon as the call returns.
type Backend struct {
	endpoint string
	client   *http.Client
	keys     chains.KeySource
	breaker  *circuitbreaker.CircuitBreaker
	logger   *logger.Logger
}

// NewBackend creates the Tron backend
func NewBackend(endpoint string, keys chains.KeySource, log *logger.Logger) *Backend {
	return &Backend{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		keys:     keys,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "tron-api",
			MaxRequests:      5,
			Interval:         60 * time.Second,
			Timeout:          60 * time.Second,
			FailureThreshold: 5,
		}),
		logger: log,
	}
}

func (b *Backend) post(ctx context.Context, path string, payload, result interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+path, bytes.NewReader(body))
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
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Chain returns the chain identifier this backend serves
func (b *Backend) Chain() entities.Chain {
	return entities.ChainTRON
}

// ConfirmationThreshold returns the deposit confirmation threshold.
// Tron blocks settle quickly; 19 solidified blocks is the network norm.
func (b *Backend) ConfirmationThreshold() uint64 {
	return 19
}

// Ping probes the node's current block; no block means no routing
func (b *Backend) Ping(ctx context.Context) error {
	err := b.breaker.Execute(ctx, func() error {
		var result struct {
			BlockHeader *struct {
				RawData struct {
					Number uint64 `json:"number"`
				} `json:"raw_data"`
			} `json:"block_header"`
		}
		if err := b.post(ctx, "/wallet/getnowblock", map[string]interface{}{}, &result); err != nil {
			return err
		}
		if result.BlockHeader == nil {
			return fmt.Errorf("node returned no block header")
		}
		return nil
	})
	if err != nil {
		return &entities.ChainInactiveError{Chain: entities.ChainTRON, Cause: err}
	}
	return nil
}

// Transfer sends TRX via the node's easy-transfer API, amounts in sun
func (b *Backend) Transfer(ctx context.Context, req chains.TransferRequest) (string, error) {
	if err := b.Ping(ctx); err != nil {
		return "", err
	}

	sun, err := chains.ToAtomicUint(entities.ChainTRON, req.Amount)
	if err != nil {
		return "", &entities.ValidationError{Field: "amount", Reason: err.Error()}
	}

	key, err := b.keys.PrivateKey(ctx, req.WalletID, entities.ChainTRON)
	if err != nil {
		return "", &entities.BackendTransferError{Chain: entities.ChainTRON, Op: "key", Cause: err}
	}
	defer crypto.Wipe(key)

	payload := map[string]interface{}{
		"privateKey": hex.EncodeToString(key),
		"toAddress":  req.Destination,
		"amount":     sun,
	}

	var result struct {
		Result struct {
			Result  bool   `json:"result"`
			Message string `json:"message"`
		} `json:"result"`
		Transaction struct {
			TxID string `json:"txID"`
		} `json:"transaction"`
	}
	err = b.breaker.Execute(ctx, func() error {
		return b.post(ctx, "/wallet/easytransferbyprivate", payload, &result)
	})
	if err != nil {
		return "", &entities.BackendTransferError{Chain: entities.ChainTRON, Op: "broadcast", Cause: err}
	}
	if !result.Result.Result {
		return "", &entities.BackendTransferError{
			Chain: entities.ChainTRON,
			Op:    "broadcast",
			Cause: fmt.Errorf("node rejected transfer: %s", result.Result.Message),
		}
	}

	b.logger.Info("Tron transfer broadcast",
		"transaction_id", req.TransactionID.String(),
		"tx_id", result.Transaction.TxID,
		"sun", sun)

	return result.Transaction.TxID, nil
}

// ListInbound lists confirmed TRX transfers received by the address
func (b *Backend) ListInbound(ctx context.Context, address string) ([]entities.InboundTransfer, error) {
	if err := b.Ping(ctx); err != nil {
		return nil, err
	}

	payload := map[string]interface{}{"address": address, "visible": true}
	var result struct {
		Data []struct {
			TxID           string `json:"txID"`
			BlockNumber    uint64 `json:"blockNumber"`
			BlockTimestamp int64  `json:"block_timestamp"`
			RawData        struct {
				Contract []struct {
					Type      string `json:"type"`
					Parameter struct {
						Value struct {
							Amount    uint64 `json:"amount"`
							ToAddress string `json:"to_address"`
						} `json:"value"`
					} `json:"parameter"`
				} `json:"contract"`
			} `json:"raw_data"`
		} `json:"data"`
	}
	err := b.breaker.Execute(ctx, func() error {
		return b.post(ctx, "/walletextension/gettransactionstoths", payload, &result)
	})
	if err != nil {
		return nil, &entities.BackendTransferError{Chain: entities.ChainTRON, Op: "history", Cause: err}
	}

	var now struct {
		BlockHeader struct {
			RawData struct {
				Number uint64 `json:"number"`
			} `json:"raw_data"`
		} `json:"block_header"`
	}
	if err := b.post(ctx, "/wallet/getnowblock", map[string]interface{}{}, &now); err != nil {
		return nil, &entities.BackendTransferError{Chain: entities.ChainTRON, Op: "nowblock", Cause: err}
	}
	latest := now.BlockHeader.RawData.Number

	var inbound []entities.InboundTransfer
	for _, tx := range result.Data {
		for _, c := range tx.RawData.Contract {
			if c.Type != "TransferContract" {
				continue
			}
			// History entries for the account include outbound and
			// unrelated block transfers; only credit our address.
			if c.Parameter.Value.ToAddress != address {
				continue
			}
			amount, err := chains.FromAtomicUint(entities.ChainTRON, c.Parameter.Value.Amount)
			if err != nil {
				continue
			}
			confs := uint64(1)
			if latest > tx.BlockNumber {
				confs = latest - tx.BlockNumber + 1
			}
			inbound = append(inbound, entities.InboundTransfer{
				TxID:          tx.TxID,
				Address:       address,
				Amount:        amount,
				Confirmations: confs,
				BlockHeight:   tx.BlockNumber,
				Timestamp:     time.UnixMilli(tx.BlockTimestamp),
			})
		}
	}
	return inbound, nil
}
