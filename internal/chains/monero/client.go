package monero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Client speaks the monero-wallet-rpc JSON-RPC 2.0 surface. The wallet RPC
// is stateful and single-session: exactly one wallet file may be open at a
// time, which is why the backend serializes access to this client.
type Client struct {
	endpoint  string
	daemon    string
	client    *http.Client
	requestID atomic.Uint64
}

// NewClient creates a wallet-RPC client. daemonEndpoint points at monerod
// for the liveness probe.
func NewClient(walletEndpoint, daemonEndpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		endpoint: walletEndpoint,
		daemon:   daemonEndpoint,
		client:   httpClient,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("wallet RPC error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, endpoint, method string, params, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/json_rpc", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
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

	var rpcResp rpcResponse
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

// DaemonInfo is the subset of get_info used for the liveness probe
type DaemonInfo struct {
	Height       uint64 `json:"height"`
	Synchronized bool   `json:"synchronized"`
	Status       string `json:"status"`
}

// GetDaemonInfo probes monerod state
func (c *Client) GetDaemonInfo(ctx context.Context) (*DaemonInfo, error) {
	var info DaemonInfo
	if err := c.call(ctx, c.daemon, "get_info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// OpenWallet opens a wallet file in the RPC session
func (c *Client) OpenWallet(ctx context.Context, filename, password string) error {
	params := map[string]string{"filename": filename, "password": password}
	return c.call(ctx, c.endpoint, "open_wallet", params, nil)
}

// CloseWallet closes the currently open wallet, flushing it to disk
func (c *Client) CloseWallet(ctx context.Context) error {
	return c.call(ctx, c.endpoint, "close_wallet", nil, nil)
}

// TransferResult is the outcome of a transfer RPC
type TransferResult struct {
	TxHash string `json:"tx_hash"`
	Fee    uint64 `json:"fee"`
	Amount uint64 `json:"amount"`
}

// Transfer sends amount (piconero) to address from the open wallet
func (c *Client) Transfer(ctx context.Context, address string, amountAtomic uint64) (*TransferResult, error) {
	params := map[string]interface{}{
		"destinations": []map[string]interface{}{
			{"amount": amountAtomic, "address": address},
		},
		"priority":    0,
		"get_tx_key":  true,
		"do_not_relay": false,
	}
	var result TransferResult
	if err := c.call(ctx, c.endpoint, "transfer", params, &result); err != nil {
		return nil, err
	}
	if result.TxHash == "" {
		return nil, fmt.Errorf("transfer returned empty tx hash")
	}
	return &result, nil
}

// IncomingTransfer is one inbound payment reported by the wallet
type IncomingTransfer struct {
	TxID          string `json:"txid"`
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
	Height        uint64 `json:"height"`
	Timestamp     int64  `json:"timestamp"`
}

// GetIncomingTransfers lists inbound payments visible to the open wallet
func (c *Client) GetIncomingTransfers(ctx context.Context) ([]IncomingTransfer, error) {
	params := map[string]interface{}{"in": true, "pool": false}
	var result struct {
		In []IncomingTransfer `json:"in"`
	}
	if err := c.call(ctx, c.endpoint, "get_transfers", params, &result); err != nil {
		return nil, err
	}
	return result.In, nil
}
