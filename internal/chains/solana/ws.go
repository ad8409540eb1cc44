package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coinrail/custody_service/pkg/logger"
)

// WSConfig configures the log-subscription client
type WSConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// DefaultWSConfig returns sane subscription defaults
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// WSWatcher provides push-based address watching over the Solana
// logsSubscribe RPC. Each subscription delivers the signatures of
// transactions mentioning the watched address.
type WSWatcher struct {
	endpoint string
	config   WSConfig
	logger   *logger.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	requestID atomic.Uint64

	// subscription id -> delivery channel
	subs   map[int64]chan string
	subsMu sync.Mutex

	// request id -> channel waiting for the assigned subscription id
	pending   map[uint64]chan int64
	pendingMu sync.Mutex

	done   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewWSWatcher connects to the websocket endpoint and starts the read loop
func NewWSWatcher(ctx context.Context, endpoint string, config *WSConfig, log *logger.Logger) (*WSWatcher, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	w := &WSWatcher{
		endpoint: endpoint,
		config:   cfg,
		logger:   log,
		subs:     make(map[int64]chan string),
		pending:  make(map[uint64]chan int64),
		done:     make(chan struct{}),
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	w.conn = conn

	w.wg.Add(2)
	go w.readLoop()
	go w.pingLoop()

	return w, nil
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Method string          `json:"method"`
	Params *struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Signature string      `json:"signature"`
				Err       interface{} `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// SubscribeAddress opens a logs subscription for transactions mentioning
// the address. The returned cancel func unsubscribes and releases the
// delivery channel; callers enforce their own idle timeout.
func (w *WSWatcher) SubscribeAddress(ctx context.Context, address string) (<-chan string, func(), error) {
	if w.closed.Load() {
		return nil, nil, fmt.Errorf("watcher closed")
	}

	reqID := w.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "logsSubscribe",
		Params: []interface{}{
			map[string]interface{}{"mentions": []string{address}},
			map[string]interface{}{"commitment": "finalized"},
		},
	}

	wait := make(chan int64, 1)
	w.pendingMu.Lock()
	w.pending[reqID] = wait
	w.pendingMu.Unlock()

	if err := w.write(req); err != nil {
		w.pendingMu.Lock()
		delete(w.pending, reqID)
		w.pendingMu.Unlock()
		return nil, nil, fmt.Errorf("subscribe request: %w", err)
	}

	var subID int64
	select {
	case <-ctx.Done():
		w.pendingMu.Lock()
		delete(w.pending, reqID)
		w.pendingMu.Unlock()
		return nil, nil, ctx.Err()
	case <-w.done:
		w.pendingMu.Lock()
		delete(w.pending, reqID)
		w.pendingMu.Unlock()
		return nil, nil, fmt.Errorf("watcher closed")
	case subID = <-wait:
	}

	ch := make(chan string, 16)
	w.subsMu.Lock()
	w.subs[subID] = ch
	w.subsMu.Unlock()

	cancel := func() {
		w.subsMu.Lock()
		if existing, ok := w.subs[subID]; ok {
			delete(w.subs, subID)
			close(existing)
		}
		w.subsMu.Unlock()

		unsub := wsRequest{
			JSONRPC: "2.0",
			ID:      w.requestID.Add(1),
			Method:  "logsUnsubscribe",
			Params:  []interface{}{subID},
		}
		if err := w.write(unsub); err != nil {
			w.logger.Warn("Failed to unsubscribe", "subscription", subID, "error", err)
		}
	}

	return ch, cancel, nil
}

func (w *WSWatcher) write(v interface{}) error {
	w.connMu.Lock()
	defer w.connMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *WSWatcher) readLoop() {
	defer w.wg.Done()
	for {
		var msg wsMessage
		if err := w.conn.ReadJSON(&msg); err != nil {
			if !w.closed.Load() {
				w.logger.Warn("Websocket read failed", "error", err)
			}
			return
		}

		// Subscription confirmation
		if msg.ID != 0 && msg.Result != nil {
			var subID int64
			if err := json.Unmarshal(msg.Result, &subID); err == nil {
				w.pendingMu.Lock()
				if wait, ok := w.pending[msg.ID]; ok {
					delete(w.pending, msg.ID)
					wait <- subID
				}
				w.pendingMu.Unlock()
			}
			continue
		}

		// Log notification
		if msg.Method == "logsNotification" && msg.Params != nil {
			if msg.Params.Result.Value.Err != nil {
				continue
			}
			sig := msg.Params.Result.Value.Signature
			w.subsMu.Lock()
			ch, ok := w.subs[msg.Params.Subscription]
			w.subsMu.Unlock()
			if ok {
				select {
				case ch <- sig:
				default:
					// Slow consumer; drop rather than block the read loop
				}
			}
		}
	}
}

func (w *WSWatcher) pingLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.connMu.Lock()
			w.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.connMu.Unlock()
			if err != nil {
				w.logger.Warn("Websocket ping failed", "error", err)
				return
			}
		}
	}
}

// Close shuts down the connection and all subscriptions
func (w *WSWatcher) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.done)
	err := w.conn.Close()
	w.wg.Wait()

	w.subsMu.Lock()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
	w.subsMu.Unlock()

	return err
}
