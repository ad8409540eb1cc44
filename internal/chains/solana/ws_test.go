package solana

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrail/custody_service/pkg/logger"
)

// wsServer upgrades each connection and passes it to handler
func wsServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		handler(conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSubscribeAddressDeliversSignatures(t *testing.T) {
	server := wsServer(t, func(conn *websocket.Conn) {
		var req wsRequest
		require.NoError(t, conn.ReadJSON(&req))
		require.Equal(t, "logsSubscribe", req.Method)

		require.NoError(t, conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": 42,
		}))

		// Re-send until the watcher closes the connection; the first
		// notification may land before the subscription channel exists
		notification := map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "logsNotification",
			"params": map[string]interface{}{
				"subscription": 42,
				"result": map[string]interface{}{
					"value": map[string]interface{}{"signature": "PushSig1", "err": nil},
				},
			},
		}
		for conn.WriteJSON(notification) == nil {
			time.Sleep(10 * time.Millisecond)
		}
	})
	defer server.Close()

	w, err := NewWSWatcher(context.Background(), wsURL(server), nil, logger.NewNop())
	require.NoError(t, err)
	defer w.Close()

	ch, cancel, err := w.SubscribeAddress(context.Background(), "FrSrxkNtgP4f9pYDWB6QdVJf8FMpCPvPVnFkdku6Cc5q")
	require.NoError(t, err)
	defer cancel()

	select {
	case sig := <-ch:
		assert.Equal(t, "PushSig1", sig)
	case <-time.After(2 * time.Second):
		t.Fatal("no push signature delivered")
	}
}

func TestSubscribeAddressCancelledContextReleasesPending(t *testing.T) {
	// The server accepts the subscribe request but never confirms it
	server := wsServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	w, err := NewWSWatcher(context.Background(), wsURL(server), nil, logger.NewNop())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err = w.SubscribeAddress(ctx, "FrSrxkNtgP4f9pYDWB6QdVJf8FMpCPvPVnFkdku6Cc5q")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	w.pendingMu.Lock()
	remaining := len(w.pending)
	w.pendingMu.Unlock()
	assert.Zero(t, remaining)
}
