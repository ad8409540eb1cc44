package tron

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coinrail/custody_service/pkg/logger"
)

func tronServer(t *testing.T, history interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wallet/getnowblock":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"block_header": map[string]interface{}{
					"raw_data": map[string]interface{}{"number": 1000},
				},
			})
		case "/walletextension/gettransactionstoths":
			json.NewEncoder(w).Encode(history)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func transferEntry(txID, toAddress string, amount, block uint64) map[string]interface{} {
	return map[string]interface{}{
		"txID":            txID,
		"blockNumber":     block,
		"block_timestamp": 1700000000000,
		"raw_data": map[string]interface{}{
			"contract": []interface{}{map[string]interface{}{
				"type": "TransferContract",
				"parameter": map[string]interface{}{
					"value": map[string]interface{}{
						"amount":     amount,
						"to_address": toAddress,
					},
				},
			}},
		},
	}
}

func TestListInboundFiltersByAddress(t *testing.T) {
	watched := "TWatchedAddr111111111111111111111"
	other := "TOtherAddr2222222222222222222222"

	server := tronServer(t, map[string]interface{}{
		"data": []interface{}{
			transferEntry("TronTx1", watched, 5_000_000, 900),
			transferEntry("TronTx2", other, 7_000_000, 901),
		},
	})
	defer server.Close()

	b := NewBackend(server.URL, nil, logger.NewNop())

	inbound, err := b.ListInbound(context.Background(), watched)
	require.NoError(t, err)
	require.Len(t, inbound, 1)
	assert.Equal(t, "TronTx1", inbound[0].TxID)
	assert.Equal(t, watched, inbound[0].Address)
	assert.Equal(t, "5", inbound[0].Amount.String())
	assert.Equal(t, uint64(101), inbound[0].Confirmations)
}

func TestListInboundSkipsNonTransferContracts(t *testing.T) {
	watched := "TWatchedAddr111111111111111111111"

	server := tronServer(t, map[string]interface{}{
		"data": []interface{}{
			map[string]interface{}{
				"txID":        "TronTx3",
				"blockNumber": 950,
				"raw_data": map[string]interface{}{
					"contract": []interface{}{map[string]interface{}{
						"type": "TriggerSmartContract",
						"parameter": map[string]interface{}{
							"value": map[string]interface{}{
								"amount":     1_000_000,
								"to_address": watched,
							},
						},
					}},
				},
			},
		},
	})
	defer server.Close()

	b := NewBackend(server.URL, nil, logger.NewNop())

	inbound, err := b.ListInbound(context.Background(), watched)
	require.NoError(t, err)
	assert.Empty(t, inbound)
}
