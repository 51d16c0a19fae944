package bundler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartwallet-foundation/sessionkeys/go/userop"
)

var testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// rpcServer answers JSON-RPC requests from a method-keyed result table and
// records what it saw.
func rpcServer(t *testing.T, results map[string]any) (*httptest.Server, *[]string) {
	t.Helper()
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string `json:"jsonrpc"`
			ID      string `json:"id"`
			Method  string `json:"method"`
			Params  []json.RawMessage
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.NotEmpty(t, req.ID)
		methods = append(methods, req.Method)
		json.NewEncoder(w).Encode(map[string]any{"result": results[req.Method]})
	}))
	return server, &methods
}

func TestEstimateUserOperationGas(t *testing.T) {
	server, _ := rpcServer(t, map[string]any{
		"eth_estimateUserOperationGas": map[string]string{
			"callGasLimit":         "0x64",
			"verificationGasLimit": "0xc8",
			"preVerificationGas":   "0x12c",
		},
	})
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	estimate, err := client.EstimateUserOperationGas(context.Background(), &userop.UserOperation{}, testEntryPoint)
	require.NoError(t, err)
	assert.Equal(t, 0, estimate.CallGasLimit.Cmp(big.NewInt(100)))
	assert.Equal(t, 0, estimate.VerificationGasLimit.Cmp(big.NewInt(200)))
	assert.Equal(t, 0, estimate.PreVerificationGas.Cmp(big.NewInt(300)))
}

func TestSendUserOperation(t *testing.T) {
	opHash := common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000000")
	server, methods := rpcServer(t, map[string]any{
		"eth_sendUserOperation": opHash,
	})
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	got, err := client.SendUserOperation(context.Background(), &userop.UserOperation{})
	require.NoError(t, err)
	assert.Equal(t, opHash, got)
	assert.Equal(t, []string{"eth_sendUserOperation"}, *methods)
}

func TestSendUserOperationRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": -32500, "message": "AA23 reverted"},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	_, err := client.SendUserOperation(context.Background(), &userop.UserOperation{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AA23 reverted")
}

func TestPollPending(t *testing.T) {
	server, _ := rpcServer(t, map[string]any{
		"eth_getUserOperationReceipt": nil,
	})
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	result, err := client.Poll(context.Background(), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, StatePending, result.State)
	assert.Nil(t, result.Receipt)
}

func TestPollConfirmed(t *testing.T) {
	opHash := common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")
	txHash := common.HexToHash("0x0202020202020202020202020202020202020202020202020202020202020202")
	server, _ := rpcServer(t, map[string]any{
		"eth_getUserOperationReceipt": map[string]any{
			"userOpHash": opHash,
			"success":    true,
			"receipt":    map[string]any{"transactionHash": txHash},
		},
	})
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	result, err := client.Poll(context.Background(), opHash)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	require.NotNil(t, result.Receipt)
	assert.Equal(t, opHash, result.Receipt.UserOpHash)
	assert.Equal(t, txHash, result.Receipt.TransactionHash)
}

func TestPollFailed(t *testing.T) {
	opHash := common.HexToHash("0x0101010101010101010101010101010101010101010101010101010101010101")
	server, _ := rpcServer(t, map[string]any{
		"eth_getUserOperationReceipt": map[string]any{
			"userOpHash": opHash,
			"success":    false,
			"reason":     "execution reverted",
		},
	})
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	result, err := client.Poll(context.Background(), opHash)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "execution reverted", result.Reason)
}

func TestPollTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, testEntryPoint)
	_, err := client.Poll(context.Background(), common.Hash{})
	require.Error(t, err)
}
