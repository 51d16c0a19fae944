// Package bundler submits signed user operations to an ERC-4337 bundler
// over JSON-RPC and reports their inclusion status. Polling is a single
// shot returning a tri-state result; scheduling and cancellation belong to
// the caller.
package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/smartwallet-foundation/sessionkeys/go/userop"
)

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	methodEstimateGas = "eth_estimateUserOperationGas"
	methodSendUserOp  = "eth_sendUserOperation"
	methodGetReceipt  = "eth_getUserOperationReceipt"
)

// Client is a JSON-RPC bundler client bound to one entry point.
type Client struct {
	url        string
	entryPoint common.Address
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a bundler client.
func NewClient(url string, entryPoint common.Address, opts ...Option) *Client {
	c := &Client{
		url:        url,
		entryPoint: entryPoint,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", method, resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result == nil || len(rpcResp.Result) == 0 || bytes.Equal(rpcResp.Result, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

type gasEstimateResult struct {
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
}

// EstimateUserOperationGas implements userop.GasEstimator. The operation's
// placeholder signature must already be in place so calldata size is final.
func (c *Client) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*userop.GasEstimate, error) {
	var result gasEstimateResult
	if err := c.call(ctx, methodEstimateGas, []interface{}{op, entryPoint}, &result); err != nil {
		return nil, err
	}
	return &userop.GasEstimate{
		CallGasLimit:         (*big.Int)(result.CallGasLimit),
		VerificationGasLimit: (*big.Int)(result.VerificationGasLimit),
		PreVerificationGas:   (*big.Int)(result.PreVerificationGas),
	}, nil
}

// SendUserOperation submits a signed operation and returns its operation
// hash, the bundler's tracking identifier.
func (c *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var opHash common.Hash
	if err := c.call(ctx, methodSendUserOp, []interface{}{op, c.entryPoint}, &opHash); err != nil {
		return common.Hash{}, err
	}
	return opHash, nil
}

// Receipt is an included user operation's outcome.
type Receipt struct {
	UserOpHash      common.Hash   `json:"userOpHash"`
	Success         bool          `json:"success"`
	Reason          string        `json:"reason,omitempty"`
	TransactionHash common.Hash   `json:"transactionHash"`
	ActualGasUsed   *hexutil.Big  `json:"actualGasUsed,omitempty"`
	ActualGasCost   *hexutil.Big  `json:"actualGasCost,omitempty"`
	Logs            []interface{} `json:"logs,omitempty"`
}

type receiptResult struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason,omitempty"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed,omitempty"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost,omitempty"`
	Logs          []interface{}  `json:"logs,omitempty"`
	Receipt       *txReceiptStub `json:"receipt,omitempty"`
}

type txReceiptStub struct {
	TransactionHash common.Hash `json:"transactionHash"`
}

// GetUserOperationReceipt fetches the receipt for an operation hash.
// Returns (nil, nil) while the operation is still pending.
func (c *Client) GetUserOperationReceipt(ctx context.Context, opHash common.Hash) (*Receipt, error) {
	var result receiptResult
	if err := c.call(ctx, methodGetReceipt, []interface{}{opHash}, &result); err != nil {
		return nil, err
	}
	if result.UserOpHash == (common.Hash{}) {
		return nil, nil
	}
	receipt := &Receipt{
		UserOpHash:    result.UserOpHash,
		Success:       result.Success,
		Reason:        result.Reason,
		ActualGasUsed: result.ActualGasUsed,
		ActualGasCost: result.ActualGasCost,
		Logs:          result.Logs,
	}
	if result.Receipt != nil {
		receipt.TransactionHash = result.Receipt.TransactionHash
	}
	return receipt, nil
}

// PollState is the tri-state outcome of a single status poll.
type PollState int

const (
	// StatePending means no terminal outcome yet; poll again later.
	StatePending PollState = iota
	// StateConfirmed means the operation was included and succeeded.
	StateConfirmed
	// StateFailed means the operation was included and reverted.
	StateFailed
)

// PollResult is a single poll observation.
type PollResult struct {
	State   PollState
	Receipt *Receipt
	Reason  string
}

// Poll performs one status query. It never loops; callers drive the
// interval and decide when to stop, which keeps cancellation in their
// hands and makes the loop testable against a fast-forwarded clock.
func (c *Client) Poll(ctx context.Context, opHash common.Hash) (PollResult, error) {
	receipt, err := c.GetUserOperationReceipt(ctx, opHash)
	if err != nil {
		return PollResult{}, err
	}
	if receipt == nil {
		return PollResult{State: StatePending}, nil
	}
	if !receipt.Success {
		return PollResult{State: StateFailed, Receipt: receipt, Reason: receipt.Reason}, nil
	}
	return PollResult{State: StateConfirmed, Receipt: receipt}, nil
}
