// Package counterpart speaks the grant-negotiation protocol: a JSON-RPC
// client for wallet_grantPermissions, and a development server implementing
// the counterpart side for local and integration testing.
package counterpart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	sessionkeys "github.com/smartwallet-foundation/sessionkeys/go"
)

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	methodGrantPermissions = "wallet_grantPermissions"
)

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

// Client negotiates grants with a counterpart endpoint. It implements
// sessionkeys.GrantTransport.
type Client struct {
	endpoint   string
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

// NewClient creates a grant-negotiation client.
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GrantPermissions sends the negotiation request and returns the array of
// granted permissions, indexed by requested permission entry.
func (c *Client) GrantPermissions(ctx context.Context, request sessionkeys.PermissionGrant) ([]sessionkeys.GrantedPermission, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  methodGrantPermissions,
		Params:  []interface{}{request},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal grant request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create grant request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send grant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("counterpart returned %s", resp.Status)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode grant response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("counterpart error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var granted []sessionkeys.GrantedPermission
	if err := json.Unmarshal(rpcResp.Result, &granted); err != nil {
		return nil, fmt.Errorf("unmarshal granted permissions: %w", err)
	}
	return granted, nil
}
