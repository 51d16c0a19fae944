// Package remote signs hashes through a managed signing endpoint speaking
// the wallet_sign JSON-RPC method. The endpoint signs as its own owner
// record; the returned signature is used unchanged except for the outer
// multi-owner wrapper.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

const (
	headerContentType   = "Content-Type"
	mimeApplicationJSON = "application/json"

	methodWalletSign = "wallet_sign"
)

// Client signs hashes via a remote wallet_sign endpoint.
type Client struct {
	endpoint   string
	address    common.Address
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client, e.g. to set timeouts.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a remote signer client for the owner record at address.
func NewClient(endpoint string, address common.Address, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		address:    address,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Address returns the owner address the endpoint signs as.
func (c *Client) Address() common.Address {
	return c.address
}

type signRequest struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      string       `json:"id"`
	Method  string       `json:"method"`
	Params  []signParams `json:"params"`
}

type signParams struct {
	Hash common.Hash `json:"hash"`
}

type signResponse struct {
	Signature hexutil.Bytes `json:"signature"`
	Error     *rpcError     `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SignHash posts the hash to the endpoint and returns its signature bytes
// verbatim.
func (c *Client) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  methodWalletSign,
		Params:  []signParams{{Hash: hash}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create sign request: %w", err)
	}
	req.Header.Set(headerContentType, mimeApplicationJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send sign request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer returned %s", resp.Status)
	}

	var signResp signResponse
	if err := json.NewDecoder(resp.Body).Decode(&signResp); err != nil {
		return nil, fmt.Errorf("decode sign response: %w", err)
	}
	if signResp.Error != nil {
		return nil, fmt.Errorf("remote signer error %d: %s", signResp.Error.Code, signResp.Error.Message)
	}
	if len(signResp.Signature) == 0 {
		return nil, fmt.Errorf("remote signer returned empty signature")
	}
	return signResp.Signature, nil
}
