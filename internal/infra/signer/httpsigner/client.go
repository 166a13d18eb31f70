// Package httpsigner adapts multiresponder.Signer to an external signing
// service over HTTP, keeping private key material out of the core per
// spec.md §1 ("cryptographic primitives" is one of the boundary's
// deliberately-out-of-scope external collaborators; multiresponder.Signer
// is the interface the core talks to instead).
//
// Grounded on internal/infra/blockchain/jsonrpc/client.go's functional
// options and retryablehttp wiring, generalized from a JSON-RPC 2.0
// envelope to a plain request/response shape — this isn't talking to a
// chain node, so the JSON-RPC framing doesn't apply.
package httpsigner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/pisa-watch/pisa/internal/responder/multiresponder"
)

type signRequest struct {
	ChainID  uint64 `json:"chain_id"`
	Nonce    uint64 `json:"nonce"`
	To       string `json:"to"`
	Data     []byte `json:"data"`
	Value    string `json:"value"`
	GasLimit uint64 `json:"gas_limit"`
	GasPrice uint64 `json:"gas_price"`
}

type signResponse struct {
	Raw []byte `json:"raw"`
}

// config holds optional configuration parameters for the signer client.
type config struct {
	timeout      time.Duration
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	retryMax     int
}

// Option customizes a Client at construction.
type Option func(*config)

// WithTimeout configures the maximum duration for a single HTTP request.
//
// Default: 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithRetryMax configures the maximum number of retry attempts.
//
// Default: 2 retries.
func WithRetryMax(n int) Option {
	return func(c *config) { c.retryMax = n }
}

// Client signs transactions by delegating to an external signing service
// reachable over HTTP. It never holds private key material itself.
type Client struct {
	endpoint   string
	address    string
	httpClient *retryablehttp.Client
}

var _ multiresponder.Signer = (*Client)(nil)

// New creates a Client pointing at the signing service's endpoint. address
// is the signer's own public address, reported by Address() and used by
// the Responder Component to match mined transactions (spec.md §4.7).
func New(endpoint, address string, opts ...Option) *Client {
	cfg := config{
		timeout:      5 * time.Second,
		retryWaitMin: 1 * time.Second,
		retryWaitMax: 5 * time.Second,
		retryMax:     2,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	httpClient := retryablehttp.NewClient()
	httpClient.Logger = nil
	httpClient.HTTPClient.Timeout = cfg.timeout
	httpClient.RetryWaitMin = cfg.retryWaitMin
	httpClient.RetryWaitMax = cfg.retryWaitMax
	httpClient.RetryMax = cfg.retryMax

	return &Client{
		endpoint:   endpoint,
		address:    address,
		httpClient: httpClient,
	}
}

// Address implements multiresponder.Signer.
func (c *Client) Address() string { return c.address }

// SignTransaction implements multiresponder.Signer by posting the unsigned
// transaction to the signing service and returning the raw signed bytes it
// responds with.
func (c *Client) SignTransaction(ctx context.Context, tx multiresponder.Transaction) ([]byte, error) {
	body, err := json.Marshal(signRequest{
		ChainID:  tx.ChainID,
		Nonce:    tx.Nonce,
		To:       tx.To,
		Data:     tx.Data,
		Value:    tx.Value,
		GasLimit: tx.GasLimit,
		GasPrice: tx.GasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("httpsigner: marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("httpsigner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httpsigner: request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("httpsigner: signing service returned status %d", res.StatusCode)
	}

	var data signResponse
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("httpsigner: decode response: %w", err)
	}

	return data.Raw, nil
}
