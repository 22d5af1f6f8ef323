// pkg/polygon/client.go
package polygon

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zkwallet/zkwallet/pkg/keys"
)

var (
	// ErrRPCTimeout marks a request that did not complete inside the client
	// timeout. Callers may retry these.
	ErrRPCTimeout = errors.New("polygon: rpc request timed out")

	// ErrRPCUnavailable marks transport-level failures (connection refused,
	// DNS, malformed response). Callers may retry these.
	ErrRPCUnavailable = errors.New("polygon: rpc endpoint unavailable")
)

// RPCError is an error object returned by the node inside a JSON-RPC
// response. These are not retried: the node heard us and said no.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("polygon: rpc error %d: %s", e.Code, e.Message)
}

// Config collects the connection settings for a Client. MasterKey may be
// empty, in which case transfers run in simulation mode.
type Config struct {
	RPCURL        string
	ChainID       int64
	MasterAddress string
	MasterKey     string
	Timeout       time.Duration
}

// Client talks JSON-RPC 2.0 to a Polygon-compatible node. All methods take a
// context; the configured timeout is applied on top of it.
type Client struct {
	cfg     Config
	http    *http.Client
	chainID *big.Int
	nextID  atomic.Uint64
}

// TransferResult describes the outcome of a master-wallet transfer.
// Simulated is true when no master key was configured and the hash was
// fabricated locally instead of broadcast.
type TransferResult struct {
	TxHash    string
	Simulated bool
}

const defaultTimeout = 30 * time.Second

// NewClient builds a Client from cfg. A zero Timeout falls back to 30s.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("polygon: rpc url is required")
	}
	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("polygon: chain id must be positive, got %d", cfg.ChainID)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		chainID: big.NewInt(cfg.ChainID),
	}, nil
}

// ChainID returns the configured chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Simulated reports whether the client lacks a master key and will fabricate
// transfer hashes instead of broadcasting.
func (c *Client) Simulated() bool {
	return c.cfg.MasterKey == ""
}

// MasterAddress returns the configured master wallet address.
func (c *Client) MasterAddress() string {
	return c.cfg.MasterAddress
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// call performs one JSON-RPC request and unmarshals the result into out.
// Transport failures map to ErrRPCTimeout or ErrRPCUnavailable; node-level
// errors come back as *RPCError.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("polygon: marshal %s request: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("polygon: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%w: %s: %v", ErrRPCTimeout, method, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrRPCUnavailable, method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %s: read body: %v", ErrRPCUnavailable, method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: http status %d", ErrRPCUnavailable, method, resp.StatusCode)
	}

	var parsed rpcResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrRPCUnavailable, method, err)
	}
	if parsed.Error != nil {
		return parsed.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("%w: %s: decode result: %v", ErrRPCUnavailable, method, err)
	}
	return nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// GetBalance fetches the latest balance of address, converted from wei.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !IsValidAddress(address) {
		return decimal.Zero, fmt.Errorf("polygon: invalid address %q", address)
	}
	var result string
	if err := c.call(ctx, "eth_getBalance", []any{address, "latest"}, &result); err != nil {
		return decimal.Zero, err
	}
	wei, err := DecodeBig(result)
	if err != nil {
		return decimal.Zero, fmt.Errorf("polygon: eth_getBalance: %w", err)
	}
	return FromWei(wei), nil
}

// GetNonce fetches the pending transaction count of address, which is the
// nonce the next transaction should carry.
func (c *Client) GetNonce(ctx context.Context, address string) (uint64, error) {
	var result string
	if err := c.call(ctx, "eth_getTransactionCount", []any{address, "pending"}, &result); err != nil {
		return 0, err
	}
	return DecodeUint64(result)
}

// GasPrice fetches the node's suggested gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var result string
	if err := c.call(ctx, "eth_gasPrice", []any{}, &result); err != nil {
		return nil, err
	}
	return DecodeBig(result)
}

// EstimateGas asks the node for a gas estimate of a plain value transfer.
func (c *Client) EstimateGas(ctx context.Context, from, to string, value *big.Int) (uint64, error) {
	var result string
	params := map[string]string{
		"from":  from,
		"to":    to,
		"value": EncodeBig(value),
	}
	if err := c.call(ctx, "eth_estimateGas", []any{params}, &result); err != nil {
		return 0, err
	}
	return DecodeUint64(result)
}

// SendRawTransaction broadcasts a signed raw transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	var result string
	if err := c.call(ctx, "eth_sendRawTransaction", []any{rawTx}, &result); err != nil {
		return "", err
	}
	return result, nil
}

// Receipt is the subset of a transaction receipt the reconciler needs.
type Receipt struct {
	TxHash      string `json:"transactionHash"`
	BlockNumber string `json:"blockNumber"`
	Status      string `json:"status"`
}

// Succeeded reports whether the receipt marks a successful execution.
func (r *Receipt) Succeeded() bool {
	return r.Status == "0x1"
}

// TransactionReceipt fetches the receipt for hash. A nil receipt with nil
// error means the transaction is still pending.
func (c *Client) TransactionReceipt(ctx context.Context, hash string) (*Receipt, error) {
	var result *Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []any{hash}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Call executes a read-only contract call against the latest block.
func (c *Client) Call(ctx context.Context, to string, data []byte) (string, error) {
	var result string
	params := map[string]string{
		"to":   to,
		"data": "0x" + hex.EncodeToString(data),
	}
	if err := c.call(ctx, "eth_call", []any{params, "latest"}, &result); err != nil {
		return "", err
	}
	return result, nil
}

// Transfer moves amount from the master wallet to the given address. Without
// a configured master key the transfer is simulated: a random hash is
// fabricated locally and flagged as such, and no RPC traffic happens.
func (c *Client) Transfer(ctx context.Context, to string, amount decimal.Decimal) (*TransferResult, error) {
	if !IsValidAddress(to) {
		return nil, fmt.Errorf("polygon: invalid recipient address %q", to)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("polygon: transfer amount must be positive, got %s", amount)
	}

	if c.Simulated() {
		random, err := keys.RandomBytes(32)
		if err != nil {
			return nil, fmt.Errorf("polygon: simulate transfer: %w", err)
		}
		return &TransferResult{
			TxHash:    "0x" + hex.EncodeToString(random),
			Simulated: true,
		}, nil
	}

	value := ToWei(amount)

	nonce, err := c.GetNonce(ctx, c.cfg.MasterAddress)
	if err != nil {
		return nil, fmt.Errorf("polygon: transfer: fetch nonce: %w", err)
	}
	gasPrice, err := c.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("polygon: transfer: fetch gas price: %w", err)
	}
	gas, err := c.EstimateGas(ctx, c.cfg.MasterAddress, to, value)
	if err != nil {
		return nil, fmt.Errorf("polygon: transfer: estimate gas: %w", err)
	}

	raw, err := SignLegacyTx(&LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		ChainID:  c.chainID,
	}, c.cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("polygon: transfer: %w", err)
	}

	hash, err := c.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("polygon: transfer: broadcast: %w", err)
	}
	return &TransferResult{TxHash: hash}, nil
}

// MasterBalance fetches the current balance of the master wallet.
func (c *Client) MasterBalance(ctx context.Context) (decimal.Decimal, error) {
	if c.cfg.MasterAddress == "" {
		return decimal.Zero, fmt.Errorf("polygon: master address not configured")
	}
	return c.GetBalance(ctx, c.cfg.MasterAddress)
}
