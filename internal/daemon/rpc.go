package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// defaultRPCTimeout bounds a single daemon call when the caller does not
// configure one.
const defaultRPCTimeout = 30 * time.Second

// RPC is the surface of the blockchain daemon this coordinator consumes.
type RPC interface {
	GetBlockTemplate(ctx context.Context) (*BlockTemplate, error)
	SubmitBlock(ctx context.Context, blockHex string) error
	GetBlockCount(ctx context.Context) (int64, error)
	GetBestBlockHash(ctx context.Context) (string, error)
}

// templateRequest is the getblocktemplate parameter object.
type templateRequest struct {
	Rules []string `json:"rules"`
}

// Client implements RPC over authenticated JSON-RPC 1.0 HTTP.
type Client struct {
	url      string
	user     string
	password string
	http     *http.Client
	seq      atomic.Int64
}

// NewClient creates a daemon client. A zero timeout uses the default.
func NewClient(url, user, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRPCTimeout
	}
	return &Client{
		url:      url,
		user:     user,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// call performs one JSON-RPC round trip and decodes the result into out
// (skipped when out is nil). Daemon-side failures come back as *RPCError so
// callers can tell them apart from transport faults.
func (c *Client) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	body, err := json.Marshal(rpcRequest{
		Version: "1.0",
		ID:      c.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer httpResp.Body.Close()

	// Daemons answer JSON-RPC errors with non-200 statuses too, so decode
	// the body before judging the status line.
	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var resp rpcResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		if httpResp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", method, httpResp.StatusCode)
		}
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// GetBlockTemplate fetches a segwit-capable block template.
func (c *Client) GetBlockTemplate(ctx context.Context) (*BlockTemplate, error) {
	var tmpl BlockTemplate
	if err := c.call(ctx, "getblocktemplate", &tmpl, templateRequest{Rules: []string{"segwit"}}); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// BlockRejectedError is returned when the daemon explicitly rejects a block
// (as opposed to a transport/RPC error). Rejected blocks must not be retried.
type BlockRejectedError struct {
	Reason string
}

func (e *BlockRejectedError) Error() string {
	return "block rejected: " + e.Reason
}

// SubmitBlock submits a mined block. submitblock answers null on success
// and a reject reason string otherwise.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) error {
	var reason string
	if err := c.call(ctx, "submitblock", &reason, blockHex); err != nil {
		return err
	}
	if reason != "" {
		return &BlockRejectedError{Reason: reason}
	}
	return nil
}

// GetBlockCount returns the current block height.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := c.call(ctx, "getblockcount", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBestBlockHash returns the hash of the chain tip.
func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var hash string
	if err := c.call(ctx, "getbestblockhash", &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// IsDaemonError reports whether err is a daemon-side RPC error: the daemon
// answered and declined, rather than being unreachable. Callers poll at the
// normal cadence for these instead of backing off.
func IsDaemonError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}
