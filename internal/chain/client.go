package chain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"nearEventStreamer/internal/jsoncodec"
	"nearEventStreamer/internal/model"
)

// Options tunes retries for transport failures.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Logger       *zap.Logger
}

// Client talks to a NEAR JSON-RPC endpoint through go-ethereum's rpc client.
type Client struct {
	rpcClient *rpc.Client
	opts      Options
	logger    *zap.Logger
}

// ContractError is a view call the node executed but the contract rejected.
type ContractError struct {
	Account string
	Method  string
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("call %s.%s: %s", e.Account, e.Method, e.Message)
}

// NewClient creates a new NEAR RPC client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, opts Options) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{rpcClient: rpcClient, opts: opts, logger: logger}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

type callResult struct {
	Result      []int    `json:"result"`
	Logs        []string `json:"logs"`
	BlockHeight uint64   `json:"block_height"`
	BlockHash   string   `json:"block_hash"`
	Error       string   `json:"error"`
}

// CallFunction runs a view method against the latest block and returns the
// raw bytes the method produced. args is encoded as JSON.
func (c *Client) CallFunction(ctx context.Context, account, method string, args any) ([]byte, error) {
	argBytes, err := jsoncodec.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	path := fmt.Sprintf("call/%s/%s", account, method)
	encoded := base58.Encode(argBytes)

	var res callResult
	err = withRetry(ctx, c.opts.MaxRetries, c.opts.RetryBackoff, func(ctx context.Context) error {
		res = callResult{}
		if err := c.rpcClient.CallContext(ctx, &res, "query", path, encoded); err != nil {
			if retryable(err) {
				c.logger.Warn("rpc query failed", zap.Error(err), zap.String("account", account), zap.String("method", method))
			}
			return err
		}
		if res.Error != "" {
			return &ContractError{Account: account, Method: method, Message: res.Error}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(res.Result))
	for i, b := range res.Result {
		if b < 0 || b > 255 {
			return nil, fmt.Errorf("call %s.%s: result byte %d out of range: %d", account, method, i, b)
		}
		out[i] = byte(b)
	}
	return out, nil
}

// NFTToken fetches a token through the NEP-171 nft_token view. A token the
// contract does not know yields nil without error.
func (c *Client) NFTToken(ctx context.Context, contract, tokenID string) (*model.Token, error) {
	raw, err := c.CallFunction(ctx, contract, "nft_token", map[string]string{"token_id": tokenID})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}

	var token model.Token
	if err := jsoncodec.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("decode token %s:%s: %w", contract, tokenID, err)
	}
	token.ContractAccountID = &contract
	token.MetadataExtra = token.Metadata.ParseExtra()
	token.SetID()
	return &token, nil
}

type statusResult struct {
	ChainID  string `json:"chain_id"`
	SyncInfo struct {
		LatestBlockHeight uint64 `json:"latest_block_height"`
		Syncing           bool   `json:"syncing"`
	} `json:"sync_info"`
}

// LatestBlockHeight returns sync_info.latest_block_height from the node
// status. It is the head, which can be a few blocks ahead of finality.
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	var status statusResult
	err := withRetry(ctx, c.opts.MaxRetries, c.opts.RetryBackoff, func(ctx context.Context) error {
		return c.rpcClient.CallContext(ctx, &status, "status")
	})
	if err != nil {
		return 0, fmt.Errorf("node status: %w", err)
	}
	return status.SyncInfo.LatestBlockHeight, nil
}
