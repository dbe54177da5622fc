package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/util"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// ClientConfig holds connection and contract settings for Client
type ClientConfig struct {
	RPCURLs       []string // first entry is the primary; writes only go there
	ChainID       int64
	Confirmations uint64
	MaxGasPrice   *big.Int // cap for suggested gas prices, nil = uncapped
	Retry         *util.RetryConfig
	ConfirmPoll   time.Duration // block polling interval while waiting for confirmations

	Staking common.Address
	Tokens  []types.Token
}

// Client implements Ledger against live contracts over JSON-RPC.
type Client struct {
	cfg     ClientConfig
	chainID *big.Int
	signer  Signer
	tracker *EndpointTracker
	tokens  map[types.TokenSymbol]types.Token

	mu    sync.RWMutex
	conns map[string]*ethclient.Client
}

var _ Ledger = (*Client)(nil)

// Dial connects to every configured endpoint and checks the primary's chain
// ID. Endpoints that fail to dial are skipped; at least one must succeed.
// signer may be nil for a read-only client.
func Dial(ctx context.Context, cfg ClientConfig, signer Signer) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("no RPC endpoints configured")
	}
	if cfg.Retry == nil {
		cfg.Retry = util.DefaultRetryConfig()
	}
	if cfg.Retry.RetryIf == nil {
		cfg.Retry.RetryIf = func(err error) bool { return !isRevert(err) }
	}
	if cfg.ConfirmPoll <= 0 {
		cfg.ConfirmPoll = 2 * time.Second
	}

	c := &Client{
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		signer:  signer,
		tokens:  make(map[types.TokenSymbol]types.Token, len(cfg.Tokens)),
		conns:   make(map[string]*ethclient.Client, len(cfg.RPCURLs)),
	}
	for _, t := range cfg.Tokens {
		c.tokens[t.Symbol] = t
	}

	var dialed []string
	for _, url := range cfg.RPCURLs {
		conn, err := ethclient.DialContext(ctx, url)
		if err != nil {
			logging.Warn("failed to dial RPC endpoint", "url", url, logging.Err(err))
			continue
		}
		c.conns[url] = conn
		dialed = append(dialed, url)
	}
	if len(dialed) == 0 {
		return nil, fmt.Errorf("failed to dial any of %d RPC endpoints", len(cfg.RPCURLs))
	}
	c.tracker = NewEndpointTracker(dialed)

	chainID, err := readWith(ctx, c, "chain id", func(conn *ethclient.Client) (*big.Int, error) {
		return conn.ChainID(ctx)
	})
	if err != nil {
		c.Close()
		return nil, err
	}
	if chainID.Cmp(c.chainID) != 0 {
		c.Close()
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", c.chainID, chainID)
	}
	return c, nil
}

// Close closes every RPC connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for url, conn := range c.conns {
		conn.Close()
		delete(c.conns, url)
	}
}

// StakingAddress returns the staking contract address
func (c *Client) StakingAddress() common.Address {
	return c.cfg.Staking
}

// Endpoints reports read endpoint health
func (c *Client) Endpoints() []EndpointStatus {
	return c.tracker.Status()
}

func (c *Client) conn(url string) *ethclient.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conns[url]
}

func (c *Client) primary() (*ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, url := range c.cfg.RPCURLs {
		if conn, ok := c.conns[url]; ok {
			return conn, nil
		}
	}
	return nil, errors.New("not connected")
}

func (c *Client) token(sym types.TokenSymbol) (types.Token, error) {
	t, ok := c.tokens[sym]
	if !ok {
		return types.Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, sym)
	}
	return t, nil
}

// readWith runs fn with retries, moving to the next endpoint in health
// order on every attempt.
func readWith[T any](ctx context.Context, c *Client, what string, fn func(*ethclient.Client) (T, error)) (T, error) {
	order := c.tracker.Order()
	val, res := util.RetryWithValue(ctx, c.cfg.Retry, func(attempt int) (T, error) {
		var zero T
		url := order[(attempt-1)%len(order)]
		conn := c.conn(url)
		if conn == nil {
			return zero, fmt.Errorf("%s: not connected", url)
		}
		start := time.Now()
		v, err := fn(conn)
		if ctx.Err() == nil {
			c.tracker.Report(url, time.Since(start), err)
		}
		return v, err
	})
	if res.LastError != nil {
		return val, fmt.Errorf("%w: %s: %w", ErrReadFailure, what, res.LastError)
	}
	return val, nil
}

// call invokes a view method and returns its raw outputs
func (c *Client) call(ctx context.Context, what string, addr common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	return readWith(ctx, c, what, func(conn *ethclient.Client) ([]interface{}, error) {
		var out []interface{}
		contract := bind.NewBoundContract(addr, parsed, conn, conn, conn)
		if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%s returned no values", method)
		}
		return out, nil
	})
}

// transact signs and broadcasts a call on the primary endpoint. The call is
// estimated first so a revert surfaces with its reason before anything is
// sent. Writes are never retried.
func (c *Client) transact(ctx context.Context, kind types.TxKind, sym types.TokenSymbol, addr common.Address, parsed abi.ABI, gas GasParams, method string, args ...interface{}) (*TxHandle, error) {
	if c.signer == nil {
		return nil, ErrNoSigner
	}
	conn, err := c.primary()
	if err != nil {
		return nil, err
	}

	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	opts, err := c.signer.TransactOpts(ctx, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction options: %w", err)
	}
	opts.Context = ctx
	opts.GasLimit = gas.Limit

	estimate, err := conn.EstimateGas(ctx, ethereum.CallMsg{From: opts.From, To: &addr, Data: input})
	switch {
	case isRevert(err):
		return nil, fmt.Errorf("%s: %w", method, &RevertError{Reason: revertReason(err)})
	case err != nil:
		logging.Warn("gas estimate failed, sending with configured limit",
			"kind", string(kind), logging.Err(err))
	case estimate > gas.Limit:
		logging.Warn("gas estimate exceeds configured limit",
			"kind", string(kind), "estimate", estimate, "limit", gas.Limit)
	}

	price := gas.Price
	if price == nil {
		price, err = conn.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
		if c.cfg.MaxGasPrice != nil && price.Cmp(c.cfg.MaxGasPrice) > 0 {
			price = new(big.Int).Set(c.cfg.MaxGasPrice)
		}
	}
	opts.GasPrice = price

	contract := bind.NewBoundContract(addr, parsed, conn, conn, conn)
	tx, err := contract.RawTransact(opts, input)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	logging.Info("transaction submitted",
		"kind", string(kind),
		logging.Token(string(sym)),
		logging.TxHash(tx.Hash().Hex()),
	)
	return &TxHandle{Hash: tx.Hash(), Kind: kind, Token: sym, tx: tx, from: opts.From}, nil
}

// WaitMined waits for the receipt, then for the configured confirmations.
// A failed receipt is replayed at its block to recover the revert reason.
func (c *Client) WaitMined(ctx context.Context, h *TxHandle) error {
	if h == nil || h.tx == nil {
		return errors.New("unknown transaction")
	}
	conn, err := c.primary()
	if err != nil {
		return err
	}

	receipt, err := bind.WaitMined(ctx, conn, h.tx)
	if err != nil {
		return fmt.Errorf("failed waiting for transaction: %w", err)
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return fmt.Errorf("%s %s: %w", h.Kind, h.Hash.Hex(), c.replayRevert(ctx, conn, h, receipt.BlockNumber))
	}
	if c.cfg.Confirmations == 0 {
		return nil
	}

	target := receipt.BlockNumber.Uint64() + c.cfg.Confirmations
	ticker := time.NewTicker(c.cfg.ConfirmPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			head, err := conn.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head >= target {
				return nil
			}
		}
	}
}

// replayRevert re-executes a reverted transaction as a call at the block it
// was mined in. Reason stays empty when the replay does not revert.
func (c *Client) replayRevert(ctx context.Context, conn *ethclient.Client, h *TxHandle, block *big.Int) *RevertError {
	msg := ethereum.CallMsg{
		From:     h.from,
		To:       h.tx.To(),
		Gas:      h.tx.Gas(),
		GasPrice: h.tx.GasPrice(),
		Value:    h.tx.Value(),
		Data:     h.tx.Data(),
	}
	_, err := conn.CallContract(ctx, msg, block)
	if isRevert(err) {
		return &RevertError{Reason: revertReason(err)}
	}
	if err != nil {
		logging.Debug("revert replay failed", logging.TxHash(h.Hash.Hex()), logging.Err(err))
	}
	return &RevertError{}
}

// revertReason decodes the Error(string) payload a node attaches to a revert,
// falling back to the text after the node's "execution reverted: " prefix.
func revertReason(err error) string {
	var de rpc.DataError
	if errors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok {
			if data, derr := hexutil.Decode(s); derr == nil {
				if reason, uerr := abi.UnpackRevert(data); uerr == nil {
					return reason
				}
			}
		}
	}
	msg := err.Error()
	const marker = "execution reverted: "
	if i := strings.Index(strings.ToLower(msg), marker); i >= 0 {
		return strings.TrimSpace(msg[i+len(marker):])
	}
	return ""
}

func isRevert(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
