package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/pkg/types"
)

// ReadBalance returns the ERC20 balance of account in base units
func (c *Client) ReadBalance(ctx context.Context, sym types.TokenSymbol, account common.Address) (*big.Int, error) {
	t, err := c.token(sym)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, string(sym)+" balance", t.Address, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// ReadAllowance returns how much spender may pull from owner
func (c *Client) ReadAllowance(ctx context.Context, sym types.TokenSymbol, owner, spender common.Address) (*big.Int, error) {
	t, err := c.token(sym)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, string(sym)+" allowance", t.Address, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SubmitApprove approves spender for exactly amount. The gas limit is
// estimated by the node.
func (c *Client) SubmitApprove(ctx context.Context, sym types.TokenSymbol, spender common.Address, amount *big.Int) (*TxHandle, error) {
	t, err := c.token(sym)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, types.TxKindApprove, sym, t.Address, erc20ABI, GasParams{}, "approve", spender, amount)
}
