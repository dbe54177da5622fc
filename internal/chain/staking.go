package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/pkg/types"
)

// ReadStakeInfo reads userStakeInfos(account, token)
func (c *Client) ReadStakeInfo(ctx context.Context, sym types.TokenSymbol, account common.Address) (*types.StakeRecord, error) {
	t, err := c.token(sym)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, string(sym)+" stake info", c.cfg.Staking, stakingABI, "userStakeInfos", account, t.Address)
	if err != nil {
		return nil, err
	}

	info := stakeInfo{
		StakedAmount: *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		Rewards:      *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		StakedAt:     *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
		StakeEnd:     *abi.ConvertType(out[3], new(*big.Int)).(**big.Int),
	}
	return info.record(), nil
}

// record converts contract output to a StakeRecord. Zero timestamps mean
// the account never staked the token.
func (s stakeInfo) record() *types.StakeRecord {
	r := types.EmptyStakeRecord()
	if s.StakedAmount != nil {
		r.StakedAmount = new(big.Int).Set(s.StakedAmount)
	}
	if s.Rewards != nil {
		r.Rewards = new(big.Int).Set(s.Rewards)
	}
	r.StakedAt = unixTime(s.StakedAt)
	r.UnlockAt = unixTime(s.StakeEnd)
	return r
}

func unixTime(v *big.Int) *time.Time {
	if v == nil || v.Sign() <= 0 || !v.IsInt64() {
		return nil
	}
	t := time.Unix(v.Int64(), 0).UTC()
	return &t
}

// ReadTestMode reads testMode()
func (c *Client) ReadTestMode(ctx context.Context) (bool, error) {
	out, err := c.call(ctx, "test mode", c.cfg.Staking, stakingABI, "testMode")
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// ReadOwner reads owner()
func (c *Client) ReadOwner(ctx context.Context) (common.Address, error) {
	out, err := c.call(ctx, "owner", c.cfg.Staking, stakingABI, "owner")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// SubmitStake calls stake(token, durationMonths, amount)
func (c *Client) SubmitStake(ctx context.Context, sym types.TokenSymbol, durationMonths int64, amount *big.Int, gas GasParams) (*TxHandle, error) {
	t, err := c.token(sym)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, types.TxKindStake, sym, c.cfg.Staking, stakingABI, gas,
		"stake", t.Address, big.NewInt(durationMonths), amount)
}

// SubmitUnstake calls unstake(token)
func (c *Client) SubmitUnstake(ctx context.Context, sym types.TokenSymbol, gas GasParams) (*TxHandle, error) {
	t, err := c.token(sym)
	if err != nil {
		return nil, err
	}
	return c.transact(ctx, types.TxKindUnstake, sym, c.cfg.Staking, stakingABI, gas, "unstake", t.Address)
}

// SubmitToggleTestMode calls toggleTestMode(enabled)
func (c *Client) SubmitToggleTestMode(ctx context.Context, enabled bool, gas GasParams) (*TxHandle, error) {
	return c.transact(ctx, types.TxKindToggleTestMode, "", c.cfg.Staking, stakingABI, gas, "toggleTestMode", enabled)
}
