// Package chain adapts the staking contract and the ERC20 token contracts
// behind the Ledger interface.
package chain

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/whalestrategy/whalestake/pkg/types"
)

var (
	// ErrReadFailure wraps every failed contract read.
	ErrReadFailure = errors.New("chain read failed")

	// ErrUnknownToken is returned for a symbol with no configured contract.
	ErrUnknownToken = errors.New("unknown token")

	// ErrNoSigner is returned by submits when no wallet is attached.
	ErrNoSigner = errors.New("no signer configured")

	// ErrReverted matches every RevertError.
	ErrReverted = errors.New("execution reverted")
)

// RevertError is a contract call that reverted, either at preflight or as a
// mined receipt with failed status. Reason is empty when the node did not
// return one.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return ErrReverted.Error()
	}
	return ErrReverted.Error() + ": " + e.Reason
}

func (e *RevertError) Is(target error) bool { return target == ErrReverted }

// Ledger is the contract surface used by the reconciler and the transaction
// orchestrator. Reads are safe for concurrent use.
type Ledger interface {
	ReadBalance(ctx context.Context, token types.TokenSymbol, account common.Address) (*big.Int, error)
	ReadAllowance(ctx context.Context, token types.TokenSymbol, owner, spender common.Address) (*big.Int, error)
	ReadStakeInfo(ctx context.Context, token types.TokenSymbol, account common.Address) (*types.StakeRecord, error)
	ReadTestMode(ctx context.Context) (bool, error)
	ReadOwner(ctx context.Context) (common.Address, error)

	SubmitApprove(ctx context.Context, token types.TokenSymbol, spender common.Address, amount *big.Int) (*TxHandle, error)
	SubmitStake(ctx context.Context, token types.TokenSymbol, durationMonths int64, amount *big.Int, gas GasParams) (*TxHandle, error)
	SubmitUnstake(ctx context.Context, token types.TokenSymbol, gas GasParams) (*TxHandle, error)
	SubmitToggleTestMode(ctx context.Context, enabled bool, gas GasParams) (*TxHandle, error)

	// WaitMined blocks until the transaction is mined with the configured
	// confirmations. A reverted receipt returns an error wrapping a
	// *RevertError.
	WaitMined(ctx context.Context, h *TxHandle) error

	StakingAddress() common.Address
}

// Signer produces transaction options for the connected account.
type Signer interface {
	Address() common.Address
	TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error)
}

// GasParams are explicit gas settings for a state-changing call.
// A nil Price uses the node's suggestion capped at the client maximum.
type GasParams struct {
	Limit uint64
	Price *big.Int
}

// TxHandle identifies a submitted transaction.
type TxHandle struct {
	Hash  common.Hash
	Kind  types.TxKind
	Token types.TokenSymbol

	tx   *ethtypes.Transaction
	from common.Address
}

// stakeInfo is the typed result of userStakeInfos(account, token).
type stakeInfo struct {
	StakedAmount *big.Int
	Rewards      *big.Int
	StakedAt     *big.Int
	StakeEnd     *big.Int
}
