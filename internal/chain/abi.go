package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// StakingABI covers the staking contract methods the client calls.
const StakingABI = `[
	{"type":"function","name":"stake","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"},{"name":"durationMonths","type":"uint256"},{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"unstake","stateMutability":"nonpayable",
	 "inputs":[{"name":"token","type":"address"}],
	 "outputs":[]},
	{"type":"function","name":"toggleTestMode","stateMutability":"nonpayable",
	 "inputs":[{"name":"enabled","type":"bool"}],
	 "outputs":[]},
	{"type":"function","name":"testMode","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"owner","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"userStakeInfos","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"},{"name":"token","type":"address"}],
	 "outputs":[
		{"name":"stakedAmount","type":"uint256"},
		{"name":"rewards","type":"uint256"},
		{"name":"stakedAt","type":"uint256"},
		{"name":"stakeEnd","type":"uint256"}]}
]`

// Revert reasons produced by the staking contract and the tokens it pulls
// from. They are the contract's require messages verbatim.
const (
	RevertAlreadyStaked = "Already staked"
	RevertNoActiveStake = "No active stake"
	RevertNotOwner      = "Ownable: caller is not the owner"
	RevertLowAllowance  = "ERC20: insufficient allowance"
	RevertLowBalance    = "ERC20: transfer amount exceeds balance"
)

// ERC20ABI is the subset of ERC20 used for balances and approvals.
const ERC20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	stakingABI = mustParseABI("staking", StakingABI)
	erc20ABI   = mustParseABI("erc20", ERC20ABI)
)

func mustParseABI(name, def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("failed to parse %s ABI: %v", name, err))
	}
	return parsed
}
