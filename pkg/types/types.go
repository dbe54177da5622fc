package types

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenSymbol identifies one of the supported staking tokens
type TokenSymbol string

const (
	TokenUSDT TokenSymbol = "USDT"
	TokenBTC  TokenSymbol = "BTC" // WBTC proxy
	TokenETH  TokenSymbol = "ETH" // WETH proxy
)

// SupportedTokens lists the staking tokens in display order.
var SupportedTokens = []TokenSymbol{TokenUSDT, TokenBTC, TokenETH}

// IsValid checks if the symbol is one of the supported tokens
func (s TokenSymbol) IsValid() bool {
	switch s {
	case TokenUSDT, TokenBTC, TokenETH:
		return true
	}
	return false
}

// ParseTokenSymbol parses a user-supplied symbol. The wrapped-asset names
// are accepted as aliases for the labels the UI shows.
func ParseTokenSymbol(s string) (TokenSymbol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USDT":
		return TokenUSDT, nil
	case "BTC", "WBTC":
		return TokenBTC, nil
	case "ETH", "WETH":
		return TokenETH, nil
	}
	return "", fmt.Errorf("unsupported token: %q", s)
}

// DefaultTokenDecimals is the scale used by every supported token contract.
const DefaultTokenDecimals = 18

// Token is a supported token bound to its deployed contract
type Token struct {
	Symbol   TokenSymbol
	Address  common.Address
	Decimals int32
}

// Session is the currently connected wallet, if any.
// When Connected is false, Address and ChainID are nil.
type Session struct {
	Address   *common.Address
	ChainID   *big.Int
	Connected bool
}

// Account returns the connected address or the zero address.
func (s Session) Account() common.Address {
	if s.Address == nil {
		return common.Address{}
	}
	return *s.Address
}

// StakeRecord mirrors userStakeInfos(account, token) on the staking contract.
// A zero StakedAmount means there is no active stake for the token.
type StakeRecord struct {
	StakedAmount *big.Int
	Rewards      *big.Int   // contract-reported claimable rewards
	StakedAt     *time.Time // nil when never staked
	UnlockAt     *time.Time // nil when never staked
}

// EmptyStakeRecord returns the "never staked" record.
func EmptyStakeRecord() *StakeRecord {
	return &StakeRecord{
		StakedAmount: big.NewInt(0),
		Rewards:      big.NewInt(0),
	}
}

// Active reports whether the record holds a non-zero stake.
func (r *StakeRecord) Active() bool {
	return r != nil && r.StakedAmount != nil && r.StakedAmount.Sign() > 0
}

// Locked reports whether the stake is still inside its lock period at now.
func (r *StakeRecord) Locked(now time.Time) bool {
	if !r.Active() || r.UnlockAt == nil {
		return false
	}
	return now.Before(*r.UnlockAt)
}

// Clone returns a deep copy of the record.
func (r *StakeRecord) Clone() *StakeRecord {
	if r == nil {
		return nil
	}
	c := &StakeRecord{
		StakedAmount: cloneInt(r.StakedAmount),
		Rewards:      cloneInt(r.Rewards),
	}
	if r.StakedAt != nil {
		t := *r.StakedAt
		c.StakedAt = &t
	}
	if r.UnlockAt != nil {
		t := *r.UnlockAt
		c.UnlockAt = &t
	}
	return c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// FieldState describes whether a displayed value is usable
type FieldState string

const (
	FieldNotConnected FieldState = "not_connected" // no session
	FieldUnavailable  FieldState = "unavailable"   // read failed
	FieldReady        FieldState = "ready"
)

// BalanceField is a wallet balance together with its display state.
// Amount is nil unless State is FieldReady.
type BalanceField struct {
	State  FieldState
	Amount *big.Int
}

// TxKind is the kind of a pending transaction
type TxKind string

const (
	TxKindApprove        TxKind = "approve"
	TxKindStake          TxKind = "stake"
	TxKindUnstake        TxKind = "unstake"
	TxKindToggleTestMode TxKind = "toggle_test_mode"
)

// TxStatus is the lifecycle state of a pending transaction
type TxStatus string

const (
	TxStatusSubmitted TxStatus = "submitted"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusDenied    TxStatus = "denied"
	TxStatusFailed    TxStatus = "failed"
)

// PendingTx is an in-flight approve, stake, unstake or admin call.
type PendingTx struct {
	Kind        TxKind
	Token       TokenSymbol
	Amount      *big.Int
	Hash        common.Hash
	Status      TxStatus
	SubmittedAt time.Time
}
