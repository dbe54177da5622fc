package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// StakeView is a stake record plus the values derived from it on the client.
//
// Claimable is the contract-reported reward figure and is what an unstake
// pays out on top of principal. Estimate is a local accrual projection from
// the APR tier and elapsed days; it is informational only.
type StakeView struct {
	Record       *StakeRecord
	Staked       decimal.Decimal
	Claimable    decimal.Decimal
	DurationDays int
	DaysElapsed  int
	APRPercent   int
	APRDefined   bool
	Estimate     decimal.Decimal
	Locked       bool
}

// TokenView is everything the snapshot knows about one token.
type TokenView struct {
	Symbol     TokenSymbol
	StakeState FieldState
	Stake      *StakeView // nil unless StakeState is FieldReady
	Balance    BalanceField
	PriceUSD   *decimal.Decimal // best effort, nil when unknown
	ReadError  string           // first read error for the token, if any
}

// Failed reports whether every read for the token failed.
func (v TokenView) Failed() bool {
	return v.StakeState == FieldUnavailable && v.Balance.State == FieldUnavailable
}

// Snapshot is a point-in-time view of the connected account's staking state.
// Snapshots are immutable once published.
type Snapshot struct {
	Seq         uint64
	TakenAt     time.Time
	Account     *common.Address
	Tokens      []TokenView // ordered as SupportedTokens
	HasAnyStake bool
	Unavailable bool // every token read failed in this cycle

	// Administrative fields, each isolated from the others.
	TestMode *bool
	Owner    *common.Address
	IsOwner  bool
}

// Token returns the view for a symbol.
func (s *Snapshot) Token(sym TokenSymbol) (TokenView, bool) {
	if s == nil {
		return TokenView{}, false
	}
	for _, v := range s.Tokens {
		if v.Symbol == sym {
			return v, true
		}
	}
	return TokenView{}, false
}

// Connected reports whether the snapshot belongs to a connected account.
func (s *Snapshot) Connected() bool {
	return s != nil && s.Account != nil
}

// BaselineSnapshot is the "not connected" snapshot published on disconnect.
func BaselineSnapshot() *Snapshot {
	tokens := make([]TokenView, len(SupportedTokens))
	for i, sym := range SupportedTokens {
		tokens[i] = TokenView{
			Symbol:     sym,
			StakeState: FieldNotConnected,
			Balance:    BalanceField{State: FieldNotConnected},
		}
	}
	return &Snapshot{Tokens: tokens}
}
