package app

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/config"
	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// DemoAccount is the account the mock ledger is seeded for.
var DemoAccount = common.HexToAddress("0xDe3000000000000000000000000000000000D3A0")

var demoBalances = map[types.TokenSymbol]string{
	types.TokenUSDT: "10000",
	types.TokenBTC:  "0.5",
	types.TokenETH:  "8",
}

// NewDemoLedger returns a mock ledger with wallet balances for DemoAccount,
// which is also the contract owner.
func NewDemoLedger(cfg *config.Config, now func() time.Time) (*chain.MockLedger, common.Address) {
	staking := optionalAddress(cfg.Contracts.Staking)
	if staking == (common.Address{}) {
		staking = common.HexToAddress("0x5757000000000000000000000000000000000001")
	}

	m := chain.NewMockLedger(staking)
	m.SetClock(now)
	m.SetSender(DemoAccount)
	m.SetOwner(DemoAccount)
	for sym, amt := range demoBalances {
		v, err := units.ParseBaseUnits(amt)
		if err != nil {
			v = big.NewInt(0)
		}
		m.SetBalance(sym, DemoAccount, v)
	}
	return m, DemoAccount
}
