package types

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseTokenSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    TokenSymbol
		wantErr bool
	}{
		{"USDT", TokenUSDT, false},
		{"usdt", TokenUSDT, false},
		{" wbtc ", TokenBTC, false},
		{"BTC", TokenBTC, false},
		{"WETH", TokenETH, false},
		{"DAI", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTokenSymbol(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTokenSymbol(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTokenSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenSymbol_IsValid(t *testing.T) {
	for _, sym := range SupportedTokens {
		if !sym.IsValid() {
			t.Errorf("%s should be valid", sym)
		}
	}
	if TokenSymbol("WBTC").IsValid() {
		t.Error("aliases are not symbols")
	}
}

func TestStakeRecord_ActiveAndLocked(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	staked := now.Add(-10 * 24 * time.Hour)
	unlock := now.Add(20 * 24 * time.Hour)

	rec := &StakeRecord{
		StakedAmount: big.NewInt(100),
		Rewards:      big.NewInt(0),
		StakedAt:     &staked,
		UnlockAt:     &unlock,
	}
	if !rec.Active() {
		t.Fatal("non-zero stake should be active")
	}
	if !rec.Locked(now) {
		t.Error("stake should be locked before unlock time")
	}
	if rec.Locked(unlock) {
		t.Error("stake should be unlocked at unlock time")
	}

	empty := EmptyStakeRecord()
	if empty.Active() || empty.Locked(now) {
		t.Error("empty record is neither active nor locked")
	}
	var nilRec *StakeRecord
	if nilRec.Active() {
		t.Error("nil record is not active")
	}
}

func TestStakeRecord_CloneIsDeep(t *testing.T) {
	at := time.Unix(1700000000, 0)
	rec := &StakeRecord{StakedAmount: big.NewInt(5), Rewards: big.NewInt(1), StakedAt: &at, UnlockAt: &at}
	c := rec.Clone()

	c.StakedAmount.SetInt64(99)
	*c.StakedAt = at.Add(time.Hour)
	if rec.StakedAmount.Int64() != 5 {
		t.Error("clone shares StakedAmount")
	}
	if !rec.StakedAt.Equal(at) {
		t.Error("clone shares StakedAt")
	}
	if (*StakeRecord)(nil).Clone() != nil {
		t.Error("clone of nil should be nil")
	}
}

func TestSession_Account(t *testing.T) {
	if (Session{}).Account() != (common.Address{}) {
		t.Error("disconnected session should report the zero address")
	}
	addr := common.HexToAddress("0x1")
	if (Session{Address: &addr, Connected: true}).Account() != addr {
		t.Error("connected session should report its address")
	}
}

func TestBaselineSnapshot(t *testing.T) {
	s := BaselineSnapshot()
	if s.Connected() {
		t.Error("baseline is not connected")
	}
	if len(s.Tokens) != len(SupportedTokens) {
		t.Fatalf("tokens = %d, want %d", len(s.Tokens), len(SupportedTokens))
	}
	for i, v := range s.Tokens {
		if v.Symbol != SupportedTokens[i] {
			t.Errorf("token %d = %s, want %s", i, v.Symbol, SupportedTokens[i])
		}
		if v.StakeState != FieldNotConnected || v.Balance.State != FieldNotConnected {
			t.Errorf("%s states = %s/%s", v.Symbol, v.StakeState, v.Balance.State)
		}
		if v.Failed() {
			t.Errorf("%s: not-connected is not a failure", v.Symbol)
		}
	}
	if _, ok := s.Token(TokenETH); !ok {
		t.Error("Token(ETH) should be found")
	}
	var nilSnap *Snapshot
	if _, ok := nilSnap.Token(TokenETH); ok {
		t.Error("nil snapshot has no tokens")
	}
}
