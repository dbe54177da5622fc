package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/pkg/types"
)

var (
	testStaking = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testUser    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testOwner   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestMock() *MockLedger {
	m := NewMockLedger(testStaking)
	m.SetSender(testUser)
	m.SetOwner(testOwner)
	m.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return m
}

func mustMine(t *testing.T, m *MockLedger, h *TxHandle, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := m.WaitMined(context.Background(), h); err != nil {
		t.Fatalf("WaitMined: %v", err)
	}
}

func TestMockLedger_ApproveThenStake(t *testing.T) {
	ctx := context.Background()
	m := newTestMock()
	m.SetBalance(types.TokenUSDT, testUser, eth(500))

	h, err := m.SubmitApprove(ctx, types.TokenUSDT, testStaking, eth(100))
	mustMine(t, m, h, err)

	h, err = m.SubmitStake(ctx, types.TokenUSDT, 1, eth(100), GasParams{Limit: 300000})
	mustMine(t, m, h, err)

	rec, err := m.ReadStakeInfo(ctx, types.TokenUSDT, testUser)
	if err != nil {
		t.Fatalf("ReadStakeInfo: %v", err)
	}
	if rec.StakedAmount.Cmp(eth(100)) != 0 {
		t.Errorf("staked = %s", rec.StakedAmount)
	}
	if got := rec.UnlockAt.Sub(*rec.StakedAt); got != 30*24*time.Hour {
		t.Errorf("lock = %v, want 30 days", got)
	}

	bal, _ := m.ReadBalance(ctx, types.TokenUSDT, testUser)
	if bal.Cmp(eth(400)) != 0 {
		t.Errorf("balance = %s, want 400", bal)
	}
	allowance, _ := m.ReadAllowance(ctx, types.TokenUSDT, testUser, testStaking)
	if allowance.Sign() != 0 {
		t.Errorf("allowance should be spent, got %s", allowance)
	}
}

func TestMockLedger_StakeWithoutAllowanceReverts(t *testing.T) {
	m := newTestMock()
	m.SetBalance(types.TokenETH, testUser, eth(5))

	h, err := m.SubmitStake(context.Background(), types.TokenETH, 6, eth(1), GasParams{})
	if err != nil {
		t.Fatal(err)
	}
	err = m.WaitMined(context.Background(), h)
	if !errors.Is(err, ErrReverted) || !strings.Contains(err.Error(), RevertLowAllowance) {
		t.Fatalf("expected allowance revert, got %v", err)
	}
}

func TestMockLedger_AlreadyStaked(t *testing.T) {
	m := newTestMock()
	now := time.Unix(1_700_000_000, 0)
	unlock := now.Add(time.Hour)
	m.SetStake(types.TokenBTC, testUser, &types.StakeRecord{
		StakedAmount: eth(1), Rewards: big.NewInt(0), StakedAt: &now, UnlockAt: &unlock,
	})
	m.SetBalance(types.TokenBTC, testUser, eth(1))
	m.SetAllowance(types.TokenBTC, testUser, eth(1))

	h, _ := m.SubmitStake(context.Background(), types.TokenBTC, 1, eth(1), GasParams{})
	err := m.WaitMined(context.Background(), h)
	if err == nil || err.Error() != "execution reverted: Already staked" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestMockLedger_EarlyUnstakePenalty(t *testing.T) {
	m := newTestMock()
	now := time.Unix(1_700_000_000, 0)
	unlock := now.Add(24 * time.Hour)
	m.SetStake(types.TokenUSDT, testUser, &types.StakeRecord{
		StakedAmount: eth(100), Rewards: eth(1), StakedAt: &now, UnlockAt: &unlock,
	})

	h, err := m.SubmitUnstake(context.Background(), types.TokenUSDT, GasParams{})
	mustMine(t, m, h, err)

	bal, _ := m.ReadBalance(context.Background(), types.TokenUSDT, testUser)
	if bal.Cmp(eth(94)) != 0 {
		t.Errorf("early unstake payout = %s, want 94", bal)
	}
	if m.Stake(types.TokenUSDT, testUser).Active() {
		t.Error("stake should be cleared")
	}
}

func TestMockLedger_ToggleTestModeOwnerOnly(t *testing.T) {
	ctx := context.Background()
	m := newTestMock()

	h, _ := m.SubmitToggleTestMode(ctx, true, GasParams{})
	if err := m.WaitMined(ctx, h); err == nil || !strings.Contains(err.Error(), RevertNotOwner) {
		t.Fatalf("non-owner toggle should revert, got %v", err)
	}

	m.SetSender(testOwner)
	h, err := m.SubmitToggleTestMode(ctx, true, GasParams{})
	mustMine(t, m, h, err)
	if on, _ := m.ReadTestMode(ctx); !on {
		t.Error("test mode should be on")
	}
}

func TestMockLedger_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := newTestMock()
	boom := errors.New("rpc down")

	m.FailReads(types.TokenBTC, boom)
	if _, err := m.ReadStakeInfo(ctx, types.TokenBTC, testUser); !errors.Is(err, ErrReadFailure) || !errors.Is(err, boom) {
		t.Errorf("stake read error = %v", err)
	}
	if _, err := m.ReadBalance(ctx, types.TokenUSDT, testUser); err != nil {
		t.Errorf("other tokens should be unaffected: %v", err)
	}

	denied := errors.New("user denied transaction signature")
	m.FailSubmit(types.TxKindStake, denied)
	if _, err := m.SubmitStake(ctx, types.TokenUSDT, 1, eth(1), GasParams{}); !errors.Is(err, denied) {
		t.Errorf("submit error = %v", err)
	}
	if m.CallCount("SubmitStake") != 1 {
		t.Errorf("denied submit should still be recorded")
	}
}

func TestMockLedger_DistinctHashes(t *testing.T) {
	m := newTestMock()
	h1, _ := m.SubmitApprove(context.Background(), types.TokenUSDT, testStaking, eth(1))
	h2, _ := m.SubmitApprove(context.Background(), types.TokenUSDT, testStaking, eth(1))
	if h1.Hash == h2.Hash {
		t.Error("hashes should differ")
	}
}
