package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/pricefeed"
	"github.com/whalestrategy/whalestake/internal/session"
	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

var (
	stakingAddr = common.HexToAddress("0x5757000000000000000000000000000000000001")
	alice       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob         = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	fixedNow    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

func connected(addr common.Address) types.Session {
	return types.Session{Address: &addr, ChainID: big.NewInt(1), Connected: true}
}

func amount(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := units.ParseBaseUnits(s)
	if err != nil {
		t.Fatalf("ParseBaseUnits(%q): %v", s, err)
	}
	return v
}

func newTestReconciler(t *testing.T, l chain.Ledger, opts ...Option) *Reconciler {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithPollInterval(time.Hour)}, opts...)
	r, err := New(l, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRefresh_Disconnected(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	r := newTestReconciler(t, m)

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap.Connected() {
		t.Error("snapshot should not be connected")
	}
	if n := len(m.Calls()); n != 0 {
		t.Errorf("expected no chain reads while disconnected, got %d", n)
	}
}

func TestRefresh_NoStake(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	m.SetBalance(types.TokenUSDT, alice, amount(t, "250"))
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap.HasAnyStake {
		t.Error("HasAnyStake should be false with no stakes")
	}
	usdt, _ := snap.Token(types.TokenUSDT)
	if usdt.StakeState != types.FieldReady || usdt.Stake.Record.Active() {
		t.Errorf("unexpected USDT stake view: %+v", usdt)
	}
	if usdt.Balance.State != types.FieldReady || usdt.Balance.Amount.Cmp(amount(t, "250")) != 0 {
		t.Errorf("unexpected USDT balance: %+v", usdt.Balance)
	}
}

func TestRefresh_DerivesActiveStake(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	start := fixedNow.Add(-10 * day)
	end := start.Add(30 * day)
	m.SetStake(types.TokenETH, alice, &types.StakeRecord{
		StakedAmount: amount(t, "2"), Rewards: amount(t, "0.01"), StakedAt: &start, UnlockAt: &end,
	})
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !snap.HasAnyStake {
		t.Fatal("HasAnyStake should be true")
	}
	eth, _ := snap.Token(types.TokenETH)
	v := eth.Stake
	if v.APRPercent != 15 || v.DaysElapsed != 10 || !v.Locked {
		t.Errorf("unexpected derived view: %+v", v)
	}
}

func TestRefresh_IdempotentWithFixedClock(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	start := fixedNow.Add(-40 * day)
	end := start.Add(180 * day)
	m.SetStake(types.TokenBTC, alice, &types.StakeRecord{
		StakedAmount: amount(t, "1"), Rewards: big.NewInt(0), StakedAt: &start, UnlockAt: &end,
	})
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	first, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	second, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if second.Seq <= first.Seq {
		t.Errorf("Seq did not advance: %d then %d", first.Seq, second.Seq)
	}
	for i := range first.Tokens {
		a, b := first.Tokens[i], second.Tokens[i]
		if a.StakeState != b.StakeState || a.Balance.State != b.Balance.State {
			t.Errorf("%s states differ between refreshes", a.Symbol)
		}
		if !a.Stake.Estimate.Equal(b.Stake.Estimate) || a.Stake.DaysElapsed != b.Stake.DaysElapsed {
			t.Errorf("%s derived values differ between refreshes", a.Symbol)
		}
	}
	if first.HasAnyStake != second.HasAnyStake {
		t.Error("HasAnyStake differs between refreshes")
	}
}

func TestRefresh_PartialFailureIsolated(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	m.SetBalance(types.TokenUSDT, alice, amount(t, "10"))
	m.FailReads(types.TokenBTC, errors.New("rpc timeout"))
	m.FailBalanceReads(types.TokenETH, errors.New("rpc timeout"))
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("partial failure should not fail the refresh: %v", err)
	}
	if snap.Unavailable {
		t.Error("snapshot should not be marked unavailable")
	}

	btc, _ := snap.Token(types.TokenBTC)
	if !btc.Failed() || btc.ReadError == "" {
		t.Errorf("BTC should be unavailable with an error: %+v", btc)
	}
	eth, _ := snap.Token(types.TokenETH)
	if eth.StakeState != types.FieldReady || eth.Balance.State != types.FieldUnavailable {
		t.Errorf("ETH fields should fail independently: %+v", eth)
	}
	usdt, _ := snap.Token(types.TokenUSDT)
	if usdt.Balance.State != types.FieldReady {
		t.Errorf("USDT should be unaffected: %+v", usdt)
	}
}

func TestRefresh_AllFailed(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	for _, sym := range types.SupportedTokens {
		m.FailReads(sym, errors.New("node down"))
	}
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("expected ErrDataUnavailable, got %v", err)
	}
	if !snap.Unavailable || snap.HasAnyStake {
		t.Errorf("unexpected snapshot: unavailable=%v hasAnyStake=%v", snap.Unavailable, snap.HasAnyStake)
	}
	if r.Snapshot() != snap {
		t.Error("the unavailable snapshot should still be published")
	}
}

func TestRefresh_AdminFieldsIsolated(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	m.FailAdminReads(errors.New("owner() reverted"))
	r := newTestReconciler(t, m, WithOwner(alice))
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap.TestMode != nil || snap.Owner != nil {
		t.Error("failed admin reads should leave their fields unset")
	}
	if !snap.IsOwner {
		t.Error("configured owner should be used when owner() fails")
	}
	for _, v := range snap.Tokens {
		if v.StakeState != types.FieldReady {
			t.Errorf("%s affected by admin read failure", v.Symbol)
		}
	}
}

func TestRefresh_OwnerAndTestMode(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	m.SetOwner(alice)
	m.SetTestMode(true)
	r := newTestReconciler(t, m, WithOwner(bob))

	r.switchSession(connected(alice))
	snap, _ := r.Refresh(context.Background())
	if !snap.IsOwner || snap.TestMode == nil || !*snap.TestMode {
		t.Errorf("alice: isOwner=%v testMode=%v", snap.IsOwner, snap.TestMode)
	}

	// Contract owner wins over the configured one.
	r.switchSession(connected(bob))
	snap, _ = r.Refresh(context.Background())
	if snap.IsOwner {
		t.Error("bob should not be owner")
	}
}

type staticPrices map[types.TokenSymbol]decimal.Decimal

func (p staticPrices) Prices(context.Context, []types.TokenSymbol) (map[types.TokenSymbol]decimal.Decimal, error) {
	return p, nil
}

type failingPrices struct{}

func (failingPrices) Prices(context.Context, []types.TokenSymbol) (map[types.TokenSymbol]decimal.Decimal, error) {
	return nil, pricefeed.ErrPriceUnavailable
}

func TestRefresh_Prices(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	r := newTestReconciler(t, m, WithPriceSource(staticPrices{types.TokenETH: decimal.NewFromInt(3000)}))
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	eth, _ := snap.Token(types.TokenETH)
	if eth.PriceUSD == nil || !eth.PriceUSD.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("ETH price = %v", eth.PriceUSD)
	}
	btc, _ := snap.Token(types.TokenBTC)
	if btc.PriceUSD != nil {
		t.Errorf("BTC price should be unknown, got %v", btc.PriceUSD)
	}
}

func TestRefresh_PriceFailureDoesNotBlock(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	r := newTestReconciler(t, m, WithPriceSource(failingPrices{}))
	r.switchSession(connected(alice))

	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("price failure leaked into refresh: %v", err)
	}
	if snap.Unavailable {
		t.Error("price failure marked snapshot unavailable")
	}
}

func TestRefresh_AccountChangeDiscardsResult(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	m.SetBalance(types.TokenUSDT, alice, amount(t, "99"))
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	var block atomic.Bool
	block.Store(true)
	entered := make(chan struct{})
	var once sync.Once
	m.SetReadHook(func(ctx context.Context, method string, token types.TokenSymbol) {
		if !block.Load() {
			return
		}
		once.Do(func() { close(entered) })
		<-ctx.Done()
	})

	done := make(chan *types.Snapshot, 1)
	go func() {
		snap, _ := r.Refresh(context.Background())
		done <- snap
	}()

	<-entered
	block.Store(false)
	r.switchSession(connected(bob))

	var snap *types.Snapshot
	select {
	case snap = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not return after account change")
	}
	if snap.Account == nil || *snap.Account != bob {
		t.Errorf("refresh returned a snapshot for %v, want bob's reset snapshot", snap.Account)
	}
	cur := r.Snapshot()
	if *cur.Account != bob {
		t.Fatalf("current snapshot belongs to %s", cur.Account.Hex())
	}
	usdt, _ := cur.Token(types.TokenUSDT)
	if usdt.Balance.State != types.FieldNotConnected {
		t.Errorf("alice's data leaked into bob's snapshot: %+v", usdt.Balance)
	}
}

func TestTryRefresh_SkipsWhenBusy(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	r := newTestReconciler(t, m)
	r.switchSession(connected(alice))

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	m.SetReadHook(func(ctx context.Context, method string, token types.TokenSymbol) {
		once.Do(func() { close(entered) })
		<-release
	})

	done := make(chan error, 1)
	go func() {
		_, err := r.Refresh(context.Background())
		done <- err
	}()
	<-entered

	_, ran, err := r.TryRefresh(context.Background())
	if ran || err != nil {
		t.Errorf("TryRefresh while busy: ran=%v err=%v", ran, err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	_, ran, _ = r.TryRefresh(context.Background())
	if !ran {
		t.Error("TryRefresh should run once idle")
	}
}

func TestHandleSession_PollingLifecycle(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	m.SetBalance(types.TokenBTC, alice, amount(t, "3"))
	r := newTestReconciler(t, m)

	ch := make(chan *types.Snapshot, 16)
	sub := r.Subscribe(ch)
	defer sub.Unsubscribe()

	r.HandleSession(session.Event{Kind: session.Established, Session: connected(alice)})
	if !r.Polling() {
		t.Fatal("poller should run while connected")
	}

	deadline := time.After(5 * time.Second)
	for ready := false; !ready; {
		select {
		case snap := <-ch:
			btc, _ := snap.Token(types.TokenBTC)
			ready = btc.Balance.State == types.FieldReady
		case <-deadline:
			t.Fatal("no refreshed snapshot after session established")
		}
	}

	r.HandleSession(session.Event{Kind: session.Disconnected})
	if r.Polling() {
		t.Error("poller should stop on disconnect")
	}
	snap := r.Snapshot()
	if snap.Connected() {
		t.Error("snapshot should be the baseline after disconnect")
	}
	for _, v := range snap.Tokens {
		if v.StakeState != types.FieldNotConnected || v.Balance.State != types.FieldNotConnected {
			t.Errorf("%s not reset: %+v", v.Symbol, v)
		}
	}
}

func TestSubscribe_SeqIncreases(t *testing.T) {
	m := chain.NewMockLedger(stakingAddr)
	r := newTestReconciler(t, m)

	ch := make(chan *types.Snapshot, 8)
	sub := r.Subscribe(ch)
	defer sub.Unsubscribe()

	r.switchSession(connected(alice))
	if _, err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	r.Reset()

	var last uint64
	for i := 0; i < 3; i++ {
		snap := <-ch
		if snap.Seq <= last {
			t.Errorf("snapshot %d: seq %d after %d", i, snap.Seq, last)
		}
		last = snap.Seq
	}
}
