package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/whalestrategy/whalestake/pkg/types"
)

const mockEarlyPenaltyBips = 600

// MockCall is one recorded Ledger call.
type MockCall struct {
	Method  string
	Token   types.TokenSymbol
	Account common.Address
	Amount  *big.Int
	Months  int64
	Enabled bool
	Gas     GasParams
}

type mockOp struct {
	kind    types.TxKind
	token   types.TokenSymbol
	sender  common.Address
	spender common.Address
	amount  *big.Int
	months  int64
	enabled bool
}

// MockLedger is an in-memory Ledger. State changes from a submitted
// transaction are applied when WaitMined is called for it, the way a real
// transaction only takes effect once mined.
type MockLedger struct {
	mu sync.Mutex

	staking  common.Address
	owner    common.Address
	testMode bool
	sender   common.Address
	now      func() time.Time

	balances   map[types.TokenSymbol]map[common.Address]*big.Int
	allowances map[types.TokenSymbol]map[common.Address]*big.Int // owner -> amount approved to staking
	stakes     map[types.TokenSymbol]map[common.Address]*types.StakeRecord

	stakeReadErrs   map[types.TokenSymbol]error
	balanceReadErrs map[types.TokenSymbol]error
	adminReadErr    error
	submitErrs      map[types.TxKind]error
	waitErrs        map[types.TxKind]error
	readHook        func(ctx context.Context, method string, token types.TokenSymbol)

	pending map[common.Hash]mockOp
	nonce   uint64
	calls   []MockCall
}

var _ Ledger = (*MockLedger)(nil)

// NewMockLedger creates an empty mock for the given staking contract address
func NewMockLedger(staking common.Address) *MockLedger {
	return &MockLedger{
		staking:         staking,
		now:             time.Now,
		balances:        make(map[types.TokenSymbol]map[common.Address]*big.Int),
		allowances:      make(map[types.TokenSymbol]map[common.Address]*big.Int),
		stakes:          make(map[types.TokenSymbol]map[common.Address]*types.StakeRecord),
		stakeReadErrs:   make(map[types.TokenSymbol]error),
		balanceReadErrs: make(map[types.TokenSymbol]error),
		submitErrs:      make(map[types.TxKind]error),
		waitErrs:        make(map[types.TxKind]error),
		pending:         make(map[common.Hash]mockOp),
	}
}

// Test setup

func (m *MockLedger) SetSender(addr common.Address) { m.with(func() { m.sender = addr }) }
func (m *MockLedger) SetOwner(addr common.Address)  { m.with(func() { m.owner = addr }) }
func (m *MockLedger) SetTestMode(v bool)            { m.with(func() { m.testMode = v }) }
func (m *MockLedger) SetClock(now func() time.Time) { m.with(func() { m.now = now }) }

func (m *MockLedger) SetBalance(sym types.TokenSymbol, acct common.Address, v *big.Int) {
	m.with(func() { setIn(m.balances, sym, acct, new(big.Int).Set(v)) })
}

func (m *MockLedger) SetAllowance(sym types.TokenSymbol, owner common.Address, v *big.Int) {
	m.with(func() { setIn(m.allowances, sym, owner, new(big.Int).Set(v)) })
}

func (m *MockLedger) SetStake(sym types.TokenSymbol, acct common.Address, r *types.StakeRecord) {
	m.with(func() { setIn(m.stakes, sym, acct, r.Clone()) })
}

// FailReads makes both the stake and balance reads for sym fail with err.
// A nil err clears the failure.
func (m *MockLedger) FailReads(sym types.TokenSymbol, err error) {
	m.with(func() {
		m.stakeReadErrs[sym] = err
		m.balanceReadErrs[sym] = err
	})
}

func (m *MockLedger) FailStakeReads(sym types.TokenSymbol, err error) {
	m.with(func() { m.stakeReadErrs[sym] = err })
}

func (m *MockLedger) FailBalanceReads(sym types.TokenSymbol, err error) {
	m.with(func() { m.balanceReadErrs[sym] = err })
}

func (m *MockLedger) FailAdminReads(err error) { m.with(func() { m.adminReadErr = err }) }

// FailSubmit makes the next submits of kind fail, e.g. with a wallet rejection
func (m *MockLedger) FailSubmit(kind types.TxKind, err error) {
	m.with(func() { m.submitErrs[kind] = err })
}

// FailWait makes WaitMined fail for transactions of kind
func (m *MockLedger) FailWait(kind types.TxKind, err error) {
	m.with(func() { m.waitErrs[kind] = err })
}

// SetReadHook installs a callback run at the start of every read, outside
// the mock's lock. Tests use it to block or interleave reads.
func (m *MockLedger) SetReadHook(fn func(ctx context.Context, method string, token types.TokenSymbol)) {
	m.with(func() { m.readHook = fn })
}

// Calls returns a copy of every recorded call
func (m *MockLedger) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount counts recorded calls of one method
func (m *MockLedger) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log
func (m *MockLedger) ResetCalls() { m.with(func() { m.calls = nil }) }

// Stake returns the stored record for assertions
func (m *MockLedger) Stake(sym types.TokenSymbol, acct common.Address) *types.StakeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stakeLocked(sym, acct).Clone()
}

// Ledger implementation

func (m *MockLedger) StakingAddress() common.Address { return m.staking }

func (m *MockLedger) ReadBalance(ctx context.Context, sym types.TokenSymbol, acct common.Address) (*big.Int, error) {
	if err := m.beforeRead(ctx, "ReadBalance", sym, acct, m.balanceReadErrs); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrZero(getIn(m.balances, sym, acct)), nil
}

func (m *MockLedger) ReadAllowance(ctx context.Context, sym types.TokenSymbol, owner, spender common.Address) (*big.Int, error) {
	if err := m.beforeRead(ctx, "ReadAllowance", sym, owner, nil); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if spender != m.staking {
		return big.NewInt(0), nil
	}
	return cloneOrZero(getIn(m.allowances, sym, owner)), nil
}

func (m *MockLedger) ReadStakeInfo(ctx context.Context, sym types.TokenSymbol, acct common.Address) (*types.StakeRecord, error) {
	if err := m.beforeRead(ctx, "ReadStakeInfo", sym, acct, m.stakeReadErrs); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stakeLocked(sym, acct).Clone(), nil
}

func (m *MockLedger) ReadTestMode(ctx context.Context) (bool, error) {
	if err := m.beforeAdminRead(ctx, "ReadTestMode"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.testMode, nil
}

func (m *MockLedger) ReadOwner(ctx context.Context) (common.Address, error) {
	if err := m.beforeAdminRead(ctx, "ReadOwner"); err != nil {
		return common.Address{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner, nil
}

func (m *MockLedger) SubmitApprove(ctx context.Context, sym types.TokenSymbol, spender common.Address, amount *big.Int) (*TxHandle, error) {
	return m.submit(ctx, MockCall{Method: "SubmitApprove", Token: sym, Amount: cloneOrZero(amount)},
		mockOp{kind: types.TxKindApprove, token: sym, spender: spender, amount: cloneOrZero(amount)})
}

func (m *MockLedger) SubmitStake(ctx context.Context, sym types.TokenSymbol, months int64, amount *big.Int, gas GasParams) (*TxHandle, error) {
	return m.submit(ctx, MockCall{Method: "SubmitStake", Token: sym, Amount: cloneOrZero(amount), Months: months, Gas: gas},
		mockOp{kind: types.TxKindStake, token: sym, amount: cloneOrZero(amount), months: months})
}

func (m *MockLedger) SubmitUnstake(ctx context.Context, sym types.TokenSymbol, gas GasParams) (*TxHandle, error) {
	return m.submit(ctx, MockCall{Method: "SubmitUnstake", Token: sym, Gas: gas},
		mockOp{kind: types.TxKindUnstake, token: sym})
}

func (m *MockLedger) SubmitToggleTestMode(ctx context.Context, enabled bool, gas GasParams) (*TxHandle, error) {
	return m.submit(ctx, MockCall{Method: "SubmitToggleTestMode", Enabled: enabled, Gas: gas},
		mockOp{kind: types.TxKindToggleTestMode, enabled: enabled})
}

func (m *MockLedger) WaitMined(ctx context.Context, h *TxHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, MockCall{Method: "WaitMined", Token: h.Token})
	op, ok := m.pending[h.Hash]
	if !ok {
		return fmt.Errorf("unknown transaction %s", h.Hash.Hex())
	}
	delete(m.pending, h.Hash)

	if err := m.waitErrs[op.kind]; err != nil {
		return err
	}
	if reason := m.applyLocked(op); reason != "" {
		return fmt.Errorf("%s %s: %w", op.kind, h.Hash.Hex(), &RevertError{Reason: reason})
	}
	return nil
}

// applyLocked mutates state for a mined op and returns a revert reason, if any
func (m *MockLedger) applyLocked(op mockOp) string {
	switch op.kind {
	case types.TxKindApprove:
		if op.spender == m.staking {
			setIn(m.allowances, op.token, op.sender, op.amount)
		}

	case types.TxKindStake:
		if m.stakeLocked(op.token, op.sender).Active() {
			return RevertAlreadyStaked
		}
		allowance := cloneOrZero(getIn(m.allowances, op.token, op.sender))
		if allowance.Cmp(op.amount) < 0 {
			return RevertLowAllowance
		}
		balance := cloneOrZero(getIn(m.balances, op.token, op.sender))
		if balance.Cmp(op.amount) < 0 {
			return RevertLowBalance
		}
		setIn(m.allowances, op.token, op.sender, allowance.Sub(allowance, op.amount))
		setIn(m.balances, op.token, op.sender, balance.Sub(balance, op.amount))

		start := m.now().UTC().Truncate(time.Second)
		end := start.Add(lockDuration(op.months))
		setIn(m.stakes, op.token, op.sender, &types.StakeRecord{
			StakedAmount: new(big.Int).Set(op.amount),
			Rewards:      big.NewInt(0),
			StakedAt:     &start,
			UnlockAt:     &end,
		})

	case types.TxKindUnstake:
		rec := m.stakeLocked(op.token, op.sender)
		if !rec.Active() {
			return RevertNoActiveStake
		}
		payout := new(big.Int).Set(rec.StakedAmount)
		if rec.Locked(m.now()) {
			penalty := new(big.Int).Mul(rec.StakedAmount, big.NewInt(mockEarlyPenaltyBips))
			payout.Sub(payout, penalty.Div(penalty, big.NewInt(10000)))
		} else {
			payout.Add(payout, rec.Rewards)
		}
		balance := cloneOrZero(getIn(m.balances, op.token, op.sender))
		setIn(m.balances, op.token, op.sender, balance.Add(balance, payout))
		setIn(m.stakes, op.token, op.sender, types.EmptyStakeRecord())

	case types.TxKindToggleTestMode:
		if op.sender != m.owner {
			return RevertNotOwner
		}
		m.testMode = op.enabled
	}
	return ""
}

// lockDuration mirrors the contract's month handling: 12 months is a year
func lockDuration(months int64) time.Duration {
	days := months * 30
	if months == 12 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

func (m *MockLedger) submit(ctx context.Context, call MockCall, op mockOp) (*TxHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	call.Account = m.sender
	m.calls = append(m.calls, call)
	if err := m.submitErrs[op.kind]; err != nil {
		return nil, err
	}

	m.nonce++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], m.nonce)
	hash := crypto.Keccak256Hash(m.sender.Bytes(), buf[:])

	op.sender = m.sender
	m.pending[hash] = op
	return &TxHandle{Hash: hash, Kind: op.kind, Token: op.token}, nil
}

func (m *MockLedger) beforeRead(ctx context.Context, method string, sym types.TokenSymbol, acct common.Address, errs map[types.TokenSymbol]error) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method, Token: sym, Account: acct})
	hook := m.readHook
	var injected error
	if errs != nil {
		injected = errs[sym]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, method, sym)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadFailure, method, err)
	}
	if injected != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrReadFailure, sym, method, injected)
	}
	return nil
}

func (m *MockLedger) beforeAdminRead(ctx context.Context, method string) error {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Method: method})
	hook := m.readHook
	injected := m.adminReadErr
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, method, "")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadFailure, method, err)
	}
	if injected != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadFailure, method, injected)
	}
	return nil
}

func (m *MockLedger) stakeLocked(sym types.TokenSymbol, acct common.Address) *types.StakeRecord {
	if r := getIn(m.stakes, sym, acct); r != nil {
		return r
	}
	return types.EmptyStakeRecord()
}

func (m *MockLedger) with(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

func getIn[V any](mm map[types.TokenSymbol]map[common.Address]V, sym types.TokenSymbol, acct common.Address) V {
	return mm[sym][acct]
}

func setIn[V any](mm map[types.TokenSymbol]map[common.Address]V, sym types.TokenSymbol, acct common.Address, v V) {
	inner, ok := mm[sym]
	if !ok {
		inner = make(map[common.Address]V)
		mm[sym] = inner
	}
	inner[acct] = v
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
