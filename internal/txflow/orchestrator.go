// Package txflow sequences approve, stake, unstake and admin transactions
// against the staking contract and classifies their failures.
package txflow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/metrics"
	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

var (
	ErrNotConnected  = errors.New("wallet not connected")
	ErrInvalidAmount = units.ErrInvalidAmount
	ErrNoDuration    = errors.New("no staking duration selected")
	ErrCancelled     = errors.New("cancelled by user")
	ErrTxInFlight    = errors.New("a transaction for this token is already pending")
	ErrNotOwner      = errors.New("connected account is not the contract owner")
	ErrNoActiveStake = errors.New("no active stake")
)

// adminKey gates admin calls, which have no token
const adminKey types.TokenSymbol = ""

// Refresher is the reconciler surface the orchestrator triggers.
type Refresher interface {
	Refresh(ctx context.Context) (*types.Snapshot, error)
	Snapshot() *types.Snapshot
}

// SessionSource reports the connected account.
type SessionSource interface {
	Current() types.Session
}

// Config holds the parameters every submission uses
type Config struct {
	Gas            chain.GasParams
	PenaltyPercent int
	Owner          common.Address // fallback when owner() cannot be read
}

// StakeRequest is a stake as entered by the user
type StakeRequest struct {
	Token    types.TokenSymbol
	Amount   string
	Duration string
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithForms shares form state with the caller
func WithForms(f *Forms) Option {
	return func(o *Orchestrator) { o.forms = f }
}

// Orchestrator runs the approve-then-act transaction flows. It never writes
// snapshot state; confirmed transactions trigger a reconciler refresh.
type Orchestrator struct {
	ledger    chain.Ledger
	sessions  SessionSource
	refresher Refresher
	confirmer Confirmer
	notifier  Notifier
	metrics   *metrics.Collector
	forms     *Forms
	now       func() time.Time
	cfg       Config

	mu      sync.Mutex
	pending map[types.TokenSymbol]*types.PendingTx
}

// New creates an orchestrator
func New(l chain.Ledger, sessions SessionSource, refresher Refresher, confirmer Confirmer, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		ledger:    l,
		sessions:  sessions,
		refresher: refresher,
		confirmer: confirmer,
		notifier:  nopNotifier{},
		forms:     NewForms(),
		now:       time.Now,
		cfg:       cfg,
		pending:   make(map[types.TokenSymbol]*types.PendingTx),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Forms returns the per-token form state
func (o *Orchestrator) Forms() *Forms {
	return o.forms
}

// Pending returns the in-flight transaction for sym, if any
func (o *Orchestrator) Pending(sym types.TokenSymbol) (types.PendingTx, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[sym]
	if !ok {
		return types.PendingTx{}, false
	}
	return *p, true
}

// Stake validates req, asks for confirmation, approves exactly the amount
// when the allowance is short, then stakes and refreshes.
func (o *Orchestrator) Stake(ctx context.Context, req StakeRequest) (*types.PendingTx, error) {
	account, err := o.account()
	if err != nil {
		return nil, err
	}
	if !req.Token.IsValid() {
		return nil, fmt.Errorf("%w: %q", chain.ErrUnknownToken, req.Token)
	}
	human, err := units.ParsePositive(req.Amount)
	if err != nil {
		return nil, err
	}
	amount, err := units.ToBaseUnits(human, units.Decimals)
	if err != nil {
		return nil, err
	}
	if req.Duration == "" {
		return nil, ErrNoDuration
	}
	months := MonthsForLabel(req.Duration)

	release, err := o.begin(req.Token, types.TxKindStake, amount)
	if err != nil {
		return nil, err
	}
	defer release()

	audit := logging.TxAuditEvent{
		Kind:    string(types.TxKindStake),
		Account: account.Hex(),
		Token:   string(req.Token),
		Amount:  human.String(),
	}

	ok, err := o.confirmer.Confirm(ctx, stakePrompt(req.Token, human.String(), req.Duration, months))
	if err != nil {
		return nil, o.fail(audit, classifyErr(audit.Kind, err))
	}
	if !ok {
		o.cancelled(audit)
		return nil, ErrCancelled
	}

	staking := o.ledger.StakingAddress()
	allowance, err := o.ledger.ReadAllowance(ctx, req.Token, account, staking)
	if err != nil {
		return nil, o.fail(audit, &TxError{Kind: audit.Kind, Outcome: Failed, Err: err})
	}

	if allowance.Cmp(amount) < 0 {
		approve := audit
		approve.Kind = string(types.TxKindApprove)
		h, err := o.ledger.SubmitApprove(ctx, req.Token, staking, amount)
		if err != nil {
			return nil, o.fail(approve, classifyErr(approve.Kind, err))
		}
		if _, err := o.await(ctx, approve, h, amount); err != nil {
			return nil, err
		}
	}

	h, err := o.ledger.SubmitStake(ctx, req.Token, months, amount, o.cfg.Gas)
	if err != nil {
		return nil, o.fail(audit, classifyErr(audit.Kind, err))
	}
	tx, err := o.await(ctx, audit, h, amount)
	if err != nil {
		return nil, err
	}

	o.forms.Reset(req.Token)
	o.refresh(ctx)
	return tx, nil
}

// Unstake withdraws the stake for sym. Inside the lock period the user must
// accept the early-exit penalty first.
func (o *Orchestrator) Unstake(ctx context.Context, sym types.TokenSymbol) (*types.PendingTx, error) {
	account, err := o.account()
	if err != nil {
		return nil, err
	}
	if !sym.IsValid() {
		return nil, fmt.Errorf("%w: %q", chain.ErrUnknownToken, sym)
	}

	release, err := o.begin(sym, types.TxKindUnstake, nil)
	if err != nil {
		return nil, err
	}
	defer release()

	audit := logging.TxAuditEvent{
		Kind:    string(types.TxKindUnstake),
		Account: account.Hex(),
		Token:   string(sym),
	}

	rec, err := o.stakeRecord(ctx, sym, account)
	if err != nil {
		return nil, o.fail(audit, &TxError{Kind: audit.Kind, Outcome: Failed, Err: err})
	}
	if !rec.Active() {
		return nil, ErrNoActiveStake
	}
	audit.Amount = units.FromBaseUnits(rec.StakedAmount, units.Decimals).String()

	if rec.Locked(o.now()) {
		p := earlyUnstakePrompt(sym, audit.Amount, rec.UnlockAt.UTC().Format(time.RFC1123), o.cfg.PenaltyPercent)
		ok, err := o.confirmer.Confirm(ctx, p)
		if err != nil {
			return nil, o.fail(audit, classifyErr(audit.Kind, err))
		}
		if !ok {
			o.cancelled(audit)
			return nil, ErrCancelled
		}
	}

	h, err := o.ledger.SubmitUnstake(ctx, sym, o.cfg.Gas)
	if err != nil {
		return nil, o.fail(audit, classifyErr(audit.Kind, err))
	}
	tx, err := o.await(ctx, audit, h, rec.StakedAmount)
	if err != nil {
		return nil, err
	}
	o.refresh(ctx)
	return tx, nil
}

// ToggleTestMode flips the contract's test mode. Only the owner may call it.
func (o *Orchestrator) ToggleTestMode(ctx context.Context) (bool, error) {
	account, err := o.account()
	if err != nil {
		return false, err
	}

	owner, err := o.ledger.ReadOwner(ctx)
	if err != nil {
		logging.Warn("owner read failed, using configured owner", logging.Err(err))
		owner = o.cfg.Owner
	}
	if owner == (common.Address{}) || owner != account {
		return false, ErrNotOwner
	}

	release, err := o.begin(adminKey, types.TxKindToggleTestMode, nil)
	if err != nil {
		return false, err
	}
	defer release()

	audit := logging.TxAuditEvent{
		Kind:    string(types.TxKindToggleTestMode),
		Account: account.Hex(),
	}

	current, err := o.ledger.ReadTestMode(ctx)
	if err != nil {
		return false, o.fail(audit, &TxError{Kind: audit.Kind, Outcome: Failed, Err: err})
	}
	next := !current
	audit.Detail = fmt.Sprintf("enabled=%t", next)

	ok, err := o.confirmer.Confirm(ctx, toggleTestModePrompt(owner, next))
	if err != nil {
		return false, o.fail(audit, classifyErr(audit.Kind, err))
	}
	if !ok {
		o.cancelled(audit)
		return false, ErrCancelled
	}

	h, err := o.ledger.SubmitToggleTestMode(ctx, next, o.cfg.Gas)
	if err != nil {
		return false, o.fail(audit, classifyErr(audit.Kind, err))
	}
	if _, err := o.await(ctx, audit, h, nil); err != nil {
		return false, err
	}
	o.refresh(ctx)
	return next, nil
}

func (o *Orchestrator) account() (common.Address, error) {
	sess := o.sessions.Current()
	if !sess.Connected || sess.Address == nil {
		return common.Address{}, ErrNotConnected
	}
	return *sess.Address, nil
}

// begin claims the per-token gate. The returned func releases it.
func (o *Orchestrator) begin(sym types.TokenSymbol, kind types.TxKind, amount *big.Int) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.pending[sym]; busy {
		return nil, ErrTxInFlight
	}
	o.pending[sym] = &types.PendingTx{Kind: kind, Token: sym, Amount: amount}
	return func() {
		o.mu.Lock()
		delete(o.pending, sym)
		o.mu.Unlock()
	}, nil
}

// stakeRecord prefers the latest snapshot for the same account, so an
// early-unstake prompt can be shown without touching the chain. A missing or
// inactive snapshot record is re-read from chain.
func (o *Orchestrator) stakeRecord(ctx context.Context, sym types.TokenSymbol, account common.Address) (*types.StakeRecord, error) {
	snap := o.refresher.Snapshot()
	if snap.Connected() && *snap.Account == account {
		if v, ok := snap.Token(sym); ok && v.StakeState == types.FieldReady && v.Stake != nil && v.Stake.Record.Active() {
			return v.Stake.Record, nil
		}
	}
	return o.ledger.ReadStakeInfo(ctx, sym, account)
}

// await reports h as submitted, waits for it to be mined and resolves it.
func (o *Orchestrator) await(ctx context.Context, audit logging.TxAuditEvent, h *chain.TxHandle, amount *big.Int) (*types.PendingTx, error) {
	tx := types.PendingTx{
		Kind:        h.Kind,
		Token:       h.Token,
		Amount:      amount,
		Hash:        h.Hash,
		Status:      types.TxStatusSubmitted,
		SubmittedAt: o.now(),
	}
	o.track(tx)
	o.notifier.Submitted(tx)
	logging.Info("transaction submitted", "kind", string(tx.Kind), logging.Token(string(tx.Token)), logging.TxHash(tx.Hash.Hex()))

	audit.TxHash = h.Hash.Hex()
	if err := o.ledger.WaitMined(ctx, h); err != nil {
		te := classifyErr(audit.Kind, err)
		tx.Status = statusFor(te.Outcome)
		o.notifier.Resolved(tx, te)
		return nil, o.fail(audit, te)
	}

	tx.Status = types.TxStatusConfirmed
	o.notifier.Resolved(tx, nil)
	audit.Outcome = string(types.TxStatusConfirmed)
	logging.AuditTx(audit)
	o.metrics.RecordTx(audit.Kind, audit.Outcome)
	return &tx, nil
}

func (o *Orchestrator) track(tx types.PendingTx) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := tx.Token
	if tx.Kind == types.TxKindToggleTestMode {
		key = adminKey
	}
	if p, ok := o.pending[key]; ok {
		*p = tx
	}
}

func (o *Orchestrator) fail(audit logging.TxAuditEvent, te *TxError) error {
	audit.Outcome = te.Outcome.String()
	audit.Detail = te.Error()
	logging.AuditTx(audit)
	o.metrics.RecordTx(audit.Kind, audit.Outcome)
	return te
}

func (o *Orchestrator) cancelled(audit logging.TxAuditEvent) {
	audit.Outcome = "cancelled"
	logging.AuditTx(audit)
	o.metrics.RecordTx(audit.Kind, audit.Outcome)
}

func (o *Orchestrator) refresh(ctx context.Context) {
	if _, err := o.refresher.Refresh(ctx); err != nil {
		logging.Warn("refresh after transaction failed", logging.Err(err))
	}
}

func statusFor(out Outcome) types.TxStatus {
	if out == UserDenied {
		return types.TxStatusDenied
	}
	return types.TxStatusFailed
}
