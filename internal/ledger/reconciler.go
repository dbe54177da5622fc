// Package ledger keeps the connected account's staking snapshot in step
// with the chain. The Reconciler is the only writer of the snapshot.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/metrics"
	"github.com/whalestrategy/whalestake/internal/pricefeed"
	"github.com/whalestrategy/whalestake/internal/session"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// ErrDataUnavailable is returned when every token read in a refresh failed.
var ErrDataUnavailable = errors.New("staking data unavailable")

const (
	defaultPollInterval = 5 * time.Second
	defaultReadTimeout  = 10 * time.Second
	priceTimeout        = 3 * time.Second
)

// Option configures a Reconciler
type Option func(*Reconciler)

// WithPriceSource attaches a best-effort USD price source
func WithPriceSource(src pricefeed.Source) Option {
	return func(r *Reconciler) { r.prices = src }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithOwner sets the configured owner, used when the contract's owner()
// read fails.
func WithOwner(owner common.Address) Option {
	return func(r *Reconciler) { r.owner = owner }
}

func WithReadTimeout(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.readTimeout = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// Reconciler reads stake records, balances and admin fields for the
// connected account and publishes them as immutable snapshots.
type Reconciler struct {
	ledger       chain.Ledger
	prices       pricefeed.Source
	metrics      *metrics.Collector
	now          func() time.Time
	owner        common.Address
	readTimeout  time.Duration
	pollInterval time.Duration

	poller *Poller

	// refreshMu serializes refresh cycles
	refreshMu sync.Mutex

	// pubMu keeps snapshot assignment and delivery in Seq order
	pubMu sync.Mutex

	mu       sync.Mutex
	session  types.Session
	gen      uint64 // bumped on every session transition
	snap     *types.Snapshot
	seq      uint64
	inflight context.CancelFunc

	feed  event.Feed
	scope event.SubscriptionScope
}

// New creates a reconciler in the disconnected state. The poller is created
// here but only runs while an account is connected.
func New(l chain.Ledger, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		ledger:       l,
		now:          time.Now,
		readTimeout:  defaultReadTimeout,
		pollInterval: defaultPollInterval,
		snap:         types.BaselineSnapshot(),
	}
	for _, opt := range opts {
		opt(r)
	}

	poller, err := NewPoller(r.pollInterval, func(ctx context.Context) {
		if _, _, err := r.TryRefresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logging.Debug("poll refresh failed", logging.Err(err))
		}
	})
	if err != nil {
		return nil, err
	}
	r.poller = poller
	return r, nil
}

// Snapshot returns the latest published snapshot
func (r *Reconciler) Snapshot() *types.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Subscribe registers ch for every published snapshot. Delivery blocks
// until ch accepts, so subscribers must drain promptly and must not call
// Refresh from the receiving goroutine.
func (r *Reconciler) Subscribe(ch chan<- *types.Snapshot) event.Subscription {
	return r.scope.Track(r.feed.Subscribe(ch))
}

// Polling reports whether the background poller is scheduled
func (r *Reconciler) Polling() bool {
	return r.poller.Running()
}

// HandleSession reacts to a session transition: a new account resets the
// snapshot and starts polling with an immediate refresh, a disconnect stops
// polling and publishes the baseline.
func (r *Reconciler) HandleSession(ev session.Event) {
	switch ev.Kind {
	case session.Established, session.AccountChanged:
		r.switchSession(ev.Session)
		if err := r.poller.Start(); err != nil {
			logging.Error("failed to start ledger poller", logging.Err(err))
		}
	case session.Disconnected:
		r.poller.Stop()
		r.switchSession(types.Session{})
	}
}

// Reset drops the current snapshot back to the baseline for the current
// session without touching the poller.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	r.switchSession(sess)
}

func (r *Reconciler) switchSession(sess types.Session) {
	r.mu.Lock()
	r.session = sess
	r.gen++
	if r.inflight != nil {
		r.inflight()
		r.inflight = nil
	}
	r.mu.Unlock()

	base := types.BaselineSnapshot()
	if sess.Connected {
		addr := *sess.Address
		base.Account = &addr
	}
	r.publish(base, 0)
}

// Refresh runs one read cycle and publishes the result. It waits for any
// cycle already in progress. While disconnected it returns the current
// snapshot without reading.
func (r *Reconciler) Refresh(ctx context.Context) (*types.Snapshot, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	return r.refresh(ctx)
}

// TryRefresh is Refresh that returns ran=false instead of waiting when a
// cycle is already in progress.
func (r *Reconciler) TryRefresh(ctx context.Context) (snap *types.Snapshot, ran bool, err error) {
	if !r.refreshMu.TryLock() {
		return r.Snapshot(), false, nil
	}
	defer r.refreshMu.Unlock()
	snap, err = r.refresh(ctx)
	return snap, true, err
}

type tokenRead struct {
	stake    *types.StakeRecord
	stakeErr error
	balance  *big.Int
	balErr   error
}

type adminRead struct {
	testMode    bool
	testModeErr error
	owner       common.Address
	ownerErr    error
	prices      map[types.TokenSymbol]decimal.Decimal
}

func (r *Reconciler) refresh(ctx context.Context) (*types.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.readTimeout)
	defer cancel()

	r.mu.Lock()
	sess, gen := r.session, r.gen
	if !sess.Connected {
		snap := r.snap
		r.mu.Unlock()
		return snap, nil
	}
	r.inflight = cancel
	r.mu.Unlock()

	start := time.Now()
	account := *sess.Address
	syms := types.SupportedTokens
	reads := make([]tokenRead, len(syms))
	var admin adminRead

	// Every goroutine returns nil: a failed read only marks its own field.
	var g errgroup.Group
	for i, sym := range syms {
		g.Go(func() error {
			reads[i].stake, reads[i].stakeErr = r.ledger.ReadStakeInfo(ctx, sym, account)
			return nil
		})
		g.Go(func() error {
			reads[i].balance, reads[i].balErr = r.ledger.ReadBalance(ctx, sym, account)
			return nil
		})
	}
	g.Go(func() error {
		admin.testMode, admin.testModeErr = r.ledger.ReadTestMode(ctx)
		return nil
	})
	g.Go(func() error {
		admin.owner, admin.ownerErr = r.ledger.ReadOwner(ctx)
		return nil
	})
	if r.prices != nil {
		g.Go(func() error {
			pctx, pcancel := context.WithTimeout(ctx, priceTimeout)
			defer pcancel()
			prices, err := r.prices.Prices(pctx, syms)
			if err != nil {
				logging.Debug("price lookup failed", logging.Err(err))
			}
			admin.prices = prices
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	stale := r.gen != gen
	if r.inflight != nil && !stale {
		r.inflight = nil
	}
	current := r.snap
	r.mu.Unlock()

	if stale {
		logging.Debug("discarding refresh for previous account", logging.Account(account.Hex()))
		r.metrics.RecordRefresh(metrics.RefreshDiscarded, time.Since(start))
		return current, nil
	}

	snap := r.build(account, syms, reads, admin)
	result := metrics.RefreshOK
	switch {
	case snap.Unavailable:
		result = metrics.RefreshUnavailable
	case partial(reads, admin):
		result = metrics.RefreshPartial
	}
	r.metrics.RecordRefresh(result, time.Since(start))
	r.metrics.SetHasAnyStake(snap.HasAnyStake)

	if !r.publish(snap, gen) {
		r.metrics.RecordRefresh(metrics.RefreshDiscarded, 0)
		return r.Snapshot(), nil
	}
	if snap.Unavailable {
		logging.Warn("all token reads failed", logging.Account(account.Hex()))
		return snap, ErrDataUnavailable
	}
	return snap, nil
}

func (r *Reconciler) build(account common.Address, syms []types.TokenSymbol, reads []tokenRead, admin adminRead) *types.Snapshot {
	now := r.now()
	snap := &types.Snapshot{
		TakenAt:     now,
		Account:     &account,
		Tokens:      make([]types.TokenView, len(syms)),
		Unavailable: true,
	}

	for i, sym := range syms {
		rd := reads[i]
		view := types.TokenView{Symbol: sym}

		if rd.stakeErr != nil {
			view.StakeState = types.FieldUnavailable
			view.ReadError = rd.stakeErr.Error()
			r.metrics.RecordReadFailure(string(sym), "stake")
			logging.Warn("stake read failed", logging.Token(string(sym)), logging.Err(rd.stakeErr))
		} else {
			view.StakeState = types.FieldReady
			view.Stake = DeriveStake(rd.stake, types.DefaultTokenDecimals, now)
			if rd.stake.Active() {
				snap.HasAnyStake = true
			}
		}

		if rd.balErr != nil {
			view.Balance = types.BalanceField{State: types.FieldUnavailable}
			if view.ReadError == "" {
				view.ReadError = rd.balErr.Error()
			}
			r.metrics.RecordReadFailure(string(sym), "balance")
			logging.Warn("balance read failed", logging.Token(string(sym)), logging.Err(rd.balErr))
		} else {
			view.Balance = types.BalanceField{State: types.FieldReady, Amount: rd.balance}
		}

		if p, ok := admin.prices[sym]; ok {
			price := p
			view.PriceUSD = &price
		}
		if !view.Failed() {
			snap.Unavailable = false
		}
		snap.Tokens[i] = view
	}

	if admin.testModeErr == nil {
		tm := admin.testMode
		snap.TestMode = &tm
	} else {
		r.metrics.RecordReadFailure("", "test_mode")
		logging.Warn("test mode read failed", logging.Err(admin.testModeErr))
	}

	owner := r.owner
	if admin.ownerErr == nil {
		o := admin.owner
		snap.Owner = &o
		owner = o
	} else {
		r.metrics.RecordReadFailure("", "owner")
		logging.Warn("owner read failed", logging.Err(admin.ownerErr))
	}
	snap.IsOwner = owner != (common.Address{}) && owner == account
	return snap
}

func partial(reads []tokenRead, admin adminRead) bool {
	if admin.testModeErr != nil || admin.ownerErr != nil {
		return true
	}
	for _, rd := range reads {
		if rd.stakeErr != nil || rd.balErr != nil {
			return true
		}
	}
	return false
}

// publish stamps snap with the next Seq and delivers it. A gen of 0 always
// publishes; otherwise the snapshot is dropped if the session moved on.
func (r *Reconciler) publish(snap *types.Snapshot, gen uint64) bool {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	r.mu.Lock()
	if gen != 0 && gen != r.gen {
		r.mu.Unlock()
		return false
	}
	r.seq++
	snap.Seq = r.seq
	if snap.TakenAt.IsZero() {
		snap.TakenAt = r.now()
	}
	r.snap = snap
	r.mu.Unlock()

	r.feed.Send(snap)
	return true
}

// Close stops polling and releases every subscription.
func (r *Reconciler) Close() error {
	err := r.poller.Close()
	r.mu.Lock()
	if r.inflight != nil {
		r.inflight()
		r.inflight = nil
	}
	r.mu.Unlock()
	r.scope.Close()
	return err
}
