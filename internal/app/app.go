// Package app wires the chain client, wallet, session tracker, reconciler
// and transaction orchestrator into one owned container.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/shopspring/decimal"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/config"
	"github.com/whalestrategy/whalestake/internal/ledger"
	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/metrics"
	"github.com/whalestrategy/whalestake/internal/pricefeed"
	"github.com/whalestrategy/whalestake/internal/session"
	"github.com/whalestrategy/whalestake/internal/txflow"
	"github.com/whalestrategy/whalestake/internal/util"
	"github.com/whalestrategy/whalestake/internal/wallet"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// ErrNotConnected is returned by Sync when no wallet account is available.
var ErrNotConnected = errors.New("no wallet account connected")

// App owns every long-lived component. Build it with New, call Start once,
// and Close on shutdown.
type App struct {
	cfg        *config.Config
	ledger     chain.Ledger
	client     *chain.Client
	wallet     Wallet
	tracker    *session.Tracker
	reconciler *ledger.Reconciler
	orch       *txflow.Orchestrator
	prices     pricefeed.Source
	metrics    *metrics.Collector
	demo       *common.Address // mock mode account, used when there is no wallet

	mu        sync.Mutex
	started   bool
	closed    bool
	sessionCh chan session.Event
	subs      []event.Subscription
	wg        sync.WaitGroup
}

// Wallet is the account provider the app watches for connection changes.
type Wallet interface {
	Accounts() []common.Address
	Primary() (common.Address, error)
	Watch(sink wallet.AccountsSink) event.Subscription
}

type options struct {
	ledger    chain.Ledger
	wallet    Wallet
	signer    chain.Signer
	signerFor func(common.Address) chain.Signer
	confirmer txflow.Confirmer
	notifier  txflow.Notifier
	metrics   *metrics.Collector
	prices    pricefeed.Source
	clock     func() time.Time
}

// Option configures New
type Option func(*options)

// WithLedger replaces the RPC client, e.g. with a chain.MockLedger
func WithLedger(l chain.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithWallet sets the account provider
func WithWallet(w Wallet) Option {
	return func(o *options) { o.wallet = w }
}

// WithSigner sets the transaction signer for the RPC client
func WithSigner(s chain.Signer) Option {
	return func(o *options) { o.signer = s }
}

// WithSignerFor signs each transaction as the current session account,
// building its signer with signerFor. It takes precedence over WithSigner.
func WithSignerFor(signerFor func(common.Address) chain.Signer) Option {
	return func(o *options) { o.signerFor = signerFor }
}

func WithConfirmer(c txflow.Confirmer) Option {
	return func(o *options) { o.confirmer = c }
}

func WithNotifier(n txflow.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

func WithPriceSource(src pricefeed.Source) Option {
	return func(o *options) { o.prices = src }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New builds the container. In mock mode (chain.mock) an in-memory ledger
// seeded with a demo account is used and no RPC connection is made.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := options{confirmer: txflow.AutoConfirm, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewCollector()
	}

	a := &App{
		cfg:       cfg,
		wallet:    o.wallet,
		metrics:   o.metrics,
		tracker:   session.NewTracker(big.NewInt(cfg.Chain.ChainID)),
		sessionCh: make(chan session.Event, 8),
	}

	switch {
	case o.ledger != nil:
		a.ledger = o.ledger
	case cfg.Chain.Mock:
		mock, demo := NewDemoLedger(cfg, o.clock)
		a.ledger = mock
		if a.wallet == nil {
			a.demo = &demo
		}
		logging.Info("using in-memory mock ledger", logging.Account(demo.Hex()))
	default:
		signer := o.signer
		if o.signerFor != nil {
			signer = &sessionSigner{tracker: a.tracker, signerFor: o.signerFor}
		}
		client, err := chain.Dial(ctx, clientConfig(cfg), signer)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to chain: %w", err)
		}
		a.client = client
		a.ledger = client
	}

	a.prices = o.prices
	if a.prices == nil && cfg.PriceFeed.Enabled && !cfg.Chain.Mock {
		a.prices = pricefeed.New(pricefeed.Config{
			BaseURL:           cfg.PriceFeed.BaseURL,
			TTL:               time.Duration(cfg.PriceFeed.TTLSecs) * time.Second,
			RequestsPerMinute: cfg.PriceFeed.RequestsPerMinute,
			Timeout:           time.Duration(cfg.PriceFeed.TimeoutSecs) * time.Second,
		}, pricefeed.WithMetrics(a.metrics))
	}

	owner := optionalAddress(cfg.Contracts.Owner)
	rOpts := []ledger.Option{
		ledger.WithMetrics(a.metrics),
		ledger.WithClock(o.clock),
		ledger.WithOwner(owner),
		ledger.WithReadTimeout(cfg.Ledger.ReadTimeout()),
		ledger.WithPollInterval(cfg.Ledger.PollInterval()),
	}
	if a.prices != nil {
		rOpts = append(rOpts, ledger.WithPriceSource(a.prices))
	}
	rec, err := ledger.New(a.ledger, rOpts...)
	if err != nil {
		a.closeClient()
		return nil, err
	}
	a.reconciler = rec

	tOpts := []txflow.Option{
		txflow.WithMetrics(a.metrics),
		txflow.WithClock(o.clock),
	}
	if o.notifier != nil {
		tOpts = append(tOpts, txflow.WithNotifier(o.notifier))
	}
	a.orch = txflow.New(a.ledger, a.tracker, a.reconciler, o.confirmer, txflow.Config{
		Gas:            GasParams(cfg.Gas),
		PenaltyPercent: cfg.Staking.EarlyPenaltyPercent,
		Owner:          owner,
	}, tOpts...)

	return a, nil
}

// Start subscribes the reconciler to session changes and begins watching
// the wallet. It is safe to call once.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("app closed")
	}
	if a.started {
		return nil
	}
	a.started = true

	sub := a.tracker.Subscribe(a.sessionCh)
	a.subs = append(a.subs, sub)
	a.wg.Add(1)
	util.SafeGoWithName("session-loop", func() {
		defer a.wg.Done()
		a.sessionLoop(sub)
	})

	switch {
	case a.wallet != nil:
		a.subs = append(a.subs, a.wallet.Watch(a.tracker))
	case a.demo != nil:
		a.tracker.AccountsChanged([]common.Address{*a.demo})
	default:
		logging.Warn("no wallet configured, running disconnected")
	}
	return nil
}

func (a *App) sessionLoop(sub event.Subscription) {
	for {
		select {
		case ev := <-a.sessionCh:
			logging.Debug("session event", "kind", ev.Kind.String())
			a.reconciler.HandleSession(ev)
		case err, ok := <-sub.Err():
			if ok && err != nil {
				logging.Warn("session subscription ended", logging.Err(err))
			}
			return
		}
	}
}

// Sync waits until the reconciler has taken over the current session and
// returns a fresh snapshot.
func (a *App) Sync(ctx context.Context) (*types.Snapshot, error) {
	ch := make(chan *types.Snapshot, 4)
	sub := a.reconciler.Subscribe(ch)
	defer sub.Unsubscribe()

	for {
		sess := a.tracker.Current()
		snap := a.reconciler.Snapshot()
		if sess.Connected && snap.Connected() && *snap.Account == *sess.Address {
			return a.reconciler.Refresh(ctx)
		}
		if !sess.Connected && (a.wallet == nil || len(a.wallet.Accounts()) == 0) && a.demo == nil {
			return snap, ErrNotConnected
		}
		select {
		case <-ch:
		case <-ctx.Done():
			if !sess.Connected {
				return snap, ErrNotConnected
			}
			return snap, ctx.Err()
		}
	}
}

// Close tears down subscriptions, the poller and RPC connections.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
	a.tracker.Close()
	a.wg.Wait()

	err := a.reconciler.Close()
	a.closeClient()
	return err
}

func (a *App) closeClient() {
	if a.client != nil {
		a.client.Close()
	}
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Ledger() chain.Ledger { return a.ledger }

// Session returns the current wallet session
func (a *App) Session() types.Session { return a.tracker.Current() }

func (a *App) Reconciler() *ledger.Reconciler { return a.reconciler }

func (a *App) Orchestrator() *txflow.Orchestrator { return a.orch }

func (a *App) Metrics() *metrics.Collector { return a.metrics }

// Endpoints reports RPC endpoint health; nil in mock mode
func (a *App) Endpoints() []chain.EndpointStatus {
	if a.client == nil {
		return nil
	}
	return a.client.Endpoints()
}

// GasParams converts configured gwei values to wei
func GasParams(g config.GasConfig) chain.GasParams {
	return chain.GasParams{Limit: g.Limit, Price: gweiToWei(g.PriceGwei)}
}

func gweiToWei(gwei float64) *big.Int {
	if gwei <= 0 {
		return nil
	}
	return decimal.NewFromFloat(gwei).Shift(9).Truncate(0).BigInt()
}

func clientConfig(cfg *config.Config) chain.ClientConfig {
	retry := util.DefaultRetryConfig()
	retry.MaxRetries = cfg.Chain.ReadRetries

	tokens := make([]types.Token, 0, len(types.SupportedTokens))
	for _, sym := range types.SupportedTokens {
		tokens = append(tokens, types.Token{
			Symbol:   sym,
			Address:  common.HexToAddress(cfg.Contracts.Tokens.Address(sym)),
			Decimals: types.DefaultTokenDecimals,
		})
	}
	return chain.ClientConfig{
		RPCURLs:       cfg.Chain.ResolvedRPCURLs(),
		ChainID:       cfg.Chain.ChainID,
		Confirmations: cfg.Chain.Confirmations,
		MaxGasPrice:   gweiToWei(cfg.Gas.MaxPriceGwei),
		Retry:         retry,
		Staking:       common.HexToAddress(cfg.Contracts.Staking),
		Tokens:        tokens,
	}
}

func optionalAddress(s string) common.Address {
	if !common.IsHexAddress(s) {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
