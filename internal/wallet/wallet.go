// Package wallet holds the signing account in a go-ethereum keystore and
// acts as the wallet provider for the session tracker.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/whalestrategy/whalestake/internal/logging"
)

var (
	// ErrNoAccount is returned when the keystore holds no usable account.
	ErrNoAccount = errors.New("no wallet account")

	// ErrWalletExists is returned by Create and Import when an account exists.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrSigningDenied is returned when the user declines to unlock the key.
	// The text matches what wallet providers report for a rejected signature.
	ErrSigningDenied = errors.New("user denied transaction signature")
)

// AccountsSink receives the provider's account list whenever it changes.
type AccountsSink interface {
	AccountsChanged(accounts []common.Address)
}

// Wallet wraps a keystore directory.
type Wallet struct {
	ks        *keystore.KeyStore
	dir       string
	preferred *common.Address
	password  PasswordSource

	mu       sync.Mutex
	unlocked map[common.Address]bool
}

type options struct {
	scryptN, scryptP int
	preferred        *common.Address
	password         PasswordSource
}

// Option configures Open
type Option func(*options)

// WithScrypt sets the key derivation cost. Tests use the light parameters.
func WithScrypt(n, p int) Option {
	return func(o *options) { o.scryptN, o.scryptP = n, p }
}

// WithAccount prefers addr when the keystore holds several accounts
func WithAccount(addr common.Address) Option {
	return func(o *options) { o.preferred = &addr }
}

// WithPasswordSource sets how the keystore password is obtained at signing time
func WithPasswordSource(src PasswordSource) Option {
	return func(o *options) { o.password = src }
}

// Open opens (creating if needed) the keystore directory
func Open(dir string, opts ...Option) (*Wallet, error) {
	o := options{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return &Wallet{
		ks:        keystore.NewKeyStore(dir, o.scryptN, o.scryptP),
		dir:       dir,
		preferred: o.preferred,
		password:  o.password,
		unlocked:  make(map[common.Address]bool),
	}, nil
}

// Dir returns the keystore directory
func (w *Wallet) Dir() string {
	return w.dir
}

// Accounts lists keystore accounts, preferred account first.
func (w *Wallet) Accounts() []common.Address {
	accts := w.ks.Accounts()
	out := make([]common.Address, 0, len(accts))
	for _, a := range accts {
		if w.preferred != nil && a.Address == *w.preferred {
			out = append([]common.Address{a.Address}, out...)
			continue
		}
		out = append(out, a.Address)
	}
	return out
}

// Primary returns the account that signs transactions
func (w *Wallet) Primary() (common.Address, error) {
	accts := w.Accounts()
	if len(accts) == 0 {
		return common.Address{}, ErrNoAccount
	}
	if w.preferred != nil && accts[0] != *w.preferred {
		return common.Address{}, fmt.Errorf("%w: %s not in %s", ErrNoAccount, w.preferred.Hex(), w.dir)
	}
	return accts[0], nil
}

// Create generates a new key. It refuses to add a second account.
func (w *Wallet) Create(password string) (common.Address, error) {
	if len(w.ks.Accounts()) > 0 {
		return common.Address{}, fmt.Errorf("%w in %s", ErrWalletExists, w.dir)
	}
	acct, err := w.ks.NewAccount(password)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to create wallet: %w", err)
	}
	logging.Info("wallet created", logging.Account(acct.Address.Hex()))
	return acct.Address, nil
}

// Import stores a hex private key (with or without 0x) under password.
func (w *Wallet) Import(privKeyHex, password string) (common.Address, error) {
	if len(w.ks.Accounts()) > 0 {
		return common.Address{}, fmt.Errorf("%w in %s", ErrWalletExists, w.dir)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid private key hex: %w", err)
	}
	acct, err := w.ks.ImportECDSA(key, password)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to import key: %w", err)
	}
	logging.Info("wallet imported", logging.Account(acct.Address.Hex()))
	return acct.Address, nil
}

// Watch pushes the current account list to sink, then a fresh list after
// every keystore wallet arrival or drop. Unsubscribe stops the watch.
func (w *Wallet) Watch(sink AccountsSink) event.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		events := make(chan accounts.WalletEvent, 8)
		sub := w.ks.Subscribe(events)
		defer sub.Unsubscribe()

		sink.AccountsChanged(w.Accounts())
		for {
			select {
			case ev := <-events:
				logging.Debug("keystore wallet event", "kind", ev.Kind, "url", ev.Wallet.URL().String())
				sink.AccountsChanged(w.Accounts())
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	})
}

// Signer returns a chain signer for addr
func (w *Wallet) Signer(addr common.Address) *Signer {
	return &Signer{w: w, addr: addr}
}

// Lock drops every decrypted key from memory
func (w *Wallet) Lock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for addr := range w.unlocked {
		if err := w.ks.Lock(addr); err != nil {
			logging.Warn("failed to lock account", logging.Account(addr.Hex()), logging.Err(err))
		}
	}
	w.unlocked = make(map[common.Address]bool)
}

func (w *Wallet) unlock(ctx context.Context, addr common.Address) (accounts.Account, error) {
	acct, err := w.ks.Find(accounts.Account{Address: addr})
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %s", ErrNoAccount, addr.Hex())
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.unlocked[addr] {
		return acct, nil
	}
	if w.password == nil {
		return accounts.Account{}, fmt.Errorf("%w: no password source", ErrSigningDenied)
	}
	pw, err := w.password(ctx)
	if err != nil {
		return accounts.Account{}, err
	}
	if err := w.ks.Unlock(acct, pw); err != nil {
		return accounts.Account{}, fmt.Errorf("failed to unlock wallet: %w", err)
	}
	w.unlocked[addr] = true
	return acct, nil
}

// Signer implements chain.Signer on top of the keystore.
type Signer struct {
	w    *Wallet
	addr common.Address
}

// Address returns the signing address
func (s *Signer) Address() common.Address {
	return s.addr
}

// TransactOpts unlocks the key on first use and returns keystore-backed opts
func (s *Signer) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	acct, err := s.w.unlock(ctx, s.addr)
	if err != nil {
		return nil, err
	}
	opts, err := bind.NewKeyStoreTransactorWithChainID(s.w.ks, acct, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}
