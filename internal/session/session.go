// Package session tracks which wallet account is connected.
package session

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// EventKind is the kind of session transition
type EventKind int

const (
	Established EventKind = iota + 1
	AccountChanged
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Established:
		return "established"
	case AccountChanged:
		return "account_changed"
	case Disconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event is published on every session transition. Session is the state
// after the transition.
type Event struct {
	Kind    EventKind
	Session types.Session
}

// Tracker is a two-state machine: disconnected, or connected to one account.
// Provider account lists are fed in through AccountsChanged and Disconnect.
type Tracker struct {
	chainID *big.Int

	mu        sync.Mutex
	current   types.Session
	announced bool

	feed  event.Feed
	scope event.SubscriptionScope
}

// NewTracker creates a disconnected tracker for the given chain
func NewTracker(chainID *big.Int) *Tracker {
	return &Tracker{chainID: new(big.Int).Set(chainID)}
}

// AccountsChanged applies a provider account list. The first account becomes
// the connected account; an empty list disconnects.
func (t *Tracker) AccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		t.Disconnect()
		return
	}
	addr := accounts[0]

	t.mu.Lock()
	prev := t.current
	if prev.Connected && *prev.Address == addr {
		t.mu.Unlock()
		return
	}
	t.current = types.Session{
		Address:   &addr,
		ChainID:   new(big.Int).Set(t.chainID),
		Connected: true,
	}
	next := t.current
	firstConnect := !t.announced
	t.announced = true
	t.mu.Unlock()

	kind := Established
	if prev.Connected {
		kind = AccountChanged
	}
	if firstConnect {
		logging.Info("wallet connected", logging.Account(addr.Hex()))
	}
	t.feed.Send(Event{Kind: kind, Session: next})
}

// Disconnect clears the session. It is a no-op when already disconnected.
func (t *Tracker) Disconnect() {
	t.mu.Lock()
	if !t.current.Connected {
		t.mu.Unlock()
		return
	}
	t.current = types.Session{}
	t.mu.Unlock()

	logging.Info("wallet disconnected")
	t.feed.Send(Event{Kind: Disconnected})
}

// Current returns the current session
func (t *Tracker) Current() types.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Subscribe registers ch for session events. Sends block until every
// subscriber has received the event, so ch should be buffered or drained
// promptly.
func (t *Tracker) Subscribe(ch chan<- Event) event.Subscription {
	return t.scope.Track(t.feed.Subscribe(ch))
}

// Close unsubscribes every subscriber
func (t *Tracker) Close() {
	t.scope.Close()
}
