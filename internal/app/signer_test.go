package app

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/session"
)

// addrSigner returns options for a fixed sender without a key behind it.
type addrSigner common.Address

func (s addrSigner) Address() common.Address { return common.Address(s) }

func (s addrSigner) TransactOpts(context.Context, *big.Int) (*bind.TransactOpts, error) {
	return &bind.TransactOpts{From: common.Address(s)}, nil
}

func TestSessionSigner_FollowsAccountSwitch(t *testing.T) {
	tracker := session.NewTracker(big.NewInt(1))
	defer tracker.Close()

	var built []common.Address
	s := &sessionSigner{tracker: tracker, signerFor: func(addr common.Address) chain.Signer {
		built = append(built, addr)
		return addrSigner(addr)
	}}
	ctx := context.Background()
	chainID := big.NewInt(1)

	if _, err := s.TransactOpts(ctx, chainID); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("disconnected signer: expected ErrNotConnected, got %v", err)
	}

	alice := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	for _, acct := range []common.Address{alice, bob} {
		tracker.AccountsChanged([]common.Address{acct})
		if got := s.Address(); got != acct {
			t.Errorf("Address = %s, want %s", got.Hex(), acct.Hex())
		}
		opts, err := s.TransactOpts(ctx, chainID)
		if err != nil {
			t.Fatalf("TransactOpts: %v", err)
		}
		if opts.From != acct {
			t.Errorf("From = %s, want %s", opts.From.Hex(), acct.Hex())
		}
	}
	if len(built) != 2 || built[1] != bob {
		t.Errorf("signers built for %v", built)
	}

	tracker.Disconnect()
	if s.Address() != (common.Address{}) {
		t.Error("disconnected signer should report the zero address")
	}
	if _, err := s.TransactOpts(ctx, chainID); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after disconnect, got %v", err)
	}
}
