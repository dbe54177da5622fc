package app

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/session"
)

// sessionSigner signs as whichever account the tracker currently holds, so
// a wallet account switch also switches the sender of the next transaction.
type sessionSigner struct {
	tracker   *session.Tracker
	signerFor func(common.Address) chain.Signer
}

// Address returns the session account, or the zero address when disconnected.
func (s *sessionSigner) Address() common.Address {
	return s.tracker.Current().Account()
}

func (s *sessionSigner) TransactOpts(ctx context.Context, chainID *big.Int) (*bind.TransactOpts, error) {
	sess := s.tracker.Current()
	if !sess.Connected || sess.Address == nil {
		return nil, ErrNotConnected
	}
	return s.signerFor(*sess.Address).TransactOpts(ctx, chainID)
}
