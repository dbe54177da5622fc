package txflow

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/whalestrategy/whalestake/pkg/types"
)

// PromptKind distinguishes confirmation dialogs
type PromptKind int

const (
	PromptStake PromptKind = iota + 1
	PromptEarlyUnstake
	PromptToggleTestMode
)

// Prompt is a confirmation request shown before any value-moving call.
type Prompt struct {
	Kind    PromptKind
	Title   string
	Details []string
	Warning string
}

// Confirmer asks the user to approve a prompt. A false result with a nil
// error means the user declined.
type Confirmer interface {
	Confirm(ctx context.Context, p Prompt) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer
type ConfirmFunc func(ctx context.Context, p Prompt) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, p Prompt) (bool, error) { return f(ctx, p) }

// AutoConfirm approves every prompt; used for non-interactive runs.
var AutoConfirm Confirmer = ConfirmFunc(func(context.Context, Prompt) (bool, error) { return true, nil })

// Notifier receives transaction progress.
type Notifier interface {
	Submitted(tx types.PendingTx)
	Resolved(tx types.PendingTx, err error)
}

type nopNotifier struct{}

func (nopNotifier) Submitted(types.PendingTx)       {}
func (nopNotifier) Resolved(types.PendingTx, error) {}

func stakePrompt(sym types.TokenSymbol, amount, duration string, months int64) Prompt {
	return Prompt{
		Kind:  PromptStake,
		Title: fmt.Sprintf("Stake %s %s?", amount, sym),
		Details: []string{
			fmt.Sprintf("Token: %s", sym),
			fmt.Sprintf("Amount: %s", amount),
			fmt.Sprintf("Duration: %s (%d months)", duration, months),
		},
	}
}

func earlyUnstakePrompt(sym types.TokenSymbol, staked string, unlockAt string, penaltyPercent int) Prompt {
	return Prompt{
		Kind:  PromptEarlyUnstake,
		Title: fmt.Sprintf("Unstake %s early?", sym),
		Details: []string{
			fmt.Sprintf("Staked: %s %s", staked, sym),
			fmt.Sprintf("Unlocks: %s", unlockAt),
		},
		Warning: fmt.Sprintf("Unstaking before the lock period ends costs a %d%% penalty on your principal and forfeits rewards.", penaltyPercent),
	}
}

func toggleTestModePrompt(owner common.Address, enable bool) Prompt {
	state := "off"
	if enable {
		state = "on"
	}
	return Prompt{
		Kind:    PromptToggleTestMode,
		Title:   fmt.Sprintf("Turn test mode %s?", state),
		Details: []string{fmt.Sprintf("Owner: %s", owner.Hex())},
	}
}
