package txflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/whalestrategy/whalestake/internal/chain"
)

// Outcome is the classification of a failed transaction
type Outcome int

const (
	UserDenied Outcome = iota + 1
	ContractReverted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case UserDenied:
		return "denied"
	case ContractReverted:
		return "reverted"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Wallet rejection signatures. Checked before revert patterns: a rejected
// signature never reached the chain.
var denialPatterns = []string{
	"user denied",
	"user rejected",
	"rejected the request",
	"denied transaction signature",
	"action_rejected",
	"code=4001",
	"code: 4001",
}

var revertPatterns = []string{
	"execution reverted",
	"reverted",
	"revert",
	"already staked",
	"call_exception",
}

// Revert reasons the contract is known to produce, in the casing shown to users.
var knownReasons = []string{
	chain.RevertAlreadyStaked,
	chain.RevertNoActiveStake,
	chain.RevertNotOwner,
	chain.RevertLowAllowance,
	chain.RevertLowBalance,
}

// Classify maps a provider or contract error onto an Outcome. All provider
// message matching lives here.
func Classify(err error) Outcome {
	if err == nil {
		return 0
	}
	var te *TxError
	if errors.As(err, &te) {
		return te.Outcome
	}

	msg := strings.ToLower(err.Error())
	for _, p := range denialPatterns {
		if strings.Contains(msg, p) {
			return UserDenied
		}
	}
	if errors.Is(err, chain.ErrReverted) {
		return ContractReverted
	}
	for _, p := range revertPatterns {
		if strings.Contains(msg, p) {
			return ContractReverted
		}
	}
	return Failed
}

// RevertReason extracts the contract's reason from a revert error, or ""
func RevertReason(err error) string {
	if err == nil {
		return ""
	}
	var re *chain.RevertError
	if errors.As(err, &re) {
		return canonicalReason(re.Reason)
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, r := range knownReasons {
		if strings.Contains(lower, strings.ToLower(r)) {
			return r
		}
	}
	const marker = "execution reverted: "
	if i := strings.Index(lower, marker); i >= 0 {
		reason := msg[i+len(marker):]
		if j := strings.IndexAny(reason, "\n\""); j >= 0 {
			reason = reason[:j]
		}
		return strings.TrimSpace(reason)
	}
	return ""
}

// canonicalReason maps a reason onto the known casing, if it is one.
func canonicalReason(reason string) string {
	for _, r := range knownReasons {
		if strings.EqualFold(reason, r) {
			return r
		}
	}
	return reason
}

// TxError is a classified transaction failure
type TxError struct {
	Kind    string
	Outcome Outcome
	Reason  string // contract revert reason, when derivable
	Err     error
}

func (e *TxError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Outcome, e.Reason)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Outcome, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// Message is the text shown to the user for this failure.
func (e *TxError) Message() string {
	switch e.Outcome {
	case UserDenied:
		return "Transaction rejected in the wallet. Nothing was submitted."
	case ContractReverted:
		switch e.Reason {
		case chain.RevertAlreadyStaked:
			return "You already have an active stake for this token. Unstake it before staking again."
		case chain.RevertNoActiveStake:
			return "There is no active stake to withdraw for this token."
		case chain.RevertNotOwner:
			return "Only the contract owner can do this."
		case "":
			return "The staking contract rejected the transaction."
		}
		return "The staking contract rejected the transaction: " + e.Reason
	}
	return fmt.Sprintf("Transaction failed: %v", e.Err)
}

func classifyErr(kind string, err error) *TxError {
	var te *TxError
	if errors.As(err, &te) {
		return te
	}
	out := Classify(err)
	te = &TxError{Kind: kind, Outcome: out, Err: err}
	if out == ContractReverted {
		te.Reason = RevertReason(err)
	}
	return te
}
