package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/whalestrategy/whalestake/internal/txflow"
	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// errNeedsConfirmation is returned when a prompt cannot be shown and --yes
// was not given.
var errNeedsConfirmation = errors.New("confirmation required: run in a terminal or pass --yes")

// newConfirmer picks how prompts are answered for this run.
func newConfirmer(yes bool) txflow.Confirmer {
	if yes {
		return txflow.AutoConfirm
	}
	if !stdinIsTTY() {
		return txflow.ConfirmFunc(func(context.Context, txflow.Prompt) (bool, error) {
			return false, errNeedsConfirmation
		})
	}
	return txflow.ConfirmFunc(huhConfirm)
}

func huhConfirm(ctx context.Context, p txflow.Prompt) (bool, error) {
	var ok bool
	description := strings.Join(p.Details, "\n")
	if p.Warning != "" {
		description += "\n\n" + StyleWarning.Render(p.Warning)
	}

	affirmative := "Confirm"
	if p.Kind == txflow.PromptEarlyUnstake {
		affirmative = "Unstake anyway"
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(p.Title).
				Description(description).
				Affirmative(affirmative).
				Negative("Cancel").
				Value(&ok),
		),
	).WithTheme(huh.ThemeBase()).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// printNotifier reports transaction progress. It stays quiet under -o json
// so stdout remains parseable.
type printNotifier struct{}

func (printNotifier) Submitted(tx types.PendingTx) {
	if OutputFormat == "json" {
		return
	}
	fmt.Println(Hint(fmt.Sprintf("%s %s submitted: %s", tx.Kind, tx.Token, tx.Hash.Hex())))
}

func (printNotifier) Resolved(tx types.PendingTx, err error) {
	if OutputFormat == "json" {
		return
	}
	if tx.Status == types.TxStatusDenied {
		Warning(fmt.Sprintf("%s %s denied in wallet", tx.Kind, tx.Token))
		return
	}
	if err != nil {
		Error(fmt.Sprintf("%s %s %s", tx.Kind, tx.Token, tx.Status))
		return
	}
	amount := ""
	if tx.Amount != nil {
		amount = " " + FormatAmount(units.Format(tx.Amount, units.Decimals, 6), "")
	}
	Success(fmt.Sprintf("%s%s %s confirmed", tx.Kind, amount, tx.Token))
}
