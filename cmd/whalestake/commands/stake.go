package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/whalestrategy/whalestake/internal/app"
	"github.com/whalestrategy/whalestake/internal/txflow"
	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// NewStakeCmd creates the stake command
func NewStakeCmd() *cobra.Command {
	var (
		duration string
		percent  float64
		yes      bool
	)

	cmd := &cobra.Command{
		Use:   "stake <token> [amount]",
		Short: "Stake USDT, BTC (WBTC) or ETH (WETH) for a fixed period",
		Long: `Stake a token for 30 days, 6 months or 1 year.

If the staking contract's allowance is below the amount, an approval for
exactly that amount is sent first. A token can hold only one active stake.

Examples:
  whalestake stake USDT 100.25 --duration "6 Months"
  whalestake stake ETH --percent 50 --duration "1 Year"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sym, err := types.ParseTokenSymbol(args[0])
			if err != nil {
				return err
			}
			if len(args) < 2 && percent == 0 {
				return fmt.Errorf("give an amount or --percent")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, yes)
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := a.Sync(ctx)
			if errors.Is(err, app.ErrNotConnected) {
				return err
			}
			if tv, ok := snap.Token(sym); ok && tv.Stake != nil && tv.Stake.Record.Active() {
				Warning(fmt.Sprintf("You already have an active %s stake; the contract will reject another.", sym))
			}

			forms := a.Orchestrator().Forms()
			if len(args) == 2 {
				if clean := forms.SetAmount(sym, args[1]); clean != args[1] {
					Info(fmt.Sprintf("Amount read as %s", clean))
				}
			} else {
				tv, _ := snap.Token(sym)
				if tv.Balance.State != types.FieldReady {
					return fmt.Errorf("%s balance is unavailable, give an explicit amount", sym)
				}
				forms.SetPercent(sym, percent, tv.Balance.Amount)
			}

			if duration == "" && !yes && stdinIsTTY() {
				duration, err = selectDuration(ctx, cfg.Staking.DurationLabels)
				if err != nil {
					return err
				}
			}
			if duration != "" {
				forms.SetDuration(sym, duration)
			}

			form := forms.Get(sym)
			tx, err := a.Orchestrator().Stake(ctx, txflow.StakeRequest{
				Token:    sym,
				Amount:   form.Amount,
				Duration: form.Duration,
			})
			if err != nil {
				return err
			}

			if OutputFormat == "json" {
				return writeJSON(os.Stdout, txJSON(tx))
			}
			fmt.Println()
			fmt.Println(StatusBox("Staked", [][2]string{
				{"Token", string(sym)},
				{"Amount", FormatAmount(units.Format(tx.Amount, units.Decimals, 18), string(sym))},
				{"Duration", form.Duration},
				{"Tx", tx.Hash.Hex()},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&duration, "duration", "", `Lock period: "30 Days", "6 Months" or "1 Year"`)
	cmd.Flags().Float64Var(&percent, "percent", 0, "Stake this percentage of the wallet balance instead of an amount")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

// selectDuration shows the lock periods with their APR tiers.
func selectDuration(ctx context.Context, labels []string) (string, error) {
	var choice string
	options := make([]huh.Option[string], 0, len(labels))
	for _, opt := range txflow.DurationOptions(labels) {
		options = append(options, huh.NewOption(fmt.Sprintf("%s (%d%% APR)", opt.Label, opt.APR), opt.Label))
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Lock period").
				Description("Unstaking before the period ends incurs a penalty").
				Options(options...).
				Value(&choice),
		),
	).WithTheme(huh.ThemeBase()).RunWithContext(ctx)
	if errors.Is(err, huh.ErrUserAborted) {
		return "", txflow.ErrCancelled
	}
	return choice, err
}

type txResultJSON struct {
	Kind   types.TxKind      `json:"kind"`
	Token  types.TokenSymbol `json:"token,omitempty"`
	Amount string            `json:"amount,omitempty"`
	Hash   string            `json:"hash"`
	Status types.TxStatus    `json:"status"`
}

func txJSON(tx *types.PendingTx) txResultJSON {
	out := txResultJSON{
		Kind:   tx.Kind,
		Token:  tx.Token,
		Hash:   tx.Hash.Hex(),
		Status: tx.Status,
	}
	if tx.Amount != nil {
		out.Amount = units.FromBaseUnits(tx.Amount, units.Decimals).String()
	}
	return out
}
