package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// NewUnstakeCmd creates the unstake command
func NewUnstakeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "unstake <token>",
		Short: "Withdraw a stake and its rewards",
		Long: `Withdraw the active stake for a token.

After the lock period this pays out principal plus rewards. Before it ends
a penalty applies and you are asked to confirm.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sym, err := types.ParseTokenSymbol(args[0])
			if err != nil {
				return err
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

			// Warm the snapshot so the stake record comes from it.
			_, _ = a.Sync(ctx)

			tx, err := a.Orchestrator().Unstake(ctx, sym)
			if err != nil {
				return err
			}

			if OutputFormat == "json" {
				return writeJSON(os.Stdout, txJSON(tx))
			}
			fmt.Println()
			fmt.Println(StatusBox("Unstaked", [][2]string{
				{"Token", string(sym)},
				{"Principal", FormatAmount(units.Format(tx.Amount, units.Decimals, 18), string(sym))},
				{"Tx", tx.Hash.Hex()},
			}))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Accept the early-unstake penalty without asking")

	return cmd
}
