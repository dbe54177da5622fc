package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whalestrategy/whalestake/cmd/whalestake/commands"
)

var rootCmd = &cobra.Command{
	Use:           "whalestake",
	Short:         "Stake USDT, WBTC and WETH from the terminal",
	Long:          "Connect a keystore wallet, stake supported tokens for a fixed lock period, track rewards and unstake.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to config file (default: ~/.whalestake/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&commands.OutputFormat, "output", "o", "", "Output format: json or plain (default: auto)")
	rootCmd.PersistentFlags().BoolVar(&commands.MockMode, "mock", false, "Use an in-memory demo ledger instead of RPC")
	rootCmd.PersistentFlags().StringVar(&commands.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
}

func main() {
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewWatchCmd())
	rootCmd.AddCommand(commands.NewStakeCmd())
	rootCmd.AddCommand(commands.NewUnstakeCmd())
	rootCmd.AddCommand(commands.NewTestModeCmd())
	rootCmd.AddCommand(commands.NewWalletCmd())
	rootCmd.AddCommand(commands.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, commands.ErrorText(err))
		os.Exit(1)
	}
}
