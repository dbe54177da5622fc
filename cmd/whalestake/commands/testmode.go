package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewTestModeCmd creates the testmode command. Only the contract owner
// can toggle it.
func NewTestModeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "testmode",
		Aliases: []string{"test-mode"},
		Short:   "Toggle the staking contract's test mode (owner only)",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			enabled, err := a.Orchestrator().ToggleTestMode(ctx)
			if err != nil {
				return err
			}
			if OutputFormat == "json" {
				return writeJSON(os.Stdout, map[string]bool{"test_mode": enabled})
			}
			state := "off"
			if enabled {
				state = "on"
			}
			Success(fmt.Sprintf("Test mode is now %s", state))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
