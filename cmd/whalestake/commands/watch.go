package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/util"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// NewWatchCmd creates the watch command
func NewWatchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow staking state as it changes",
		Long: `Keep the session open and print a line for every new snapshot.

The ledger is polled while a wallet account is connected. Account changes
in the keystore directory switch the session without restarting.

With --metrics-addr, Prometheus metrics are served on /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.ListenAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           metricsMux(a.Metrics().Handler()),
					ReadHeaderTimeout: 5 * time.Second,
				}
				util.SafeGoWithName("metrics-server", func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logging.Error("metrics server failed", logging.Err(err))
					}
				})
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				Info(fmt.Sprintf("Metrics on http://%s/metrics", metricsAddr))
			}

			ch := make(chan *types.Snapshot, 16)
			sub := a.Reconciler().Subscribe(ch)
			defer sub.Unsubscribe()

			if err := renderWatchUpdate(a.Reconciler().Snapshot()); err != nil {
				return err
			}
			for {
				select {
				case snap := <-ch:
					if err := renderWatchUpdate(snap); err != nil {
						return err
					}
				case err := <-sub.Err():
					return err
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9464)")

	return cmd
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}

func renderWatchUpdate(s *types.Snapshot) error {
	if OutputFormat == "json" {
		return writeJSON(os.Stdout, toJSON(s))
	}
	line := fmt.Sprintf("%s %s", s.TakenAt.Local().Format(time.TimeOnly), snapshotLine(s))
	if isTTY() {
		line = StyleMuted.Render(line)
	}
	fmt.Println(line)
	return nil
}
