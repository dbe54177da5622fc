package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/term"

	"github.com/whalestrategy/whalestake/internal/app"
	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/config"
	"github.com/whalestrategy/whalestake/internal/logging"
	"github.com/whalestrategy/whalestake/internal/wallet"
)

// Global CLI flags
var (
	// ConfigPath overrides the default config file location
	ConfigPath string

	// OutputFormat controls output format: "" (auto), "json", "plain"
	OutputFormat string

	// MockMode swaps the RPC client for the in-memory demo ledger
	MockMode bool

	// LogLevel overrides log.level from config
	LogLevel string
)

// loadConfig reads .env files, the config file and flag overrides, then
// configures logging.
func loadConfig() (*config.Config, error) {
	homeDir, _ := os.UserHomeDir()
	if err := config.LoadDotEnv(".env", filepath.Join(homeDir, ".whalestake", ".env")); err != nil {
		return nil, err
	}

	path := ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if MockMode {
		// Contract addresses are not required for the demo ledger.
		if err := os.Setenv(config.EnvMock, "true"); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if LogLevel != "" {
		cfg.Log.Level = LogLevel
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.Configure(os.Stderr, level, logging.Format(cfg.Log.Format))
	return cfg, nil
}

// openApp builds and starts the app for cfg. Prompts use huh when stdin is
// a terminal; yes skips them.
func openApp(ctx context.Context, cfg *config.Config, yes bool) (*app.App, error) {
	opts := []app.Option{
		app.WithConfirmer(newConfirmer(yes)),
		app.WithNotifier(&printNotifier{}),
	}

	if !cfg.Chain.Mock {
		w, err := openWallet(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			app.WithWallet(w),
			app.WithSignerFor(func(addr common.Address) chain.Signer { return w.Signer(addr) }),
		)
	}

	a, err := app.New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.Start(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openWallet(cfg *config.Config) (*wallet.Wallet, error) {
	opts := []wallet.Option{
		wallet.WithPasswordSource(wallet.ChainSources(
			wallet.EnvPassword(wallet.EnvPasswordVar),
			wallet.FilePassword(cfg.Wallet.PasswordFile),
			wallet.KeyringPassword(cfg.Wallet.KeyringService),
			wallet.KernelKeyringPassword(),
			promptPassword,
		)),
	}
	if common.IsHexAddress(cfg.Wallet.Account) {
		opts = append(opts, wallet.WithAccount(common.HexToAddress(cfg.Wallet.Account)))
	}
	w, err := wallet.Open(cfg.Wallet.KeystoreDir, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet: %w", err)
	}
	return w, nil
}

// promptPassword asks on the terminal. Without one it has nothing to offer.
func promptPassword(ctx context.Context) (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", wallet.ErrNoPassword
	}
	return readPassword(os.Stderr, readPasswordNoEcho)
}

// readPassword prompts on w and reads the answer. An empty answer declines
// the signature.
func readPassword(w io.Writer, read func() (string, error)) (string, error) {
	fmt.Fprint(w, "Wallet password: ")
	pw, err := read()
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if pw == "" {
		return "", wallet.ErrSigningDenied
	}
	return pw, nil
}

func configPathOrDefault() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

func GetGoVersion() string {
	return runtime.Version()
}
