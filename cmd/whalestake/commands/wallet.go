package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/whalestrategy/whalestake/internal/config"
	"github.com/whalestrategy/whalestake/internal/wallet"
)

const minPasswordLen = 8

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the staking wallet",
		Long: `Manage the Ethereum account used to sign approvals, stakes and unstakes.

The key is stored as an encrypted keystore file (geth V3 format). Its
password can be kept in the platform keyring so commands unlock it
without asking:
  macOS:           Keychain
  Linux (desktop): Secret Service / KWallet
  Linux (server):  kernel keyring (volatile, lost on reboot)

Examples:
  whalestake wallet create           # Generate a new account
  whalestake wallet import           # Import a private key
  whalestake wallet show             # Show address and keystore path
  whalestake wallet forget-password  # Remove the stored password`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())

	return cmd
}

// walletSettings returns the wallet section of the config, falling back to
// defaults when the config cannot be loaded.
func walletSettings() config.WalletConfig {
	def := config.DefaultConfig().Wallet
	cfg, err := config.Load(configPathOrDefault())
	if err != nil {
		return def
	}
	w := cfg.Wallet
	if w.KeystoreDir == "" {
		w.KeystoreDir = def.KeystoreDir
	}
	if w.KeyringService == "" {
		w.KeyringService = def.KeyringService
	}
	return w
}

// storePassword saves the password in the best available keyring.
// Tries: platform keyring, then kernel keyring, then prints instructions.
func storePassword(service, password string) {
	if backend, err := wallet.StoreKeyringPassword(service, password); err == nil {
		fmt.Printf("  Password saved to %s\n", backend)
		return
	}
	if err := wallet.StoreKernelKeyring(password); err == nil {
		fmt.Println("  Password saved to kernel keyring (in-memory, lost on reboot)")
		return
	}
	fmt.Println("  Could not store password in a system keyring.")
	fmt.Println("  For automatic unlock, set one of:")
	fmt.Printf("    - %s environment variable\n", wallet.EnvPasswordVar)
	fmt.Println("    - wallet.password_file in config.yaml")
}

// readNewPassword asks for a password twice, up to three times.
func readNewPassword() (string, error) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(password) < minPasswordLen {
			Warning(fmt.Sprintf("Password must be at least %d characters. Try again.", minPasswordLen))
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		confirm, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", errors.New("too many failed attempts")
}

func newWalletCreateCmd() *cobra.Command {
	var keystore string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := walletSettings()
			if keystore != "" {
				settings.KeystoreDir = keystore
			}
			w, err := wallet.Open(settings.KeystoreDir)
			if err != nil {
				return err
			}
			if len(w.Accounts()) > 0 {
				return fmt.Errorf("%w at %s (address: %s)", wallet.ErrWalletExists, settings.KeystoreDir, w.Accounts()[0].Hex())
			}

			password, err := readNewPassword()
			if err != nil {
				return err
			}
			addr, err := w.Create(password)
			if err != nil {
				return err
			}

			fmt.Println()
			Success("Wallet created!")
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", addr.Hex()},
				{"Keystore", settings.KeystoreDir},
			}))
			storePassword(settings.KeyringService, password)
			fmt.Println()
			Warning("Back up your keystore directory and remember your password.")
			fmt.Println(Hint("Fund the address with the tokens you want to stake, plus ETH for gas."))
			return nil
		},
	}

	cmd.Flags().StringVar(&keystore, "keystore", "", "Path to keystore directory")

	return cmd
}

func newWalletImportCmd() *cobra.Command {
	var keystore string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a wallet from a private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := walletSettings()
			if keystore != "" {
				settings.KeystoreDir = keystore
			}
			w, err := wallet.Open(settings.KeystoreDir)
			if err != nil {
				return err
			}
			if len(w.Accounts()) > 0 {
				return fmt.Errorf("%w at %s (address: %s)", wallet.ErrWalletExists, settings.KeystoreDir, w.Accounts()[0].Hex())
			}

			fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
			key, err := readPasswordNoEcho()
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}
			if n := len(strings.TrimPrefix(strings.TrimSpace(key), "0x")); n != 64 {
				return fmt.Errorf("private key must be 64 hex characters, got %d", n)
			}

			password, err := readNewPassword()
			if err != nil {
				return err
			}
			addr, err := w.Import(key, password)
			if err != nil {
				return err
			}

			fmt.Println()
			Success("Wallet imported!")
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", addr.Hex()},
				{"Keystore", settings.KeystoreDir},
			}))
			storePassword(settings.KeyringService, password)
			return nil
		},
	}

	cmd.Flags().StringVar(&keystore, "keystore", "", "Path to keystore directory")

	return cmd
}

func newWalletShowCmd() *cobra.Command {
	var keystore string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show wallet address and keystore path",
		Long:  "Display the wallet address and keystore directory. No password needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := walletSettings()
			if keystore != "" {
				settings.KeystoreDir = keystore
			}
			w, err := wallet.Open(settings.KeystoreDir)
			if err != nil {
				return err
			}
			addr, err := w.Primary()
			if errors.Is(err, wallet.ErrNoAccount) {
				Info("No wallet found.")
				fmt.Println(Hint("Create one with: whalestake wallet create"))
				return nil
			}
			if err != nil {
				return err
			}

			pwStatus := "not stored (manual unlock required)"
			if pw, err := wallet.RetrieveKeyringPassword(settings.KeyringService); err == nil && pw != "" {
				pwStatus = "stored in platform keyring"
			} else if pw, err := wallet.RetrieveKernelKeyring(); err == nil && pw != "" {
				pwStatus = "stored in kernel keyring"
			}

			if OutputFormat == "json" {
				return writeJSON(os.Stdout, map[string]string{
					"address":  addr.Hex(),
					"keystore": settings.KeystoreDir,
					"password": pwStatus,
				})
			}
			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", addr.Hex()},
				{"Keystore", settings.KeystoreDir},
				{"Password", pwStatus},
			}))
			return nil
		},
	}

	cmd.Flags().StringVar(&keystore, "keystore", "", "Path to keystore directory")

	return cmd
}

func newWalletForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the wallet password from the system keyrings",
		RunE: func(cmd *cobra.Command, args []string) error {
			removed := false
			service := walletSettings().KeyringService

			if pw, err := wallet.RetrieveKeyringPassword(service); err == nil && pw != "" {
				if err := wallet.DeleteKeyringPassword(service); err == nil {
					fmt.Println("Removed password from platform keyring")
					removed = true
				}
			}
			if err := wallet.DeleteKernelKeyring(); err == nil {
				fmt.Println("Removed password from kernel keyring")
				removed = true
			}

			if !removed {
				fmt.Println("No stored password found in any keyring.")
			}
			return nil
		},
	}
}

// readPasswordNoEcho reads a line from stdin with echo disabled.
func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
