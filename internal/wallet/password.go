package wallet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/whalestrategy/whalestake/internal/logging"
)

// ErrNoPassword means a source has nothing stored; the next source is tried.
var ErrNoPassword = errors.New("no password available")

// EnvPasswordVar holds the keystore password for non-interactive use.
const EnvPasswordVar = "WHALESTAKE_WALLET_PASSWORD"

// PasswordSource yields the keystore password
type PasswordSource func(ctx context.Context) (string, error)

// ChainSources tries each source in order, skipping those that return
// ErrNoPassword. Any other error stops the chain.
func ChainSources(sources ...PasswordSource) PasswordSource {
	return func(ctx context.Context) (string, error) {
		for _, src := range sources {
			pw, err := src(ctx)
			if errors.Is(err, ErrNoPassword) {
				continue
			}
			return pw, err
		}
		return "", fmt.Errorf("%w: %w", ErrSigningDenied, ErrNoPassword)
	}
}

// EnvPassword reads the password from an environment variable
func EnvPassword(key string) PasswordSource {
	return func(context.Context) (string, error) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, nil
		}
		return "", ErrNoPassword
	}
}

// FilePassword reads the first line of a file. An empty path is skipped.
func FilePassword(path string) PasswordSource {
	return func(context.Context) (string, error) {
		if path == "" {
			return "", ErrNoPassword
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", ErrNoPassword
			}
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		line, _, _ := strings.Cut(string(data), "\n")
		return strings.TrimRight(line, "\r"), nil
	}
}

// KeyringPassword reads the platform keyring. An unavailable keyring is
// treated as empty so headless hosts fall through to the next source.
func KeyringPassword(service string) PasswordSource {
	return func(context.Context) (string, error) {
		pw, err := RetrieveKeyringPassword(service)
		if err != nil {
			logging.Debug("platform keyring unavailable", logging.Err(err))
			return "", ErrNoPassword
		}
		if pw == "" {
			return "", ErrNoPassword
		}
		return pw, nil
	}
}

// KernelKeyringPassword reads the Linux kernel keyring
func KernelKeyringPassword() PasswordSource {
	return func(context.Context) (string, error) {
		pw, err := RetrieveKernelKeyring()
		if err != nil || pw == "" {
			return "", ErrNoPassword
		}
		return pw, nil
	}
}
