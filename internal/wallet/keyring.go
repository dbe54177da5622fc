package wallet

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/99designs/keyring"
)

const walletPasswordKey = "wallet-password"

// StoreKeyringPassword saves the keystore password in the platform keyring
// and returns the backend name.
func StoreKeyringPassword(service, password string) (string, error) {
	ring, err := openKeyring(service)
	if err != nil {
		return "", err
	}
	err = ring.Set(keyring.Item{
		Key:         walletPasswordKey,
		Data:        []byte(password),
		Label:       "whalestake wallet password",
		Description: "Password for the whalestake keystore",
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backendName(), err)
	}
	return backendName(), nil
}

// RetrieveKeyringPassword returns ("", nil) when nothing is stored
func RetrieveKeyringPassword(service string) (string, error) {
	ring, err := openKeyring(service)
	if err != nil {
		return "", err
	}
	item, err := ring.Get(walletPasswordKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// DeleteKeyringPassword removes the stored password, if any
func DeleteKeyringPassword(service string) error {
	ring, err := openKeyring(service)
	if err != nil {
		return err
	}
	if err := ring.Remove(walletPasswordKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return err
	}
	return nil
}

func openKeyring(service string) (keyring.Keyring, error) {
	backends := keyringBackends()
	if len(backends) == 0 {
		return nil, fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    service,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, nil
}

func keyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend}
	case "windows":
		return []keyring.BackendType{keyring.WinCredBackend}
	}
	return nil
}

func backendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service"
	case "windows":
		return "Windows Credential Manager"
	}
	return "system keyring"
}
