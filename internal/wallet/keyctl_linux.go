//go:build linux

package wallet

import (
	"fmt"
	"os/exec"
	"strings"
)

const kernelKeyName = "whalestake-wallet"

// StoreKernelKeyring keeps the password in the user session keyring until
// reboot. Requires keyctl from keyutils.
func StoreKernelKeyring(password string) error {
	cmd := exec.Command("keyctl", "padd", "user", kernelKeyName, "@u")
	cmd.Stdin = strings.NewReader(password)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("keyctl padd failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RetrieveKernelKeyring reads the password back from the session keyring
func RetrieveKernelKeyring() (string, error) {
	id, err := kernelKeyID()
	if err != nil {
		return "", err
	}
	out, err := exec.Command("keyctl", "pipe", id).Output()
	if err != nil {
		return "", fmt.Errorf("keyctl pipe failed: %w", err)
	}
	return string(out), nil
}

// DeleteKernelKeyring unlinks the key; a missing key is not an error
func DeleteKernelKeyring() error {
	id, err := kernelKeyID()
	if err != nil {
		return nil
	}
	return exec.Command("keyctl", "unlink", id, "@u").Run()
}

func kernelKeyID() (string, error) {
	out, err := exec.Command("keyctl", "search", "@u", "user", kernelKeyName).Output()
	if err != nil {
		return "", fmt.Errorf("keyctl search failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
