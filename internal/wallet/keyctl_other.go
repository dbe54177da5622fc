//go:build !linux

package wallet

import "errors"

var errNoKernelKeyring = errors.New("kernel keyring is only available on Linux")

func StoreKernelKeyring(string) error         { return errNoKernelKeyring }
func RetrieveKernelKeyring() (string, error) { return "", errNoKernelKeyring }
func DeleteKernelKeyring() error             { return errNoKernelKeyring }
