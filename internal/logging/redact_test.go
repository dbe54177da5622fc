package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

const testKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewRedactingHandler(slog.NewJSONHandler(buf, nil)))
}

func TestRedact_SensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("unlock", "keystore_password", "hunter2", "mnemonic_words", "abandon abandon")

	out := buf.String()
	if strings.Contains(out, "hunter2") || strings.Contains(out, "abandon") {
		t.Errorf("secret leaked: %s", out)
	}
	if strings.Count(out, "[REDACTED]") != 2 {
		t.Errorf("expected two redactions: %s", out)
	}
}

func TestRedact_PrivateKeyInValue(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("import", "input", "key="+testKey)

	out := buf.String()
	if strings.Contains(out, testKey) {
		t.Errorf("private key leaked: %s", out)
	}
	if !strings.Contains(out, "0x4c08...2318") {
		t.Errorf("expected masked key, got: %s", out)
	}
}

func TestRedact_PrivateKeyInError(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("import failed", "err", errors.New("bad key "+testKey[2:]))

	if strings.Contains(buf.String(), testKey[2:]) {
		t.Errorf("bare hex key leaked: %s", buf.String())
	}
}

func TestRedact_TxHashUntouched(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	logger.Info("submitted", TxHash(testKey))

	if !strings.Contains(buf.String(), testKey) {
		t.Errorf("tx hash should not be masked: %s", buf.String())
	}
}

func TestRedact_AddressesPassThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	logger.Info("connected", Account(addr), Token("ETH"))

	if !strings.Contains(buf.String(), addr) {
		t.Errorf("address should pass through: %s", buf.String())
	}
}

func TestRedact_WithAttrsAndGroups(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf).With("password", "p").WithGroup("wallet")

	logger.Info("x", slog.Group("unlock", "passphrase", "q"))

	out := buf.String()
	if strings.Contains(out, `"p"`) || strings.Contains(out, `"q"`) {
		t.Errorf("grouped secret leaked: %s", out)
	}
}

func TestNewRedactingHandler_NoDoubleWrap(t *testing.T) {
	var buf bytes.Buffer
	h := NewRedactingHandler(slog.NewJSONHandler(&buf, nil))
	if NewRedactingHandler(h) != h {
		t.Error("wrapping a RedactingHandler should return it unchanged")
	}
}
