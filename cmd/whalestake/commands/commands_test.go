package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/whalestrategy/whalestake/internal/app"
	"github.com/whalestrategy/whalestake/internal/chain"
	"github.com/whalestrategy/whalestake/internal/config"
	"github.com/whalestrategy/whalestake/internal/ledger"
	"github.com/whalestrategy/whalestake/internal/txflow"
	"github.com/whalestrategy/whalestake/internal/wallet"
	"github.com/whalestrategy/whalestake/pkg/types"
)

func TestNewStatusCmd(t *testing.T) {
	cmd := NewStatusCmd()
	if cmd.Use != "status" {
		t.Errorf("Use mismatch: got %s, want status", cmd.Use)
	}
	if cmd.Flags().Lookup("timeout") == nil {
		t.Error("--timeout flag should exist")
	}
}

func TestNewStakeCmd(t *testing.T) {
	cmd := NewStakeCmd()
	if cmd.Use != "stake <token> [amount]" {
		t.Errorf("Use mismatch: got %s", cmd.Use)
	}
	for _, name := range []string{"duration", "percent", "yes"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("--%s flag should exist", name)
		}
	}
	if err := cmd.Args(cmd, nil); err == nil {
		t.Error("stake without a token should be rejected")
	}
}

func TestNewUnstakeCmd(t *testing.T) {
	cmd := NewUnstakeCmd()
	if err := cmd.Args(cmd, []string{"USDT", "extra"}); err == nil {
		t.Error("unstake takes exactly one token")
	}
	if cmd.Flags().Lookup("yes") == nil {
		t.Error("--yes flag should exist")
	}
}

func TestNewWatchCmd(t *testing.T) {
	cmd := NewWatchCmd()
	if cmd.Flags().Lookup("metrics-addr") == nil {
		t.Error("--metrics-addr flag should exist")
	}
}

func TestNewWalletCmd(t *testing.T) {
	cmd := NewWalletCmd()
	want := map[string]bool{"create": false, "import": false, "show": false, "forget-password": false}
	for _, sub := range cmd.Commands() {
		want[sub.Name()] = true
	}
	for name, found := range want {
		if !found {
			t.Errorf("wallet %s subcommand missing", name)
		}
	}
}

func TestAddThousandsSep(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0", "0"},
		{"999", "999"},
		{"1000", "1,000"},
		{"1234567", "1,234,567"},
		{"-1234", "-1,234"},
		{"-12", "-12"},
	}
	for _, tt := range tests {
		if got := addThousandsSep(tt.in); got != tt.want {
			t.Errorf("addThousandsSep(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	if got := FormatAmount("10000.5000", "USDT"); got != "10,000.5000 USDT" {
		t.Errorf("got %q", got)
	}
	if got := FormatAmount("12", ""); got != "12" {
		t.Errorf("got %q", got)
	}
}

func TestFormatAddress(t *testing.T) {
	got := FormatAddress("0xDe3000000000000000000000000000000000D3A0")
	if got != "0xDe30...D3A0" {
		t.Errorf("got %q", got)
	}
}

func TestRenderTablePlain(t *testing.T) {
	out := renderTablePlain([]string{"Token", "Staked"}, [][]string{{"USDT", "100.25"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header, separator, row; got %q", out)
	}
	if !strings.HasPrefix(lines[2], "USDT ") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestErrorText(t *testing.T) {
	denied := &txflow.TxError{Kind: "stake", Outcome: txflow.UserDenied, Err: errors.New("user denied")}
	reverted := &txflow.TxError{Kind: "stake", Outcome: txflow.ContractReverted, Reason: chain.RevertAlreadyStaked}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"denied", fmt.Errorf("wrapped: %w", denied), "rejected in the wallet"},
		{"already staked", reverted, "already have an active stake"},
		{"not connected", txflow.ErrNotConnected, "no wallet connected"},
		{"app not connected", app.ErrNotConnected, "no wallet connected"},
		{"invalid amount", txflow.ErrInvalidAmount, "positive amount"},
		{"not owner", txflow.ErrNotOwner, "contract owner"},
		{"unavailable", ledger.ErrDataUnavailable, "unavailable"},
		{"cancelled", txflow.ErrCancelled, "Cancelled"},
		{"needs confirmation", errNeedsConfirmation, "--yes"},
		{"other", errors.New("boom"), "Error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorText(tt.err); !strings.Contains(got, tt.want) {
				t.Errorf("ErrorText = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestNewConfirmer_Yes(t *testing.T) {
	ok, err := newConfirmer(true).Confirm(context.Background(), txflow.Prompt{Title: "Stake?"})
	if err != nil || !ok {
		t.Errorf("--yes should approve, got %v %v", ok, err)
	}
}

func TestSnapshotLine_NotConnected(t *testing.T) {
	if got := snapshotLine(types.BaselineSnapshot()); !strings.Contains(got, "not connected") {
		t.Errorf("got %q", got)
	}
}

func TestRenderSnapshot_JSON(t *testing.T) {
	prev := OutputFormat
	OutputFormat = "json"
	t.Cleanup(func() { OutputFormat = prev })

	cfg := config.DefaultConfig()
	cfg.Chain.Mock = true
	cfg.PriceFeed.Enabled = false
	cfg.Ledger.PollIntervalSecs = 3600

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	defer a.Close()
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := a.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}

	var buf bytes.Buffer
	if err := renderSnapshot(&buf, snap); err != nil {
		t.Fatalf("renderSnapshot: %v", err)
	}

	var got snapshotJSON
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if !got.Connected || got.Account != app.DemoAccount.Hex() {
		t.Errorf("account = %q connected=%v", got.Account, got.Connected)
	}
	if len(got.Tokens) != len(types.SupportedTokens) {
		t.Fatalf("tokens = %d", len(got.Tokens))
	}
	if got.Tokens[0].Symbol != types.TokenUSDT || got.Tokens[0].BalState != types.FieldReady {
		t.Errorf("USDT = %+v", got.Tokens[0])
	}
}

func TestReadPassword_EmptyDeclinesSignature(t *testing.T) {
	_, err := readPassword(io.Discard, func() (string, error) { return "", nil })
	if !errors.Is(err, wallet.ErrSigningDenied) {
		t.Fatalf("expected ErrSigningDenied, got %v", err)
	}
	if got := txflow.Classify(fmt.Errorf("failed to unlock: %w", err)); got != txflow.UserDenied {
		t.Errorf("Classify = %s, want denied", got)
	}
}

func TestReadPassword(t *testing.T) {
	var prompt bytes.Buffer
	pw, err := readPassword(&prompt, func() (string, error) { return "hunter22", nil })
	if err != nil || pw != "hunter22" {
		t.Fatalf("readPassword = %q, %v", pw, err)
	}
	if !strings.Contains(prompt.String(), "Wallet password") {
		t.Errorf("prompt not written: %q", prompt.String())
	}

	boom := errors.New("tty gone")
	if _, err := readPassword(io.Discard, func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("read error should be wrapped, got %v", err)
	}
}
