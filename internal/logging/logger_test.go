package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func captureJSON(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	original := Logger()
	t.Cleanup(func() { SetLogger(original) })

	var buf bytes.Buffer
	Configure(&buf, level, FormatJSON)
	return &buf
}

func TestConfigure_JSON(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)

	Info("refresh complete", Token("USDT"), "seq", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "refresh complete" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["token"] != "USDT" {
		t.Errorf("token = %v", rec["token"])
	}
}

func TestConfigure_Text(t *testing.T) {
	original := Logger()
	defer SetLogger(original)

	var buf bytes.Buffer
	Configure(&buf, slog.LevelDebug, FormatText)
	Debug("debug message")

	if !strings.Contains(buf.String(), "debug message") {
		t.Errorf("expected debug output, got: %s", buf.String())
	}
}

func TestConfigure_LevelFilters(t *testing.T) {
	buf := captureJSON(t, slog.LevelWarn)

	Info("should not appear")
	if buf.Len() > 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
	Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Error("warn message missing")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestErrAttr(t *testing.T) {
	if a := Err(errors.New("boom")); a.Key != "error" || a.Value.String() != "boom" {
		t.Errorf("Err = %v", a)
	}
	if a := Err(nil); a.Value.String() != "" {
		t.Errorf("Err(nil) = %v", a)
	}
}

func TestAuditTx(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)

	AuditTx(TxAuditEvent{
		Kind:    "stake",
		Account: "0x00000000000000000000000000000000000000aa",
		Token:   "USDT",
		Amount:  "100.25",
		Outcome: "confirmed",
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["audit"] != true || rec["kind"] != "stake" || rec["outcome"] != "confirmed" {
		t.Errorf("unexpected audit record: %v", rec)
	}
}

func TestConcurrentLogging(t *testing.T) {
	buf := captureJSON(t, slog.LevelInfo)
	_ = buf

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			With(Component("poller")).Info("tick", "n", n)
		}(i)
	}
	wg.Wait()
}
