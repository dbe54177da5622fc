package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// displayPlaces is how many fractional digits the tables show.
const displayPlaces = 4

// stakeJSON is the machine-readable form of a derived stake.
type stakeJSON struct {
	Staked       string     `json:"staked"`
	Claimable    string     `json:"claimable"`
	Estimate     string     `json:"estimated_rewards"`
	APRPercent   *int       `json:"apr_percent"`
	DurationDays int        `json:"duration_days"`
	DaysElapsed  int        `json:"days_elapsed"`
	Locked       bool       `json:"locked"`
	StakedAt     *time.Time `json:"staked_at,omitempty"`
	UnlockAt     *time.Time `json:"unlock_at,omitempty"`
}

type tokenJSON struct {
	Symbol     types.TokenSymbol `json:"symbol"`
	StakeState types.FieldState  `json:"stake_state"`
	Stake      *stakeJSON        `json:"stake,omitempty"`
	BalState   types.FieldState  `json:"balance_state"`
	Balance    string            `json:"balance,omitempty"`
	PriceUSD   string            `json:"price_usd,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type snapshotJSON struct {
	Seq         uint64      `json:"seq"`
	TakenAt     time.Time   `json:"taken_at"`
	Account     string      `json:"account,omitempty"`
	Connected   bool        `json:"connected"`
	HasAnyStake bool        `json:"has_any_stake"`
	Unavailable bool        `json:"unavailable"`
	TestMode    *bool       `json:"test_mode,omitempty"`
	Owner       string      `json:"owner,omitempty"`
	IsOwner     bool        `json:"is_owner"`
	Tokens      []tokenJSON `json:"tokens"`
}

func toJSON(s *types.Snapshot) snapshotJSON {
	out := snapshotJSON{
		Seq:         s.Seq,
		TakenAt:     s.TakenAt,
		Connected:   s.Connected(),
		HasAnyStake: s.HasAnyStake,
		Unavailable: s.Unavailable,
		TestMode:    s.TestMode,
		IsOwner:     s.IsOwner,
	}
	if s.Account != nil {
		out.Account = s.Account.Hex()
	}
	if s.Owner != nil {
		out.Owner = s.Owner.Hex()
	}
	for _, v := range s.Tokens {
		t := tokenJSON{
			Symbol:     v.Symbol,
			StakeState: v.StakeState,
			BalState:   v.Balance.State,
			Error:      v.ReadError,
		}
		if v.Balance.State == types.FieldReady {
			t.Balance = units.FromBaseUnits(v.Balance.Amount, units.Decimals).String()
		}
		if v.PriceUSD != nil {
			t.PriceUSD = v.PriceUSD.String()
		}
		if sv := v.Stake; sv != nil && sv.Record.Active() {
			js := &stakeJSON{
				Staked:       sv.Staked.String(),
				Claimable:    sv.Claimable.String(),
				Estimate:     sv.Estimate.String(),
				DurationDays: sv.DurationDays,
				DaysElapsed:  sv.DaysElapsed,
				Locked:       sv.Locked,
				StakedAt:     sv.Record.StakedAt,
				UnlockAt:     sv.Record.UnlockAt,
			}
			if sv.APRDefined {
				apr := sv.APRPercent
				js.APRPercent = &apr
			}
			t.Stake = js
		}
		out.Tokens = append(out.Tokens, t)
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderSnapshot writes the snapshot in the selected output format.
func renderSnapshot(w io.Writer, s *types.Snapshot) error {
	if OutputFormat == "json" {
		return writeJSON(w, toJSON(s))
	}

	if !s.Connected() {
		fmt.Fprintln(w, Hint("Not connected. Create or import a wallet with: whalestake wallet create"))
		return nil
	}

	fields := [][2]string{{"Account", s.Account.Hex()}}
	if s.TestMode != nil {
		mode := "off"
		if *s.TestMode {
			mode = "on"
		}
		fields = append(fields, [2]string{"Test mode", mode})
	}
	if s.IsOwner {
		fields = append(fields, [2]string{"Role", "contract owner"})
	}
	fmt.Fprintln(w, StatusBox(Logo(), fields))
	fmt.Fprintln(w, KeyValue("Updated", s.TakenAt.Local().Format(time.DateTime)))

	if s.Unavailable {
		fmt.Fprintln(w, Hint("Staking data is unavailable. Check your RPC endpoint."))
	}

	fmt.Fprintln(w, SectionHeader("Balances"))
	fmt.Fprint(w, RenderTable([]string{"Token", "Wallet", "USD"}, balanceRows(s)))

	fmt.Fprintln(w, SectionHeader("Stakes"))
	if !s.HasAnyStake && !s.Unavailable {
		fmt.Fprintln(w, Hint("No active stakes. Start with: whalestake stake USDT 100 --duration \"6 Months\""))
		return nil
	}
	fmt.Fprint(w, RenderTable(
		[]string{"Token", "Staked", "APR", "Progress", "Est. rewards", "Claimable", "Unlocks", "State"},
		stakeRows(s),
	))
	return nil
}

func balanceRows(s *types.Snapshot) [][]string {
	rows := make([][]string, 0, len(s.Tokens))
	for _, v := range s.Tokens {
		bal := StatusBadge(string(v.Balance.State))
		usd := "-"
		if v.Balance.State == types.FieldReady {
			bal = FormatAmount(units.Format(v.Balance.Amount, units.Decimals, displayPlaces), "")
			if v.PriceUSD != nil {
				value := units.FromBaseUnits(v.Balance.Amount, units.Decimals).Mul(*v.PriceUSD)
				usd = "$" + FormatAmount(value.StringFixed(2), "")
			}
		}
		rows = append(rows, []string{string(v.Symbol), bal, usd})
	}
	return rows
}

func stakeRows(s *types.Snapshot) [][]string {
	var rows [][]string
	for _, v := range s.Tokens {
		if v.StakeState != types.FieldReady {
			rows = append(rows, []string{string(v.Symbol), "-", "-", "-", "-", "-", "-", StatusBadge(string(v.StakeState))})
			continue
		}
		sv := v.Stake
		if sv == nil || !sv.Record.Active() {
			continue
		}
		apr := "n/a"
		if sv.APRDefined {
			apr = fmt.Sprintf("%d%%", sv.APRPercent)
		}
		unlocks := "-"
		if sv.Record.UnlockAt != nil {
			unlocks = sv.Record.UnlockAt.Local().Format("2006-01-02 15:04")
		}
		state := "unlocked"
		if sv.Locked {
			state = "locked"
		}
		rows = append(rows, []string{
			string(v.Symbol),
			FormatAmount(sv.Staked.StringFixed(displayPlaces), ""),
			apr,
			fmt.Sprintf("%d/%d days", sv.DaysElapsed, sv.DurationDays),
			FormatAmount(sv.Estimate.StringFixed(displayPlaces), ""),
			FormatAmount(sv.Claimable.StringFixed(displayPlaces), ""),
			unlocks,
			StatusBadge(state),
		})
	}
	return rows
}

// snapshotLine is the one-line summary printed per update by watch.
func snapshotLine(s *types.Snapshot) string {
	if !s.Connected() {
		return fmt.Sprintf("#%d not connected", s.Seq)
	}
	parts := []string{fmt.Sprintf("#%d %s", s.Seq, FormatAddress(s.Account.Hex()))}
	for _, v := range s.Tokens {
		switch {
		case v.StakeState != types.FieldReady:
			parts = append(parts, fmt.Sprintf("%s=%s", v.Symbol, v.StakeState))
		case v.Stake != nil && v.Stake.Record.Active():
			parts = append(parts, fmt.Sprintf("%s=%s", v.Symbol, v.Stake.Staked.StringFixed(displayPlaces)))
		}
	}
	if s.Unavailable {
		parts = append(parts, "unavailable")
	}
	return strings.Join(parts, " ")
}
