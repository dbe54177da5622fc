package txflow

import (
	"math/big"
	"sync"

	"github.com/whalestrategy/whalestake/internal/ledger"
	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

// Duration labels offered by default
const (
	Label30Days   = "30 Days"
	Label6Months  = "6 Months"
	Label1Year    = "1 Year"
	fallbackMonth = 12
)

// MonthsForLabel converts a duration label to the contract's month count.
// Unrecognised labels fall back to a year.
func MonthsForLabel(label string) int64 {
	switch label {
	case Label30Days:
		return 1
	case Label6Months:
		return 6
	}
	return fallbackMonth
}

// DurationOption is one selectable lock duration.
type DurationOption struct {
	Label  string
	Months int64
	APR    int
}

// DurationOptions builds the selectable durations for the given labels.
func DurationOptions(labels []string) []DurationOption {
	opts := make([]DurationOption, 0, len(labels))
	for _, l := range labels {
		months := MonthsForLabel(l)
		apr, _ := ledger.APRForDays(monthsToDays(months))
		opts = append(opts, DurationOption{Label: l, Months: months, APR: apr})
	}
	return opts
}

func monthsToDays(months int64) int {
	if months == 12 {
		return 365
	}
	return int(months) * 30
}

// Form is the per-token stake input state.
type Form struct {
	Amount   string
	Duration string
	Percent  float64
}

// Forms holds one Form per token.
type Forms struct {
	mu    sync.Mutex
	forms map[types.TokenSymbol]Form
}

func NewForms() *Forms {
	return &Forms{forms: make(map[types.TokenSymbol]Form)}
}

// Get returns the form for sym; unset forms are zero-valued
func (f *Forms) Get(sym types.TokenSymbol) Form {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[sym]
}

// SetAmount stores sanitized amount text and returns it. Typing an amount
// detaches the slider.
func (f *Forms) SetAmount(sym types.TokenSymbol, raw string) string {
	clean := units.Sanitize(raw)
	f.update(sym, func(fm *Form) {
		fm.Amount = clean
		fm.Percent = 0
	})
	return clean
}

// SetPercent sets the amount to pct percent of balance.
func (f *Forms) SetPercent(sym types.TokenSymbol, pct float64, balance *big.Int) string {
	amount := units.AmountFromPercent(balance, units.Decimals, pct)
	f.update(sym, func(fm *Form) {
		fm.Amount = amount
		fm.Percent = pct
	})
	return amount
}

func (f *Forms) SetDuration(sym types.TokenSymbol, label string) {
	f.update(sym, func(fm *Form) { fm.Duration = label })
}

// Reset clears amount, duration and slider for sym.
func (f *Forms) Reset(sym types.TokenSymbol) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.forms, sym)
}

func (f *Forms) update(sym types.TokenSymbol, fn func(*Form)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fm := f.forms[sym]
	fn(&fm)
	f.forms[sym] = fm
}
