package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalestrategy/whalestake/internal/units"
	"github.com/whalestrategy/whalestake/pkg/types"
)

const day = 24 * time.Hour

// APRForDays maps a lock length to its APR tier. Boundaries are inclusive.
// Locks longer than a year have no tier and report ok=false.
func APRForDays(days int) (apr int, ok bool) {
	switch {
	case days <= 30:
		return 15, true
	case days <= 180:
		return 24, true
	case days <= 365:
		return 36, true
	}
	return 0, false
}

// DurationDays is the lock length rounded up to whole days
func DurationDays(stakedAt, unlockAt time.Time) int {
	d := unlockAt.Sub(stakedAt)
	if d <= 0 {
		return 0
	}
	days := int(d / day)
	if d%day != 0 {
		days++
	}
	return days
}

// DaysElapsed counts whole days since stakedAt, clamped to [0, duration].
func DaysElapsed(stakedAt, now time.Time, duration int) int {
	if !now.After(stakedAt) {
		return 0
	}
	days := int(now.Sub(stakedAt) / day)
	if days > duration {
		return duration
	}
	return days
}

// EstimateRewards is staked * apr/100 * days/365, truncated to token precision.
func EstimateRewards(staked decimal.Decimal, apr, days int) decimal.Decimal {
	if apr <= 0 || days <= 0 {
		return decimal.Zero
	}
	num := staked.Mul(decimal.NewFromInt(int64(apr))).Mul(decimal.NewFromInt(int64(days)))
	return num.DivRound(decimal.NewFromInt(100*365), units.Decimals+2).Truncate(units.Decimals)
}

// DeriveStake builds the display view for a stake record at now.
func DeriveStake(rec *types.StakeRecord, decimals int32, now time.Time) *types.StakeView {
	v := &types.StakeView{
		Record:    rec,
		Staked:    units.FromBaseUnits(rec.StakedAmount, decimals),
		Claimable: units.FromBaseUnits(rec.Rewards, decimals),
		Estimate:  decimal.Zero,
	}
	if !rec.Active() || rec.StakedAt == nil || rec.UnlockAt == nil {
		return v
	}

	v.DurationDays = DurationDays(*rec.StakedAt, *rec.UnlockAt)
	v.DaysElapsed = DaysElapsed(*rec.StakedAt, now, v.DurationDays)
	v.APRPercent, v.APRDefined = APRForDays(v.DurationDays)
	if v.APRDefined {
		v.Estimate = EstimateRewards(v.Staked, v.APRPercent, v.DaysElapsed)
	}
	v.Locked = rec.Locked(now)
	return v
}
