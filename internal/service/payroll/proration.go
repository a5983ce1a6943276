package payroll

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProRate scales a monthly salary to the period. A period covering at least
// the days of periodStart's month is paid in full.
func ProRate(monthly decimal.Decimal, periodStart, periodEnd time.Time) decimal.Decimal {
	periodDays := PeriodDays(periodStart, periodEnd)
	monthDays := DaysInMonth(periodStart)
	if periodDays >= monthDays {
		return monthly.Round(moneyPlaces)
	}
	if periodDays <= 0 {
		return decimal.Zero
	}
	return monthly.
		Mul(decimal.NewFromInt(int64(periodDays))).
		Div(decimal.NewFromInt(int64(monthDays))).
		Round(moneyPlaces)
}

// PeriodDays counts calendar days from start to end inclusive.
func PeriodDays(start, end time.Time) int {
	s := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	e := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(s).Hours()/24) + 1
}

func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
