package payroll

import (
	"errors"
	"sort"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/shopspring/decimal"
)

// SelectGarnishments returns the active, effective and not yet fully
// garnished garnishments ordered by priority, then creation time, then
// input order.
func SelectGarnishments(items []payroll.EmployeePayrollItem, date time.Time) []payroll.EmployeePayrollItem {
	var selected []payroll.EmployeePayrollItem
	for _, item := range items {
		if !item.IsGarnishment() || item.Status != payroll.ItemStatusActive {
			continue
		}
		if !item.IsEffective(date) || item.Garnishment.IsFullyGarnished() {
			continue
		}
		selected = append(selected, item)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		pi, pj := selected[i].Garnishment.Priority(), selected[j].Garnishment.Priority()
		if pi != pj {
			return pi < pj
		}
		return selected[i].CreatedAt.Before(selected[j].CreatedAt)
	})
	return selected
}

// CalculateGarnishments draws garnishments from disposable income one item at
// a time. Each item sees the pool left by the items before it, so the order
// matters and the loop must stay sequential.
func CalculateGarnishments(employeeID string, items []payroll.EmployeePayrollItem, disposable decimal.Decimal, date time.Time, basis SalaryBasis) payroll.GarnishmentResult {
	result := payroll.GarnishmentResult{
		EmployeeID:       employeeID,
		DisposableIncome: disposable,
		Garnishments:     []payroll.AppliedGarnishment{},
		TotalGarnished:   decimal.Zero,
	}
	for _, item := range items {
		if item.Kind != payroll.ItemKindGarnishment || item.Status != payroll.ItemStatusActive || !item.IsEffective(date) {
			continue
		}
		if item.Garnishment == nil {
			result.Errors = append(result.Errors, payroll.CalculationError{
				Source:   payroll.SourceEmployeeItem,
				SourceID: item.ID,
				Kind:     payroll.ErrorKindValidation,
				Message:  "garnishment item has no court order data",
			})
		}
	}

	remaining := disposable
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	for _, item := range SelectGarnishments(items, date) {
		if !remaining.IsPositive() {
			break
		}
		g := item.Garnishment

		pool := remaining
		itemBasis := basis
		itemBasis.DisposableIncome = &pool

		raw, err := rawAmount(item.AmountRule, pool, itemBasis)
		if err != nil {
			result.Errors = append(result.Errors, calculationError(payroll.SourceEmployeeItem, item.ID, err))
			continue
		}
		raw = clampAmount(raw, item.MinimumAmount, item.MaximumAmount)

		capPct := g.CapPercentage()
		maxAllowable := pool.Mul(capPct).Truncate(moneyPlaces)
		amount := decimal.Min(raw, maxAllowable)
		if lifetime, ok := g.LifetimeRemaining(); ok {
			amount = decimal.Min(amount, lifetime)
		}
		amount = decimal.Max(amount, decimal.Zero).Truncate(moneyPlaces)
		if !amount.IsPositive() {
			continue
		}

		toDate := g.AmountGarnishedToDate.Add(amount)
		completed := g.TotalAmountToGarnish != nil && toDate.GreaterThanOrEqual(*g.TotalAmountToGarnish)

		result.Garnishments = append(result.Garnishments, payroll.AppliedGarnishment{
			ItemID:                item.ID,
			Name:                  item.Name,
			Type:                  g.Type,
			CourtOrderNumber:      g.CourtOrderNumber,
			Priority:              g.Priority(),
			PoolBefore:            pool,
			RawAmount:             raw.Round(moneyPlaces),
			CapPercentage:         capPct,
			MaxAllowable:          maxAllowable,
			Amount:                amount,
			AmountGarnishedToDate: toDate,
			Completed:             completed,
		})
		result.TotalGarnished = result.TotalGarnished.Add(amount)
		remaining = remaining.Sub(amount)
	}

	result.RemainingDisposable = remaining
	return result
}

// calculationError converts a line failure into a result entry.
func calculationError(source payroll.LineSource, sourceID string, err error) payroll.CalculationError {
	return payroll.CalculationError{
		Source:   source,
		SourceID: sourceID,
		Kind:     errorKind(err),
		Message:  err.Error(),
	}
}

func errorKind(err error) payroll.ErrorKind {
	switch {
	case errors.Is(err, payroll.ErrBracketData):
		return payroll.ErrorKindBracketData
	case errors.Is(err, formula.ErrUnsafeExpression):
		return payroll.ErrorKindUnsafeExpression
	case errors.Is(err, formula.ErrArithmetic):
		return payroll.ErrorKindArithmetic
	case errors.Is(err, formula.ErrMalformedExpression):
		return payroll.ErrorKindMalformedFormula
	}
	return payroll.ErrorKindValidation
}
