package payroll

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
)

const moneyPlaces = 2

var cent = decimal.New(1, -moneyPlaces)

// StatutoryCalculation is the outcome of one deduction template.
// EmployeeRate and EmployerRate are the resolved template rates.
type StatutoryCalculation struct {
	EmployeeAmount decimal.Decimal
	EmployerAmount decimal.Decimal
	EmployeeRate   decimal.Decimal
	EmployerRate   decimal.Decimal
	TaxableBenefit decimal.Decimal
	Trace          payroll.StatutoryTrace
}

// ParseStatutoryRules decodes the template rule payload. An empty payload
// decodes to zero rules.
func ParseStatutoryRules(tpl payroll.DeductionTemplate) (payroll.StatutoryRules, error) {
	var rules payroll.StatutoryRules
	raw := bytes.TrimSpace(tpl.Rules)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return rules, nil
	}
	if err := json.Unmarshal(raw, &rules); err != nil {
		return payroll.StatutoryRules{}, &payroll.BracketDataError{TemplateID: tpl.ID, Reason: fmt.Sprintf("invalid rules payload: %v", err)}
	}
	return rules, nil
}

// ValidateBrackets returns the brackets sorted by min. Ranges must be
// contiguous and the top bracket open ended. Progressive bands share their
// boundary (next min equals max); salary bands carry inclusive maxima, so
// the next min may also sit one cent above max.
func ValidateBrackets(templateID string, method payroll.StatutoryMethod, brackets []payroll.Bracket) ([]payroll.Bracket, error) {
	if len(brackets) == 0 {
		return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: "no brackets configured"}
	}
	sorted := make([]payroll.Bracket, len(brackets))
	copy(sorted, brackets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Min.LessThan(sorted[j].Min)
	})

	last := len(sorted) - 1
	for i, b := range sorted {
		if b.Min.IsNegative() {
			return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: fmt.Sprintf("bracket %d has a negative min", i)}
		}
		if b.Max == nil {
			if i != last {
				return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: fmt.Sprintf("bracket %d is open ended but not the top bracket", i)}
			}
			continue
		}
		if b.Max.LessThanOrEqual(b.Min) {
			return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: fmt.Sprintf("bracket %d max %s is not above min %s", i, b.Max, b.Min)}
		}
		if i == last {
			return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: fmt.Sprintf("top bracket %d must have no max", i)}
		}
		next := sorted[i+1].Min
		if next.LessThan(*b.Max) {
			return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: fmt.Sprintf("brackets %d and %d overlap", i, i+1)}
		}
		if !next.Equal(*b.Max) && !(method == payroll.StatutoryMethodSalaryBracket && next.Equal(b.Max.Add(cent))) {
			return nil, &payroll.BracketDataError{TemplateID: templateID, Reason: fmt.Sprintf("gap between bracket %d max %s and bracket %d min %s", i, b.Max, i+1, next)}
		}
	}
	return sorted, nil
}

// CapSalary clamps gross into [min, max]. Nil bounds mean 0 and +inf.
func CapSalary(gross decimal.Decimal, min, max *decimal.Decimal) decimal.Decimal {
	capped := gross
	lower := decimal.Zero
	if min != nil {
		lower = *min
	}
	if capped.LessThan(lower) {
		capped = lower
	}
	if max != nil && capped.GreaterThan(*max) {
		capped = *max
	}
	return capped
}

// CalculateStatutory computes employee and employer amounts of one template
// against gross salary. Outputs are rounded to cents.
func CalculateStatutory(tpl payroll.DeductionTemplate, gross decimal.Decimal) (StatutoryCalculation, error) {
	rules, err := ParseStatutoryRules(tpl)
	if err != nil {
		return StatutoryCalculation{}, err
	}

	capped := CapSalary(gross, tpl.MinSalary, tpl.MaxSalary)
	employeeRate, employerRate := tpl.BaseRates(rules)

	calc := StatutoryCalculation{
		EmployeeRate: employeeRate,
		EmployerRate: employerRate,
		Trace: payroll.StatutoryTrace{
			Method:       tpl.Method,
			GrossSalary:  gross,
			CappedSalary: capped,
			RebateTotal:  decimal.Zero,
		},
		TaxableBenefit: decimal.Zero,
	}

	switch tpl.Method {
	case payroll.StatutoryMethodPercentage:
		calc.EmployeeAmount = capped.Mul(employeeRate)
		calc.EmployerAmount = capped.Mul(employerRate)
		calc.Trace.EmployeeRate = &employeeRate
		calc.Trace.EmployerRate = &employerRate

	case payroll.StatutoryMethodProgressiveBracket:
		brackets, err := ValidateBrackets(tpl.ID, tpl.Method, rules.Brackets)
		if err != nil {
			return StatutoryCalculation{}, err
		}
		tax, breakdown := progressiveTax(brackets, capped)
		rebates := decimal.Zero
		for _, r := range rules.Rebates {
			rebates = rebates.Add(r.Amount)
		}
		tax = tax.Sub(rebates)
		if tax.IsNegative() {
			tax = decimal.Zero
		}
		calc.EmployeeAmount = tax
		calc.EmployerAmount = capped.Mul(employerRate)
		calc.Trace.Brackets = breakdown
		calc.Trace.RebateTotal = rebates
		calc.Trace.EmployerRate = &employerRate

	case payroll.StatutoryMethodSalaryBracket:
		brackets, err := ValidateBrackets(tpl.ID, tpl.Method, rules.Brackets)
		if err != nil {
			return StatutoryCalculation{}, err
		}
		calc.EmployeeAmount = decimal.Zero
		calc.EmployerAmount = decimal.Zero
		for i, b := range brackets {
			if capped.LessThan(b.Min) || (b.Max != nil && capped.GreaterThan(*b.Max)) {
				continue
			}
			idx := i
			calc.EmployeeAmount = b.Amount
			calc.EmployerAmount = b.EmployerAmount
			calc.Trace.MatchedBracket = &idx
			break
		}

	case payroll.StatutoryMethodFlatAmount:
		if rules.Amount == nil {
			return StatutoryCalculation{}, &payroll.ValidationError{Field: "rules.amount", Message: fmt.Sprintf("is required for flat_amount template %s", tpl.ID)}
		}
		calc.EmployeeAmount = *rules.Amount
		calc.EmployerAmount = decimal.Zero

	default:
		return StatutoryCalculation{}, &payroll.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported statutory method %q", tpl.Method)}
	}

	calc.EmployeeAmount = calc.EmployeeAmount.Round(moneyPlaces)
	calc.EmployerAmount = calc.EmployerAmount.Round(moneyPlaces)
	return calc, nil
}

// progressiveTax applies marginal rates. Brackets must be validated.
func progressiveTax(brackets []payroll.Bracket, capped decimal.Decimal) (decimal.Decimal, []payroll.BracketTrace) {
	total := decimal.Zero
	breakdown := make([]payroll.BracketTrace, 0, len(brackets))
	for _, b := range brackets {
		if !b.Min.LessThan(capped) {
			break
		}
		upper := capped
		if b.Max != nil && b.Max.LessThan(capped) {
			upper = *b.Max
		}
		taxable := upper.Sub(b.Min)
		tax := taxable.Mul(b.Rate)
		total = total.Add(tax)
		breakdown = append(breakdown, payroll.BracketTrace{
			Min:     b.Min,
			Max:     b.Max,
			Rate:    b.Rate,
			Taxable: taxable,
			Tax:     tax.Round(moneyPlaces),
		})
	}
	return total, breakdown
}
