package payroll

import (
	"fmt"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/shopspring/decimal"
)

// SalaryBasis holds the per employee values amount rules are computed from.
// DisposableIncome is only bound while garnishments are calculated.
type SalaryBasis struct {
	BasicSalary      decimal.Decimal
	GrossSalary      decimal.Decimal
	YearsOfService   int
	DisposableIncome *decimal.Decimal
}

func (b SalaryBasis) bindings() map[string]decimal.Decimal {
	bindings := map[string]decimal.Decimal{
		"basic_salary":     b.BasicSalary,
		"gross_salary":     b.GrossSalary,
		"years_of_service": decimal.NewFromInt(int64(b.YearsOfService)),
	}
	if b.DisposableIncome != nil {
		bindings["disposable_income"] = *b.DisposableIncome
	}
	return bindings
}

// LineAmounts - Employer and employee side of one computed line.
type LineAmounts struct {
	EmployerAmount decimal.Decimal
	EmployeeAmount decimal.Decimal
	TotalAmount    decimal.Decimal
}

func employeeOnly(amount decimal.Decimal) LineAmounts {
	return LineAmounts{EmployerAmount: decimal.Zero, EmployeeAmount: amount, TotalAmount: amount}
}

// CalculateAmount evaluates an amount rule, clamps it to the configured
// bounds and rounds to cents. On error the amount is zero.
func CalculateAmount(rule payroll.AmountRule, basis SalaryBasis) (decimal.Decimal, error) {
	raw, err := rawAmount(rule, basis.GrossSalary, basis)
	if err != nil {
		return decimal.Zero, err
	}
	return clampAmount(raw, rule.MinimumAmount, rule.MaximumAmount).Round(moneyPlaces), nil
}

// rawAmount dispatches on the method. percentageBase is what
// percentage_of_salary multiplies, gross for lines and the remaining pool
// for garnishments.
func rawAmount(rule payroll.AmountRule, percentageBase decimal.Decimal, basis SalaryBasis) (decimal.Decimal, error) {
	switch rule.Method {
	case payroll.MethodFixedAmount:
		if rule.Amount == nil {
			return decimal.Zero, &payroll.ValidationError{Field: "amount", Message: "is required for fixed_amount"}
		}
		return *rule.Amount, nil
	case payroll.MethodPercentageOfSalary:
		if rule.Percentage == nil {
			return decimal.Zero, &payroll.ValidationError{Field: "percentage", Message: "is required for percentage_of_salary"}
		}
		return percentageBase.Mul(*rule.Percentage), nil
	case payroll.MethodPercentageOfBasic:
		if rule.Percentage == nil {
			return decimal.Zero, &payroll.ValidationError{Field: "percentage", Message: "is required for percentage_of_basic"}
		}
		return basis.BasicSalary.Mul(*rule.Percentage), nil
	case payroll.MethodFormula:
		if rule.Formula == "" {
			return decimal.Zero, &payroll.ValidationError{Field: "formula", Message: "is required for formula"}
		}
		return formula.Evaluate(rule.Formula, basis.bindings())
	case payroll.MethodManual:
		return decimal.Zero, nil
	}
	return decimal.Zero, &payroll.ValidationError{Field: "method", Message: fmt.Sprintf("unsupported calculation method %q", rule.Method)}
}

func clampAmount(amount decimal.Decimal, min, max *decimal.Decimal) decimal.Decimal {
	if min != nil && amount.LessThan(*min) {
		amount = *min
	}
	if max != nil && amount.GreaterThan(*max) {
		amount = *max
	}
	return amount
}

// CalculateTemplate computes one company template line for emp. Ineligible
// templates yield zero amounts.
func CalculateTemplate(tpl payroll.CompanyPayrollTemplate, emp payroll.Employee, basis SalaryBasis) (LineAmounts, error) {
	zero := employeeOnly(decimal.Zero)
	if !tpl.IsApplicable(emp) {
		return zero, nil
	}

	amount, err := CalculateAmount(tpl.AmountRule, basis)
	if err != nil {
		return zero, err
	}
	if tpl.Type != payroll.TemplateTypeEmployerContribution {
		return employeeOnly(amount), nil
	}

	line := LineAmounts{EmployerAmount: amount, EmployeeAmount: decimal.Zero}
	if tpl.EmployeeMatch != nil {
		match, err := employeeMatch(tpl, amount, basis)
		if err != nil {
			return zero, err
		}
		line.EmployeeAmount = match
	}
	line.TotalAmount = line.EmployerAmount.Add(line.EmployeeAmount)
	return line, nil
}

// employeeMatch computes the employee side of an employer contribution. It
// is clamped by the same bounds as the employer amount.
func employeeMatch(tpl payroll.CompanyPayrollTemplate, employerAmount decimal.Decimal, basis SalaryBasis) (decimal.Decimal, error) {
	m := tpl.EmployeeMatch
	var raw decimal.Decimal

	switch m.Logic {
	case payroll.MatchLogicEqual:
		return employerAmount, nil
	case payroll.MatchLogicPercentage:
		if m.Percentage == nil {
			return decimal.Zero, &payroll.ValidationError{Field: "employee_match.percentage", Message: "is required for percentage match"}
		}
		base := basis.GrossSalary
		if tpl.Method == payroll.MethodPercentageOfBasic {
			base = basis.BasicSalary
		}
		raw = base.Mul(*m.Percentage)
	case payroll.MatchLogicCustom:
		switch {
		case m.Amount != nil:
			raw = *m.Amount
		case m.Percentage != nil:
			raw = basis.GrossSalary.Mul(*m.Percentage)
		default:
			return decimal.Zero, &payroll.ValidationError{Field: "employee_match", Message: "custom match needs an amount or percentage"}
		}
	default:
		return decimal.Zero, &payroll.ValidationError{Field: "employee_match.logic", Message: fmt.Sprintf("unsupported match logic %q", m.Logic)}
	}
	return clampAmount(raw, tpl.MinimumAmount, tpl.MaximumAmount).Round(moneyPlaces), nil
}

// CalculateItem computes a non garnishment employee item.
func CalculateItem(item payroll.EmployeePayrollItem, basis SalaryBasis) (decimal.Decimal, error) {
	return CalculateAmount(item.AmountRule, basis)
}
