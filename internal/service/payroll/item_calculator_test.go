package payroll

import (
	"testing"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/formula"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBasis = SalaryBasis{
	BasicSalary:    d("5000"),
	GrossSalary:    d("6000"),
	YearsOfService: 4,
}

func TestCalculateAmount_Methods(t *testing.T) {
	cases := []struct {
		name string
		rule payroll.AmountRule
		want string
	}{
		{"fixed", payroll.AmountRule{Method: payroll.MethodFixedAmount, Amount: dp("250.555")}, "250.56"},
		{"percentage of salary", payroll.AmountRule{Method: payroll.MethodPercentageOfSalary, Percentage: dp("0.1")}, "600"},
		{"percentage of basic", payroll.AmountRule{Method: payroll.MethodPercentageOfBasic, Percentage: dp("0.1")}, "500"},
		{"formula", payroll.AmountRule{Method: payroll.MethodFormula, Formula: "{basic_salary} * 0.01 * {years_of_service}"}, "200"},
		{"manual", payroll.AmountRule{Method: payroll.MethodManual, Amount: dp("999")}, "0"},
		{"clamped to max", payroll.AmountRule{Method: payroll.MethodPercentageOfSalary, Percentage: dp("0.5"), MaximumAmount: dp("1000")}, "1000"},
		{"clamped to min", payroll.AmountRule{Method: payroll.MethodFixedAmount, Amount: dp("10"), MinimumAmount: dp("50")}, "50"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CalculateAmount(c.rule, testBasis)
			require.NoError(t, err)
			assertDecimal(t, c.want, got)
		})
	}
}

func TestCalculateAmount_Errors(t *testing.T) {
	cases := []struct {
		name string
		rule payroll.AmountRule
		want error
	}{
		{"fixed without amount", payroll.AmountRule{Method: payroll.MethodFixedAmount}, payroll.ErrValidation},
		{"percentage without percentage", payroll.AmountRule{Method: payroll.MethodPercentageOfBasic}, payroll.ErrValidation},
		{"unknown method", payroll.AmountRule{Method: "guess"}, payroll.ErrValidation},
		{"injection", payroll.AmountRule{Method: payroll.MethodFormula, Formula: "{basic_salary} * 0.1; DROP"}, formula.ErrUnsafeExpression},
		{"division by zero", payroll.AmountRule{Method: payroll.MethodFormula, Formula: "{gross_salary} / ({years_of_service} - 4)"}, formula.ErrArithmetic},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := CalculateAmount(c.rule, testBasis)
			assert.ErrorIs(t, err, c.want)
			assert.True(t, got.IsZero())
		})
	}
}

func TestCalculateAmount_AlwaysWithinBounds(t *testing.T) {
	lower, upper := dp("100"), dp("400")
	for _, pct := range []string{"0", "0.001", "0.02", "0.05", "0.5", "2"} {
		rule := payroll.AmountRule{Method: payroll.MethodPercentageOfSalary, Percentage: dp(pct), MinimumAmount: lower, MaximumAmount: upper}
		got, err := CalculateAmount(rule, testBasis)
		require.NoError(t, err)
		assert.False(t, got.LessThan(*lower), "pct %s", pct)
		assert.False(t, got.GreaterThan(*upper), "pct %s", pct)
	}
}

func TestCalculateTemplate_InactiveIsZero(t *testing.T) {
	emp := payroll.Employee{BaseSalary: d("5000")}
	rules := []payroll.AmountRule{
		{Method: payroll.MethodFixedAmount, Amount: dp("300")},
		{Method: payroll.MethodPercentageOfSalary, Percentage: dp("0.2"), MinimumAmount: dp("50")},
		{Method: payroll.MethodFormula, Formula: "{basic_salary}"},
	}
	for _, rule := range rules {
		tpl := payroll.CompanyPayrollTemplate{
			Type:          payroll.TemplateTypeEmployerContribution,
			IsActive:      false,
			AmountRule:    rule,
			EmployeeMatch: &payroll.EmployeeMatch{Logic: payroll.MatchLogicEqual},
		}
		line, err := CalculateTemplate(tpl, emp, testBasis)
		require.NoError(t, err)
		assert.True(t, line.EmployerAmount.IsZero())
		assert.True(t, line.EmployeeAmount.IsZero())
		assert.True(t, line.TotalAmount.IsZero())
	}
}

func TestCalculateTemplate_EmployeeMatch(t *testing.T) {
	emp := payroll.Employee{BaseSalary: d("5000")}

	cases := []struct {
		name     string
		rule     payroll.AmountRule
		match    payroll.EmployeeMatch
		employer string
		employee string
	}{
		{
			name:     "equal",
			rule:     payroll.AmountRule{Method: payroll.MethodPercentageOfSalary, Percentage: dp("0.05")},
			match:    payroll.EmployeeMatch{Logic: payroll.MatchLogicEqual},
			employer: "300", employee: "300",
		},
		{
			name:     "percentage uses gross for salary method",
			rule:     payroll.AmountRule{Method: payroll.MethodPercentageOfSalary, Percentage: dp("0.05")},
			match:    payroll.EmployeeMatch{Logic: payroll.MatchLogicPercentage, Percentage: dp("0.03")},
			employer: "300", employee: "180",
		},
		{
			name:     "percentage uses basic for basic method",
			rule:     payroll.AmountRule{Method: payroll.MethodPercentageOfBasic, Percentage: dp("0.05")},
			match:    payroll.EmployeeMatch{Logic: payroll.MatchLogicPercentage, Percentage: dp("0.03")},
			employer: "250", employee: "150",
		},
		{
			name:     "custom fixed amount",
			rule:     payroll.AmountRule{Method: payroll.MethodFixedAmount, Amount: dp("400")},
			match:    payroll.EmployeeMatch{Logic: payroll.MatchLogicCustom, Amount: dp("75")},
			employer: "400", employee: "75",
		},
		{
			name:     "match clamped by contribution bounds",
			rule:     payroll.AmountRule{Method: payroll.MethodFixedAmount, Amount: dp("400"), MinimumAmount: dp("100")},
			match:    payroll.EmployeeMatch{Logic: payroll.MatchLogicCustom, Amount: dp("20")},
			employer: "400", employee: "100",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			match := c.match
			tpl := payroll.CompanyPayrollTemplate{
				Type:          payroll.TemplateTypeEmployerContribution,
				IsActive:      true,
				AmountRule:    c.rule,
				EmployeeMatch: &match,
			}
			line, err := CalculateTemplate(tpl, emp, testBasis)
			require.NoError(t, err)
			assertDecimal(t, c.employer, line.EmployerAmount)
			assertDecimal(t, c.employee, line.EmployeeAmount)
			assertDecimal(t, d(c.employer).Add(d(c.employee)).String(), line.TotalAmount)
		})
	}
}

func TestCalculateTemplate_EqualMatchAlwaysEqual(t *testing.T) {
	emp := payroll.Employee{BaseSalary: d("5000")}
	for _, pct := range []string{"0.01", "0.033", "0.0625", "0.1"} {
		tpl := payroll.CompanyPayrollTemplate{
			Type:          payroll.TemplateTypeEmployerContribution,
			IsActive:      true,
			AmountRule:    payroll.AmountRule{Method: payroll.MethodPercentageOfSalary, Percentage: dp(pct), MaximumAmount: dp("350")},
			EmployeeMatch: &payroll.EmployeeMatch{Logic: payroll.MatchLogicEqual},
		}
		line, err := CalculateTemplate(tpl, emp, testBasis)
		require.NoError(t, err)
		assert.True(t, line.EmployeeAmount.Equal(line.EmployerAmount), "pct %s", pct)
	}
}

func TestCalculateTemplate_AllowanceIsEmployeeOnly(t *testing.T) {
	tpl := payroll.CompanyPayrollTemplate{
		Type:       payroll.TemplateTypeAllowance,
		IsActive:   true,
		AmountRule: payroll.AmountRule{Method: payroll.MethodFixedAmount, Amount: dp("150")},
	}
	line, err := CalculateTemplate(tpl, payroll.Employee{}, testBasis)
	require.NoError(t, err)
	assertDecimal(t, "150", line.EmployeeAmount)
	assertDecimal(t, "0", line.EmployerAmount)
	assertDecimal(t, "150", line.TotalAmount)
}
