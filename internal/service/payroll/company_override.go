package payroll

import (
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
)

// ApplyCompanyConfig layers a company configuration over a template result.
// An overridden rate replaces that side's amount only; the other side keeps
// its base amount and resolved rate. The employer may then take over the
// employee portion. A nil config returns base unchanged.
func ApplyCompanyConfig(cfg *payroll.CompanyDeductionConfiguration, base StatutoryCalculation) StatutoryCalculation {
	if cfg == nil {
		return base
	}
	result := base
	capped := base.Trace.CappedSalary

	if cfg.EmployeeRateOverride != nil {
		rate := cfg.EffectiveEmployeeRate(base.EmployeeRate)
		result.EmployeeRate = rate
		result.EmployeeAmount = capped.Mul(rate).Round(moneyPlaces)
		result.Trace.EmployeeRate = &rate
	}
	if cfg.EmployerRateOverride != nil {
		rate := cfg.EffectiveEmployerRate(base.EmployerRate)
		result.EmployerRate = rate
		result.EmployerAmount = capped.Mul(rate).Round(moneyPlaces)
		result.Trace.EmployerRate = &rate
	}
	result.Trace.RateOverridden = cfg.HasRateOverride()

	if cfg.EmployerCoversEmployeePortion {
		covered := result.EmployeeAmount
		result.EmployerAmount = result.EmployerAmount.Add(covered)
		result.EmployeeAmount = decimal.Zero
		result.Trace.EmployerCovers = true
		if cfg.TaxableIfEmployerPaid {
			result.TaxableBenefit = covered
		}
	}
	return result
}

// findCompanyConfig returns the active, effective configuration for the template.
func findCompanyConfig(configs []payroll.CompanyDeductionConfiguration, templateID string, date time.Time) *payroll.CompanyDeductionConfiguration {
	for i := range configs {
		cfg := &configs[i]
		if cfg.DeductionTemplateID != templateID || !cfg.IsActive {
			continue
		}
		if !cfg.IsEffective(date) {
			continue
		}
		return cfg
	}
	return nil
}
