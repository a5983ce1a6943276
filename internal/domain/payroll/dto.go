package payroll

import (
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

// ========== CALCULATION DTOs ==========

// CalculateEmployeePayrollRequest - CompanyID comes from the caller's token, never the body.
type CalculateEmployeePayrollRequest struct {
	CompanyID             string  `json:"-"`
	EmployeeID            string  `json:"employee_id"`
	PeriodStart           string  `json:"period_start"`
	PeriodEnd             string  `json:"period_end"`
	CalculationDate       *string `json:"calculation_date,omitempty"`
	AllowPartialStatutory bool    `json:"allow_partial_statutory"`
	Commit                bool    `json:"commit"`
}

func (r *CalculateEmployeePayrollRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.CompanyID) {
		errs = append(errs, validator.ValidationError{Field: "company_id", Message: "is required"})
	}
	if validator.IsEmpty(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "is required"})
	} else if !validator.IsValidUUID(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "must be a valid UUID"})
	}
	errs = append(errs, validatePeriod(r.PeriodStart, r.PeriodEnd, r.CalculationDate)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Period returns the parsed period. Call after Validate.
func (r *CalculateEmployeePayrollRequest) Period() (start, end time.Time, calculationDate *time.Time) {
	return parsePeriod(r.PeriodStart, r.PeriodEnd, r.CalculationDate)
}

// CalculateBatchPayrollRequest - Empty EmployeeIDs means every active employee of the company.
type CalculateBatchPayrollRequest struct {
	CompanyID             string   `json:"-"`
	EmployeeIDs           []string `json:"employee_ids,omitempty"`
	PeriodStart           string   `json:"period_start"`
	PeriodEnd             string   `json:"period_end"`
	CalculationDate       *string  `json:"calculation_date,omitempty"`
	AllowPartialStatutory bool     `json:"allow_partial_statutory"`
	Commit                bool     `json:"commit"`
}

func (r *CalculateBatchPayrollRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.CompanyID) {
		errs = append(errs, validator.ValidationError{Field: "company_id", Message: "is required"})
	}
	for _, id := range r.EmployeeIDs {
		if !validator.IsValidUUID(id) {
			errs = append(errs, validator.ValidationError{Field: "employee_ids", Message: "must contain valid UUIDs"})
			break
		}
	}
	if dup, ok := validator.FirstDuplicate(r.EmployeeIDs); ok {
		errs = append(errs, validator.ValidationError{Field: "employee_ids", Message: "contains duplicate " + dup})
	}
	errs = append(errs, validatePeriod(r.PeriodStart, r.PeriodEnd, r.CalculationDate)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r *CalculateBatchPayrollRequest) Period() (start, end time.Time, calculationDate *time.Time) {
	return parsePeriod(r.PeriodStart, r.PeriodEnd, r.CalculationDate)
}

// CalculateGarnishmentsRequest - Preview of garnishments against a given disposable income.
type CalculateGarnishmentsRequest struct {
	CompanyID        string          `json:"-"`
	EmployeeID       string          `json:"employee_id"`
	DisposableIncome decimal.Decimal `json:"disposable_income"`
	Date             string          `json:"date"`
}

func (r *CalculateGarnishmentsRequest) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(r.CompanyID) {
		errs = append(errs, validator.ValidationError{Field: "company_id", Message: "is required"})
	}
	if validator.IsEmpty(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "is required"})
	} else if !validator.IsValidUUID(r.EmployeeID) {
		errs = append(errs, validator.ValidationError{Field: "employee_id", Message: "must be a valid UUID"})
	}
	if r.DisposableIncome.IsNegative() {
		errs = append(errs, validator.ValidationError{Field: "disposable_income", Message: "must be non-negative"})
	}
	if validator.IsEmpty(r.Date) {
		errs = append(errs, validator.ValidationError{Field: "date", Message: "is required"})
	} else if _, ok := validator.IsValidDate(r.Date); !ok {
		errs = append(errs, validator.ValidationError{Field: "date", Message: "must be in YYYY-MM-DD format"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (r *CalculateGarnishmentsRequest) ParsedDate() time.Time {
	date, _ := validator.IsValidDate(r.Date)
	return date
}

func validatePeriod(startStr, endStr string, calcStr *string) validator.ValidationErrors {
	var errs validator.ValidationErrors

	start, startOK := validator.IsValidDate(startStr)
	if !startOK {
		errs = append(errs, validator.ValidationError{Field: "period_start", Message: "must be in YYYY-MM-DD format"})
	}
	end, endOK := validator.IsValidDate(endStr)
	if !endOK {
		errs = append(errs, validator.ValidationError{Field: "period_end", Message: "must be in YYYY-MM-DD format"})
	}
	if startOK && endOK && end.Before(start) {
		errs = append(errs, validator.ValidationError{Field: "period_end", Message: "must not be before period_start"})
	}
	if calcStr != nil {
		if _, ok := validator.IsValidDate(*calcStr); !ok {
			errs = append(errs, validator.ValidationError{Field: "calculation_date", Message: "must be in YYYY-MM-DD format"})
		}
	}
	return errs
}

func parsePeriod(startStr, endStr string, calcStr *string) (start, end time.Time, calculationDate *time.Time) {
	start, _ = validator.IsValidDate(startStr)
	end, _ = validator.IsValidDate(endStr)
	if calcStr != nil {
		if date, ok := validator.IsValidDate(*calcStr); ok {
			calculationDate = &date
		}
	}
	return start, end, calculationDate
}
