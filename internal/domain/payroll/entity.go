package payroll

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// PayFrequency enum
type PayFrequency string

const (
	PayFrequencyMonthly     PayFrequency = "monthly"
	PayFrequencySemiMonthly PayFrequency = "semi_monthly"
	PayFrequencyBiweekly    PayFrequency = "biweekly"
	PayFrequencyWeekly      PayFrequency = "weekly"
)

// Employee - Calculation input snapshot of an employee. BaseSalary is monthly.
type Employee struct {
	ID             string
	CompanyID      string
	BaseSalary     decimal.Decimal
	HireDate       time.Time
	PayFrequency   PayFrequency
	DepartmentID   string
	PositionID     string
	EmploymentType string
	JurisdictionID string
}

// YearsOfService returns completed whole years between hire date and at.
func (e Employee) YearsOfService(at time.Time) int {
	if e.HireDate.IsZero() || at.Before(e.HireDate) {
		return 0
	}
	years := at.Year() - e.HireDate.Year()
	if at.Month() < e.HireDate.Month() || (at.Month() == e.HireDate.Month() && at.Day() < e.HireDate.Day()) {
		years--
	}
	return years
}

// EffectivePeriod is embedded by every dated rule record.
type EffectivePeriod struct {
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}

// IsEffective compares calendar days, an open EffectiveTo never expires.
func (p EffectivePeriod) IsEffective(date time.Time) bool {
	day := truncateDay(date)
	if !p.EffectiveFrom.IsZero() && day.Before(truncateDay(p.EffectiveFrom)) {
		return false
	}
	if p.EffectiveTo != nil && day.After(truncateDay(*p.EffectiveTo)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ========== STATUTORY ==========

// StatutoryMethod enum
type StatutoryMethod string

const (
	StatutoryMethodPercentage         StatutoryMethod = "percentage"
	StatutoryMethodProgressiveBracket StatutoryMethod = "progressive_bracket"
	StatutoryMethodSalaryBracket      StatutoryMethod = "salary_bracket"
	StatutoryMethodFlatAmount         StatutoryMethod = "flat_amount"
)

// DeductionTemplate - Government mandated withholding rule for a jurisdiction.
// Rules holds the method specific JSON payload, see StatutoryRules.
type DeductionTemplate struct {
	ID                string
	JurisdictionID    string
	Code              string
	Name              string
	Method            StatutoryMethod
	Rules             json.RawMessage
	MinSalary         *decimal.Decimal
	MaxSalary         *decimal.Decimal
	EmployeeRate      decimal.Decimal
	EmployerRate      decimal.Decimal
	IsMandatory       bool
	IsEmployerPayable bool
	EffectivePeriod
}

// StatutoryRules - Decoded form of DeductionTemplate.Rules.
type StatutoryRules struct {
	EmployeeRate *decimal.Decimal `json:"employee_rate,omitempty" yaml:"employee_rate,omitempty"`
	EmployerRate *decimal.Decimal `json:"employer_rate,omitempty" yaml:"employer_rate,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty" yaml:"amount,omitempty"`
	Brackets     []Bracket        `json:"brackets,omitempty" yaml:"brackets,omitempty"`
	Rebates      []Rebate         `json:"rebates,omitempty" yaml:"rebates,omitempty"`
}

// BaseRates resolves the template rates. Payload rates take precedence over
// the template columns.
func (t DeductionTemplate) BaseRates(rules StatutoryRules) (employee, employer decimal.Decimal) {
	employee, employer = t.EmployeeRate, t.EmployerRate
	if rules.EmployeeRate != nil {
		employee = *rules.EmployeeRate
	}
	if rules.EmployerRate != nil {
		employer = *rules.EmployerRate
	}
	return employee, employer
}

// Bracket - Salary band. A nil Max is unbounded.
type Bracket struct {
	Min            decimal.Decimal  `json:"min" yaml:"min"`
	Max            *decimal.Decimal `json:"max" yaml:"max"`
	Rate           decimal.Decimal  `json:"rate" yaml:"rate"`
	Amount         decimal.Decimal  `json:"amount" yaml:"amount"`
	EmployerAmount decimal.Decimal  `json:"employer_amount" yaml:"employer_amount"`
}

// Rebate - Flat amount subtracted from progressive tax.
type Rebate struct {
	Name   string          `json:"name" yaml:"name"`
	Amount decimal.Decimal `json:"amount" yaml:"amount"`
}

// CompanyDeductionConfiguration - Company override of a DeductionTemplate.
type CompanyDeductionConfiguration struct {
	ID                            string
	CompanyID                     string
	DeductionTemplateID           string
	EmployeeRateOverride          *decimal.Decimal
	EmployerRateOverride          *decimal.Decimal
	MinSalaryOverride             *decimal.Decimal
	MaxSalaryOverride             *decimal.Decimal
	EmployerCoversEmployeePortion bool
	TaxableIfEmployerPaid         bool
	IsActive                      bool
	EffectivePeriod
}

// HasRateOverride reports whether either rate is overridden.
func (c CompanyDeductionConfiguration) HasRateOverride() bool {
	return c.EmployeeRateOverride != nil || c.EmployerRateOverride != nil
}

// EffectiveEmployeeRate returns the override, or base when none is set.
// base is the template rate already resolved against its rule payload.
func (c CompanyDeductionConfiguration) EffectiveEmployeeRate(base decimal.Decimal) decimal.Decimal {
	if c.EmployeeRateOverride != nil {
		return *c.EmployeeRateOverride
	}
	return base
}

func (c CompanyDeductionConfiguration) EffectiveEmployerRate(base decimal.Decimal) decimal.Decimal {
	if c.EmployerRateOverride != nil {
		return *c.EmployerRateOverride
	}
	return base
}

// WithSalaryCaps returns a copy of t carrying the overridden caps.
func (c CompanyDeductionConfiguration) WithSalaryCaps(t DeductionTemplate) DeductionTemplate {
	if c.MinSalaryOverride != nil {
		t.MinSalary = c.MinSalaryOverride
	}
	if c.MaxSalaryOverride != nil {
		t.MaxSalary = c.MaxSalaryOverride
	}
	return t
}

// ========== COMPANY TEMPLATES ==========

// TemplateType enum
type TemplateType string

const (
	TemplateTypeAllowance            TemplateType = "allowance"
	TemplateTypeDeduction            TemplateType = "deduction"
	TemplateTypeEmployerContribution TemplateType = "employer_contribution"
)

// CalculationMethod enum
type CalculationMethod string

const (
	MethodFixedAmount        CalculationMethod = "fixed_amount"
	MethodPercentageOfSalary CalculationMethod = "percentage_of_salary"
	MethodPercentageOfBasic  CalculationMethod = "percentage_of_basic"
	MethodFormula            CalculationMethod = "formula"
	MethodManual             CalculationMethod = "manual"
)

// MatchLogic enum
type MatchLogic string

const (
	MatchLogicEqual      MatchLogic = "equal"
	MatchLogicPercentage MatchLogic = "percentage"
	MatchLogicCustom     MatchLogic = "custom"
)

// EligibilityRules - Empty lists and nil bounds do not restrict.
type EligibilityRules struct {
	Departments     []string         `json:"departments,omitempty"`
	Positions       []string         `json:"positions,omitempty"`
	EmploymentTypes []string         `json:"employment_types,omitempty"`
	MinSalary       *decimal.Decimal `json:"min_salary,omitempty"`
	MaxSalary       *decimal.Decimal `json:"max_salary,omitempty"`
}

// EmployeeMatch - Employee side of an employer contribution.
type EmployeeMatch struct {
	Logic      MatchLogic
	Amount     *decimal.Decimal
	Percentage *decimal.Decimal
}

// AmountRule - Calculation fields shared by templates and employee items.
type AmountRule struct {
	Method        CalculationMethod
	Amount        *decimal.Decimal
	Percentage    *decimal.Decimal
	Formula       string
	MinimumAmount *decimal.Decimal
	MaximumAmount *decimal.Decimal
}

// CompanyPayrollTemplate - Company scoped allowance, deduction or employer contribution.
type CompanyPayrollTemplate struct {
	ID          string
	CompanyID   string
	Code        string
	Name        string
	Type        TemplateType
	IsActive    bool
	IsTaxable   bool
	Eligibility EligibilityRules
	AmountRule
	EmployeeMatch *EmployeeMatch
	EffectivePeriod
}

// IsApplicable applies the eligibility gate for emp.
func (t CompanyPayrollTemplate) IsApplicable(emp Employee) bool {
	if !t.IsActive {
		return false
	}
	rules := t.Eligibility
	if len(rules.Departments) > 0 && !contains(rules.Departments, emp.DepartmentID) {
		return false
	}
	if len(rules.Positions) > 0 && !contains(rules.Positions, emp.PositionID) {
		return false
	}
	if len(rules.EmploymentTypes) > 0 && !contains(rules.EmploymentTypes, emp.EmploymentType) {
		return false
	}
	if rules.MinSalary != nil && emp.BaseSalary.LessThan(*rules.MinSalary) {
		return false
	}
	if rules.MaxSalary != nil && emp.BaseSalary.GreaterThan(*rules.MaxSalary) {
		return false
	}
	return true
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// ========== EMPLOYEE ITEMS ==========

// ItemKind enum. Garnishment items carry GarnishmentFields.
type ItemKind string

const (
	ItemKindAllowance   ItemKind = "allowance"
	ItemKindDeduction   ItemKind = "deduction"
	ItemKindBenefit     ItemKind = "benefit"
	ItemKindStatutory   ItemKind = "statutory"
	ItemKindGarnishment ItemKind = "garnishment"
)

// ItemStatus enum
type ItemStatus string

const (
	ItemStatusPendingApproval ItemStatus = "pending_approval"
	ItemStatusActive          ItemStatus = "active"
	ItemStatusSuspended       ItemStatus = "suspended"
	ItemStatusCancelled       ItemStatus = "cancelled"
	ItemStatusCompleted       ItemStatus = "completed"
)

var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPendingApproval: {ItemStatusActive, ItemStatusCancelled},
	ItemStatusActive:          {ItemStatusSuspended, ItemStatusCancelled, ItemStatusCompleted},
	ItemStatusSuspended:       {ItemStatusActive, ItemStatusCancelled},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to ItemStatus) bool {
	for _, next := range itemTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GarnishmentType enum
type GarnishmentType string

const (
	GarnishmentChildSupport    GarnishmentType = "child_support"
	GarnishmentTaxLevy         GarnishmentType = "tax_levy"
	GarnishmentStudentLoan     GarnishmentType = "student_loan"
	GarnishmentBankruptcy      GarnishmentType = "bankruptcy"
	GarnishmentWageGarnishment GarnishmentType = "wage_garnishment"
	GarnishmentOther           GarnishmentType = "other"
)

var defaultGarnishmentPriority = map[GarnishmentType]int{
	GarnishmentChildSupport:    1,
	GarnishmentTaxLevy:         2,
	GarnishmentStudentLoan:     3,
	GarnishmentBankruptcy:      4,
	GarnishmentWageGarnishment: 5,
	GarnishmentOther:           6,
}

var defaultGarnishmentCap = map[GarnishmentType]decimal.Decimal{
	GarnishmentWageGarnishment: decimal.RequireFromString("0.25"),
	GarnishmentChildSupport:    decimal.RequireFromString("0.50"),
	GarnishmentTaxLevy:         decimal.RequireFromString("0.15"),
	GarnishmentStudentLoan:     decimal.RequireFromString("0.15"),
	GarnishmentBankruptcy:      decimal.RequireFromString("0.25"),
	GarnishmentOther:           decimal.RequireFromString("0.25"),
}

// DefaultPriority - Unknown types rank with "other".
func (g GarnishmentType) DefaultPriority() int {
	if p, ok := defaultGarnishmentPriority[g]; ok {
		return p
	}
	return defaultGarnishmentPriority[GarnishmentOther]
}

// StatutoryCap - Share of disposable income the law allows for this type.
func (g GarnishmentType) StatutoryCap() decimal.Decimal {
	if c, ok := defaultGarnishmentCap[g]; ok {
		return c
	}
	return defaultGarnishmentCap[GarnishmentOther]
}

// GarnishmentFields - Court order data of a garnishment item.
type GarnishmentFields struct {
	Type                  GarnishmentType
	CourtOrderNumber      string
	IssuingAuthority      string
	CaseReference         string
	PriorityOrder         *int
	MaximumPercentage     *decimal.Decimal
	TotalAmountToGarnish  *decimal.Decimal
	AmountGarnishedToDate decimal.Decimal
}

// Priority - Explicit priority order or the type default.
func (g GarnishmentFields) Priority() int {
	if g.PriorityOrder != nil {
		return *g.PriorityOrder
	}
	return g.Type.DefaultPriority()
}

// CapPercentage - Configured maximum percentage or the statutory default.
func (g GarnishmentFields) CapPercentage() decimal.Decimal {
	if g.MaximumPercentage != nil {
		return *g.MaximumPercentage
	}
	return g.Type.StatutoryCap()
}

// LifetimeRemaining returns the amount left before the lifetime total is met.
// ok is false when there is no lifetime total.
func (g GarnishmentFields) LifetimeRemaining() (remaining decimal.Decimal, ok bool) {
	if g.TotalAmountToGarnish == nil {
		return decimal.Zero, false
	}
	remaining = g.TotalAmountToGarnish.Sub(g.AmountGarnishedToDate)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return remaining, true
}

// IsFullyGarnished reports whether the lifetime total has been met.
func (g GarnishmentFields) IsFullyGarnished() bool {
	remaining, ok := g.LifetimeRemaining()
	return ok && !remaining.IsPositive()
}

// EmployeePayrollItem - Employee specific line. Kind selects the variant and
// Garnishment is set if and only if Kind is ItemKindGarnishment.
type EmployeePayrollItem struct {
	ID          string
	EmployeeID  string
	CompanyID   string
	Name        string
	Kind        ItemKind
	Status      ItemStatus
	IsTaxable   bool
	AmountRule
	Garnishment *GarnishmentFields
	CreatedAt   time.Time
	EffectivePeriod
}

// TransitionTo moves the item to status or returns ErrInvalidStatusTransition.
func (i *EmployeePayrollItem) TransitionTo(status ItemStatus) error {
	if !CanTransition(i.Status, status) {
		return &StatusTransitionError{ItemID: i.ID, From: i.Status, To: status}
	}
	i.Status = status
	return nil
}

// IsGarnishment reports whether the item is a well formed garnishment variant.
func (i EmployeePayrollItem) IsGarnishment() bool {
	return i.Kind == ItemKindGarnishment && i.Garnishment != nil
}

// ========== RESULTS ==========

// LineCategory enum
type LineCategory string

const (
	LineAllowance            LineCategory = "allowance"
	LineDeduction            LineCategory = "deduction"
	LineEmployerContribution LineCategory = "employer_contribution"
	LineStatutory            LineCategory = "statutory"
)

// LineSource enum
type LineSource string

const (
	SourceCompanyTemplate   LineSource = "company_template"
	SourceEmployeeItem      LineSource = "employee_item"
	SourceDeductionTemplate LineSource = "deduction_template"
)

// PayrollLine - One computed allowance, deduction or contribution.
type PayrollLine struct {
	Source         LineSource        `json:"source"`
	SourceID       string            `json:"source_id"`
	Code           string            `json:"code,omitempty"`
	Name           string            `json:"name"`
	Category       LineCategory      `json:"category"`
	Method         CalculationMethod `json:"method,omitempty"`
	EmployeeAmount decimal.Decimal   `json:"employee_amount"`
	EmployerAmount decimal.Decimal   `json:"employer_amount"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	IsTaxable      bool              `json:"is_taxable"`
}

// StatutoryLine - Statutory deduction with its audit trace.
type StatutoryLine struct {
	DeductionTemplateID    string          `json:"deduction_template_id"`
	Code                   string          `json:"code"`
	Name                   string          `json:"name"`
	EmployeeAmount         decimal.Decimal `json:"employee_amount"`
	EmployerAmount         decimal.Decimal `json:"employer_amount"`
	TaxableBenefit         decimal.Decimal `json:"taxable_benefit"`
	CompanyConfigurationID string          `json:"company_configuration_id,omitempty"`
	Trace                  StatutoryTrace  `json:"trace"`
}

// StatutoryTrace - Audit record of how a statutory amount was derived.
type StatutoryTrace struct {
	Method         StatutoryMethod  `json:"method"`
	GrossSalary    decimal.Decimal  `json:"gross_salary"`
	CappedSalary   decimal.Decimal  `json:"capped_salary"`
	EmployeeRate   *decimal.Decimal `json:"employee_rate,omitempty"`
	EmployerRate   *decimal.Decimal `json:"employer_rate,omitempty"`
	Brackets       []BracketTrace   `json:"brackets,omitempty"`
	RebateTotal    decimal.Decimal  `json:"rebate_total"`
	MatchedBracket *int             `json:"matched_bracket,omitempty"`
	RateOverridden bool             `json:"rate_overridden"`
	EmployerCovers bool             `json:"employer_covers"`
}

// BracketTrace - Portion of salary taxed within one bracket.
type BracketTrace struct {
	Min     decimal.Decimal  `json:"min"`
	Max     *decimal.Decimal `json:"max,omitempty"`
	Rate    decimal.Decimal  `json:"rate"`
	Taxable decimal.Decimal  `json:"taxable"`
	Tax     decimal.Decimal  `json:"tax"`
}

// AppliedGarnishment - Garnishment amount taken in one calculation.
type AppliedGarnishment struct {
	ItemID                string          `json:"item_id"`
	Name                  string          `json:"name"`
	Type                  GarnishmentType `json:"type"`
	CourtOrderNumber      string          `json:"court_order_number,omitempty"`
	Priority              int             `json:"priority"`
	PoolBefore            decimal.Decimal `json:"pool_before"`
	RawAmount             decimal.Decimal `json:"raw_amount"`
	CapPercentage         decimal.Decimal `json:"cap_percentage"`
	MaxAllowable          decimal.Decimal `json:"max_allowable"`
	Amount                decimal.Decimal `json:"amount"`
	AmountGarnishedToDate decimal.Decimal `json:"amount_garnished_to_date"`
	Completed             bool            `json:"completed"`
}

// GarnishmentResult - Ordered garnishments drawn from one disposable income.
type GarnishmentResult struct {
	EmployeeID          string               `json:"employee_id"`
	DisposableIncome    decimal.Decimal      `json:"disposable_income"`
	Garnishments        []AppliedGarnishment `json:"garnishments"`
	TotalGarnished      decimal.Decimal      `json:"total_garnished"`
	RemainingDisposable decimal.Decimal      `json:"remaining_disposable"`
	Errors              []CalculationError   `json:"errors,omitempty"`
}

// ErrorKind enum
type ErrorKind string

const (
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindUnsafeExpression ErrorKind = "unsafe_expression"
	ErrorKindArithmetic       ErrorKind = "arithmetic"
	ErrorKindMalformedFormula ErrorKind = "malformed_formula"
	ErrorKindBracketData      ErrorKind = "bracket_data"
)

// CalculationError - Non fatal problem recorded during a calculation.
type CalculationError struct {
	Source   LineSource `json:"source"`
	SourceID string     `json:"source_id"`
	Kind     ErrorKind  `json:"kind"`
	Message  string     `json:"message"`
}

// CalculationResult - Output aggregate for one employee and period.
type CalculationResult struct {
	EmployeeID                 string               `json:"employee_id"`
	CompanyID                  string               `json:"company_id"`
	PeriodStart                time.Time            `json:"period_start"`
	PeriodEnd                  time.Time            `json:"period_end"`
	CalculationDate            time.Time            `json:"calculation_date"`
	BaseSalary                 decimal.Decimal      `json:"base_salary"`
	GrossSalary                decimal.Decimal      `json:"gross_salary"`
	Allowances                 []PayrollLine        `json:"allowances"`
	Deductions                 []PayrollLine        `json:"deductions"`
	EmployerContributions      []PayrollLine        `json:"employer_contributions"`
	Statutory                  []StatutoryLine      `json:"statutory"`
	Garnishments               []AppliedGarnishment `json:"garnishments"`
	TotalAllowances            decimal.Decimal      `json:"total_allowances"`
	TotalDeductions            decimal.Decimal      `json:"total_deductions"`
	TotalStatutoryEmployee     decimal.Decimal      `json:"total_statutory_employee"`
	TotalStatutoryEmployer     decimal.Decimal      `json:"total_statutory_employer"`
	TotalEmployerContributions decimal.Decimal      `json:"total_employer_contributions"`
	TotalGarnished             decimal.Decimal      `json:"total_garnished"`
	DisposableIncome           decimal.Decimal      `json:"disposable_income"`
	NetSalary                  decimal.Decimal      `json:"net_salary"`
	TotalEmployerCost          decimal.Decimal      `json:"total_employer_cost"`
	Errors                     []CalculationError   `json:"errors,omitempty"`
}

// BatchSummary - Totals across the successful employees of a batch.
type BatchSummary struct {
	EmployeeCount              int             `json:"employee_count"`
	SuccessCount               int             `json:"success_count"`
	FailureCount               int             `json:"failure_count"`
	TotalGross                 decimal.Decimal `json:"total_gross"`
	TotalAllowances            decimal.Decimal `json:"total_allowances"`
	TotalDeductions            decimal.Decimal `json:"total_deductions"`
	TotalStatutory             decimal.Decimal `json:"total_statutory"`
	TotalGarnished             decimal.Decimal `json:"total_garnished"`
	TotalNet                   decimal.Decimal `json:"total_net"`
	TotalEmployerContributions decimal.Decimal `json:"total_employer_contributions"`
}

// BatchError - Failure of one employee inside a batch.
type BatchError struct {
	EmployeeID string `json:"employee_id"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

// BatchResult - Outcome of a batch. Results keep input order of the successful employees.
type BatchResult struct {
	RunID   string              `json:"run_id,omitempty"`
	Summary BatchSummary        `json:"summary"`
	Results []CalculationResult `json:"results"`
	Errors  []BatchError        `json:"errors"`
}

// ========== PERSISTENCE ==========

// PayrollStatus enum
type PayrollStatus string

const (
	PayrollStatusDraft PayrollStatus = "draft"
	PayrollStatusPaid  PayrollStatus = "paid"
)

// PayrollRecord - Persisted calculation result.
type PayrollRecord struct {
	ID                         string
	RunID                      *string
	EmployeeID                 string
	CompanyID                  string
	PeriodStart                time.Time
	PeriodEnd                  time.Time
	BaseSalary                 decimal.Decimal
	GrossSalary                decimal.Decimal
	TotalAllowances            decimal.Decimal
	TotalDeductions            decimal.Decimal
	TotalStatutory             decimal.Decimal
	TotalGarnished             decimal.Decimal
	TotalEmployerContributions decimal.Decimal
	DisposableIncome           decimal.Decimal
	NetSalary                  decimal.Decimal
	Detail                     CalculationResult
	Status                     PayrollStatus
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// GarnishmentCounter - Counter state returned by an atomic increment.
type GarnishmentCounter struct {
	ItemID                string
	AmountGarnishedToDate decimal.Decimal
	TotalAmountToGarnish  *decimal.Decimal
	Status                ItemStatus
}

// IsFullyGarnished reports whether the counter has met its lifetime total.
func (c GarnishmentCounter) IsFullyGarnished() bool {
	return GarnishmentFields{
		TotalAmountToGarnish:  c.TotalAmountToGarnish,
		AmountGarnishedToDate: c.AmountGarnishedToDate,
	}.IsFullyGarnished()
}
