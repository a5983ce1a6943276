package payroll

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 4

// Options tune a single calculation.
type Options struct {
	// CalculationDate selects effective records. Defaults to the period end.
	CalculationDate       *time.Time
	AllowPartialStatutory bool
}

func (o Options) date(periodEnd time.Time) time.Time {
	if o.CalculationDate != nil {
		return *o.CalculationDate
	}
	return periodEnd
}

// Input is everything one employee's calculation reads. The caller loads it;
// the engine performs no I/O.
type Input struct {
	Employee              payroll.Employee
	CompanyTemplates      []payroll.CompanyPayrollTemplate
	Items                 []payroll.EmployeePayrollItem
	DeductionTemplates    []payroll.DeductionTemplate
	CompanyConfigurations []payroll.CompanyDeductionConfiguration
}

// Engine combines the calculators into a payroll result. It holds no
// per-calculation state and is safe for concurrent use.
type Engine struct {
	logger      *slog.Logger
	concurrency int
}

func NewEngine(logger *slog.Logger, concurrency int) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	return &Engine{logger: logger, concurrency: concurrency}
}

// CalculateEmployee computes gross to net for one employee. Line level
// failures are recorded in result.Errors. If a mandatory statutory template
// fails and partial statutory results are not allowed, the result is
// returned together with an error wrapping ErrIncompleteStatutory.
func (e *Engine) CalculateEmployee(in Input, periodStart, periodEnd time.Time, opts Options) (payroll.CalculationResult, error) {
	emp := in.Employee
	if periodEnd.Before(periodStart) {
		return payroll.CalculationResult{}, fmt.Errorf("employee %s: %w", emp.ID, payroll.ErrInvalidPeriod)
	}
	if emp.BaseSalary.IsNegative() {
		return payroll.CalculationResult{}, fmt.Errorf("employee %s: %w", emp.ID, &payroll.ValidationError{Field: "base_salary", Message: "must be non-negative"})
	}

	date := opts.date(periodEnd)
	gross := ProRate(emp.BaseSalary, periodStart, periodEnd)
	basis := SalaryBasis{
		BasicSalary:    emp.BaseSalary,
		GrossSalary:    gross,
		YearsOfService: emp.YearsOfService(date),
	}

	result := payroll.CalculationResult{
		EmployeeID:            emp.ID,
		CompanyID:             emp.CompanyID,
		PeriodStart:           periodStart,
		PeriodEnd:             periodEnd,
		CalculationDate:       date,
		BaseSalary:            emp.BaseSalary,
		GrossSalary:           gross,
		Allowances:            []payroll.PayrollLine{},
		Deductions:            []payroll.PayrollLine{},
		EmployerContributions: []payroll.PayrollLine{},
		Statutory:             []payroll.StatutoryLine{},
		Garnishments:          []payroll.AppliedGarnishment{},
	}

	e.applyCompanyTemplates(&result, in, basis, date)
	e.applyEmployeeItems(&result, in, basis, date)
	incomplete := e.applyStatutory(&result, in, gross, date)
	e.sumTotals(&result)

	garnishments := CalculateGarnishments(emp.ID, in.Items, result.DisposableIncome, date, basis)
	for _, ce := range garnishments.Errors {
		e.recordError(&result, ce)
	}
	result.Garnishments = garnishments.Garnishments
	result.TotalGarnished = garnishments.TotalGarnished

	result.NetSalary = result.GrossSalary.
		Add(result.TotalAllowances).
		Sub(result.TotalDeductions).
		Sub(result.TotalStatutoryEmployee).
		Sub(result.TotalGarnished)
	result.TotalEmployerCost = result.GrossSalary.
		Add(result.TotalAllowances).
		Add(result.TotalEmployerContributions).
		Add(result.TotalStatutoryEmployer)

	if len(incomplete) > 0 && !opts.AllowPartialStatutory {
		return result, fmt.Errorf("employee %s: templates %v: %w", emp.ID, incomplete, payroll.ErrIncompleteStatutory)
	}
	return result, nil
}

func (e *Engine) applyCompanyTemplates(result *payroll.CalculationResult, in Input, basis SalaryBasis, date time.Time) {
	for _, tpl := range in.CompanyTemplates {
		if !tpl.IsEffective(date) || !tpl.IsApplicable(in.Employee) {
			continue
		}
		amounts, err := CalculateTemplate(tpl, in.Employee, basis)
		if err != nil {
			e.recordError(result, calculationError(payroll.SourceCompanyTemplate, tpl.ID, err))
			continue
		}
		line := payroll.PayrollLine{
			Source:         payroll.SourceCompanyTemplate,
			SourceID:       tpl.ID,
			Code:           tpl.Code,
			Name:           tpl.Name,
			Method:         tpl.Method,
			EmployeeAmount: amounts.EmployeeAmount,
			EmployerAmount: amounts.EmployerAmount,
			TotalAmount:    amounts.TotalAmount,
			IsTaxable:      tpl.IsTaxable,
		}
		switch tpl.Type {
		case payroll.TemplateTypeAllowance:
			line.Category = payroll.LineAllowance
			result.Allowances = append(result.Allowances, line)
		case payroll.TemplateTypeDeduction:
			line.Category = payroll.LineDeduction
			result.Deductions = append(result.Deductions, line)
		case payroll.TemplateTypeEmployerContribution:
			line.Category = payroll.LineEmployerContribution
			result.EmployerContributions = append(result.EmployerContributions, line)
		default:
			e.recordError(result, calculationError(payroll.SourceCompanyTemplate, tpl.ID,
				&payroll.ValidationError{Field: "type", Message: fmt.Sprintf("unsupported template type %q", tpl.Type)}))
		}
	}
}

func (e *Engine) applyEmployeeItems(result *payroll.CalculationResult, in Input, basis SalaryBasis, date time.Time) {
	for _, item := range in.Items {
		if item.Kind == payroll.ItemKindGarnishment {
			continue
		}
		if item.Status != payroll.ItemStatusActive || !item.IsEffective(date) {
			continue
		}
		amount, err := CalculateItem(item, basis)
		if err != nil {
			e.recordError(result, calculationError(payroll.SourceEmployeeItem, item.ID, err))
			continue
		}
		line := payroll.PayrollLine{
			Source:         payroll.SourceEmployeeItem,
			SourceID:       item.ID,
			Name:           item.Name,
			Method:         item.Method,
			EmployeeAmount: amount,
			EmployerAmount: decimal.Zero,
			TotalAmount:    amount,
			IsTaxable:      item.IsTaxable,
		}
		switch item.Kind {
		case payroll.ItemKindAllowance, payroll.ItemKindBenefit:
			line.Category = payroll.LineAllowance
			result.Allowances = append(result.Allowances, line)
		case payroll.ItemKindDeduction:
			line.Category = payroll.LineDeduction
			result.Deductions = append(result.Deductions, line)
		case payroll.ItemKindStatutory:
			line.Category = payroll.LineStatutory
			result.Deductions = append(result.Deductions, line)
		default:
			e.recordError(result, calculationError(payroll.SourceEmployeeItem, item.ID,
				&payroll.ValidationError{Field: "kind", Message: fmt.Sprintf("unsupported item kind %q", item.Kind)}))
		}
	}
}

// applyStatutory runs every statutory template of the employee's
// jurisdiction. Mandatory templates always apply, optional ones only with an
// active company configuration. It returns the ids of failed mandatory templates.
func (e *Engine) applyStatutory(result *payroll.CalculationResult, in Input, gross decimal.Decimal, date time.Time) []string {
	var incomplete []string
	for _, tpl := range in.DeductionTemplates {
		if tpl.JurisdictionID != in.Employee.JurisdictionID || !tpl.IsEffective(date) {
			continue
		}
		cfg := findCompanyConfig(in.CompanyConfigurations, tpl.ID, date)
		if !tpl.IsMandatory && cfg == nil {
			continue
		}

		effective := tpl
		if cfg != nil {
			effective = cfg.WithSalaryCaps(tpl)
		}
		calc, err := CalculateStatutory(effective, gross)
		if err != nil {
			e.recordError(result, calculationError(payroll.SourceDeductionTemplate, tpl.ID, err))
			if tpl.IsMandatory {
				incomplete = append(incomplete, tpl.ID)
			}
			continue
		}
		calc = ApplyCompanyConfig(cfg, calc)

		line := payroll.StatutoryLine{
			DeductionTemplateID: tpl.ID,
			Code:                tpl.Code,
			Name:                tpl.Name,
			EmployeeAmount:      calc.EmployeeAmount,
			EmployerAmount:      calc.EmployerAmount,
			TaxableBenefit:      calc.TaxableBenefit,
			Trace:               calc.Trace,
		}
		if cfg != nil {
			line.CompanyConfigurationID = cfg.ID
		}
		result.Statutory = append(result.Statutory, line)
	}
	return incomplete
}

// sumTotals fills every total that garnishments depend on. Employee match
// amounts of employer contributions count as voluntary deductions and
// statutory kind items count as statutory.
func (e *Engine) sumTotals(result *payroll.CalculationResult) {
	result.TotalAllowances = decimal.Zero
	result.TotalDeductions = decimal.Zero
	result.TotalStatutoryEmployee = decimal.Zero
	result.TotalStatutoryEmployer = decimal.Zero
	result.TotalEmployerContributions = decimal.Zero

	for _, l := range result.Allowances {
		result.TotalAllowances = result.TotalAllowances.Add(l.EmployeeAmount)
	}
	for _, l := range result.Deductions {
		if l.Category == payroll.LineStatutory {
			result.TotalStatutoryEmployee = result.TotalStatutoryEmployee.Add(l.EmployeeAmount)
			continue
		}
		result.TotalDeductions = result.TotalDeductions.Add(l.EmployeeAmount)
	}
	for _, l := range result.EmployerContributions {
		result.TotalEmployerContributions = result.TotalEmployerContributions.Add(l.EmployerAmount)
		result.TotalDeductions = result.TotalDeductions.Add(l.EmployeeAmount)
	}
	for _, l := range result.Statutory {
		result.TotalStatutoryEmployee = result.TotalStatutoryEmployee.Add(l.EmployeeAmount)
		result.TotalStatutoryEmployer = result.TotalStatutoryEmployer.Add(l.EmployerAmount)
	}

	result.DisposableIncome = result.GrossSalary.
		Add(result.TotalAllowances).
		Sub(result.TotalStatutoryEmployee).
		Sub(result.TotalDeductions)
}

func (e *Engine) recordError(result *payroll.CalculationResult, ce payroll.CalculationError) {
	result.Errors = append(result.Errors, ce)
	e.logger.Warn("Payroll line calculation failed",
		"employee_id", result.EmployeeID,
		"source", ce.Source,
		"source_id", ce.SourceID,
		"kind", ce.Kind,
		"error", ce.Message,
	)
}

// CalculateGarnishments previews garnishments for one employee's items.
func (e *Engine) CalculateGarnishments(emp payroll.Employee, items []payroll.EmployeePayrollItem, disposable decimal.Decimal, date time.Time) payroll.GarnishmentResult {
	basis := SalaryBasis{
		BasicSalary:    emp.BaseSalary,
		GrossSalary:    emp.BaseSalary,
		YearsOfService: emp.YearsOfService(date),
	}
	result := CalculateGarnishments(emp.ID, items, disposable, date, basis)
	for _, ce := range result.Errors {
		e.logger.Warn("Garnishment calculation failed",
			"employee_id", emp.ID,
			"source_id", ce.SourceID,
			"kind", ce.Kind,
			"error", ce.Message,
		)
	}
	return result
}

// ========== BATCH ==========

type batchOutcome struct {
	result     payroll.CalculationResult
	err        error
	dispatched bool
}

// CalculateBatch runs CalculateEmployee for every input on a bounded worker
// pool. A failing or panicking employee becomes an entry in Errors and never
// affects the others. When ctx is cancelled no new employees are dispatched;
// in-flight ones finish. Results and Errors keep input order.
func (e *Engine) CalculateBatch(ctx context.Context, inputs []Input, periodStart, periodEnd time.Time, opts Options) payroll.BatchResult {
	outcomes := make([]batchOutcome, len(inputs))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range inputs {
		i := i
		if ctx.Err() != nil {
			break
		}
		outcomes[i].dispatched = true
		g.Go(func() error {
			outcomes[i].result, outcomes[i].err = e.calculateRecovered(inputs[i], periodStart, periodEnd, opts)
			return nil
		})
	}
	_ = g.Wait()

	var results []payroll.CalculationResult
	var failures []payroll.BatchError
	for i, o := range outcomes {
		employeeID := inputs[i].Employee.ID
		err := o.err
		if !o.dispatched {
			err = fmt.Errorf("employee %s not calculated: %w", employeeID, context.Cause(ctx))
		}
		if err != nil {
			e.logger.Warn("Batch payroll employee failed", "employee_id", employeeID, "error", err)
			failures = append(failures, payroll.BatchError{EmployeeID: employeeID, Message: err.Error(), Err: err})
			continue
		}
		results = append(results, o.result)
	}

	batch := NewBatchResult(results, failures)
	e.logger.Info("Batch payroll calculated",
		"employees", batch.Summary.EmployeeCount,
		"succeeded", batch.Summary.SuccessCount,
		"failed", batch.Summary.FailureCount,
	)
	return batch
}

func (e *Engine) calculateRecovered(in Input, periodStart, periodEnd time.Time, opts Options) (result payroll.CalculationResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = payroll.CalculationResult{}
			err = fmt.Errorf("employee %s: %w", in.Employee.ID, &PanicError{Value: p})
		}
	}()
	return e.CalculateEmployee(in, periodStart, periodEnd, opts)
}

// PanicError carries a recovered panic value from a batch worker.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("calculation panicked: %v", p.Value)
}

// NewBatchResult builds the summary from successful results and failures.
func NewBatchResult(results []payroll.CalculationResult, failures []payroll.BatchError) payroll.BatchResult {
	if results == nil {
		results = []payroll.CalculationResult{}
	}
	if failures == nil {
		failures = []payroll.BatchError{}
	}
	summary := payroll.BatchSummary{
		EmployeeCount:              len(results) + len(failures),
		SuccessCount:               len(results),
		FailureCount:               len(failures),
		TotalGross:                 decimal.Zero,
		TotalAllowances:            decimal.Zero,
		TotalDeductions:            decimal.Zero,
		TotalStatutory:             decimal.Zero,
		TotalGarnished:             decimal.Zero,
		TotalNet:                   decimal.Zero,
		TotalEmployerContributions: decimal.Zero,
	}
	for _, r := range results {
		summary.TotalGross = summary.TotalGross.Add(r.GrossSalary)
		summary.TotalAllowances = summary.TotalAllowances.Add(r.TotalAllowances)
		summary.TotalDeductions = summary.TotalDeductions.Add(r.TotalDeductions)
		summary.TotalStatutory = summary.TotalStatutory.Add(r.TotalStatutoryEmployee)
		summary.TotalGarnished = summary.TotalGarnished.Add(r.TotalGarnished)
		summary.TotalNet = summary.TotalNet.Add(r.NetSalary)
		summary.TotalEmployerContributions = summary.TotalEmployerContributions.Add(r.TotalEmployerContributions)
	}
	return payroll.BatchResult{Summary: summary, Results: results, Errors: failures}
}
