package payroll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/google/uuid"
)

type PayrollServiceImpl struct {
	payrollRepo payroll.PayrollRepository
	statutory   payroll.DeductionTemplateSource
	transactor  payroll.Transactor
	engine      *Engine
}

func NewPayrollService(
	payrollRepo payroll.PayrollRepository,
	statutory payroll.DeductionTemplateSource,
	transactor payroll.Transactor,
	engine *Engine,
) payroll.PayrollService {
	return &PayrollServiceImpl{
		payrollRepo: payrollRepo,
		statutory:   statutory,
		transactor:  transactor,
		engine:      engine,
	}
}

// companyData is loaded once per company and shared by its employees.
type companyData struct {
	templates []payroll.CompanyPayrollTemplate
	configs   []payroll.CompanyDeductionConfiguration
	// statutory templates keyed by jurisdiction
	statutory map[string][]payroll.DeductionTemplate
}

func (s *PayrollServiceImpl) loadCompanyData(ctx context.Context, companyID string, date time.Time) (*companyData, error) {
	templates, err := s.payrollRepo.ListCompanyTemplates(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load company templates: %w", err)
	}
	configs, err := s.payrollRepo.ListCompanyDeductionConfigs(ctx, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load company deduction configurations: %w", err)
	}
	return &companyData{
		templates: templates,
		configs:   configs,
		statutory: make(map[string][]payroll.DeductionTemplate),
	}, nil
}

func (s *PayrollServiceImpl) loadInput(ctx context.Context, company *companyData, emp payroll.Employee, date time.Time) (Input, error) {
	items, err := s.payrollRepo.ListEmployeeItems(ctx, emp.CompanyID, emp.ID, date)
	if err != nil {
		return Input{}, fmt.Errorf("failed to load payroll items: %w", err)
	}

	statutory, ok := company.statutory[emp.JurisdictionID]
	if !ok {
		statutory, err = s.statutory.ListDeductionTemplates(ctx, emp.JurisdictionID, date)
		if err != nil {
			return Input{}, fmt.Errorf("failed to load deduction templates for %s: %w", emp.JurisdictionID, err)
		}
		company.statutory[emp.JurisdictionID] = statutory
	}

	return Input{
		Employee:              emp,
		CompanyTemplates:      company.templates,
		Items:                 items,
		DeductionTemplates:    statutory,
		CompanyConfigurations: company.configs,
	}, nil
}

// ========== CALCULATION ==========

func (s *PayrollServiceImpl) CalculateEmployeePayroll(ctx context.Context, req payroll.CalculateEmployeePayrollRequest) (payroll.CalculationResult, error) {
	if err := req.Validate(); err != nil {
		return payroll.CalculationResult{}, err
	}
	periodStart, periodEnd, calcDate := req.Period()
	opts := Options{CalculationDate: calcDate, AllowPartialStatutory: req.AllowPartialStatutory}
	date := opts.date(periodEnd)

	emp, err := s.payrollRepo.GetEmployee(ctx, req.CompanyID, req.EmployeeID)
	if err != nil {
		return payroll.CalculationResult{}, err
	}
	company, err := s.loadCompanyData(ctx, req.CompanyID, date)
	if err != nil {
		return payroll.CalculationResult{}, err
	}
	in, err := s.loadInput(ctx, company, emp, date)
	if err != nil {
		return payroll.CalculationResult{}, err
	}

	// An incomplete statutory run still returns its partial result.
	result, err := s.engine.CalculateEmployee(in, periodStart, periodEnd, opts)
	if err != nil {
		return result, err
	}

	if req.Commit {
		if err := s.commit(ctx, result, nil); err != nil {
			return payroll.CalculationResult{}, err
		}
	}
	return result, nil
}

func (s *PayrollServiceImpl) CalculateBatchPayroll(ctx context.Context, req payroll.CalculateBatchPayrollRequest) (payroll.BatchResult, error) {
	if err := req.Validate(); err != nil {
		return payroll.BatchResult{}, err
	}
	periodStart, periodEnd, calcDate := req.Period()
	opts := Options{CalculationDate: calcDate, AllowPartialStatutory: req.AllowPartialStatutory}
	date := opts.date(periodEnd)

	employees, err := s.payrollRepo.ListActiveEmployees(ctx, req.CompanyID, req.EmployeeIDs)
	if err != nil {
		return payroll.BatchResult{}, err
	}
	company, err := s.loadCompanyData(ctx, req.CompanyID, date)
	if err != nil {
		return payroll.BatchResult{}, err
	}

	order := make(map[string]int, len(employees))
	var failures []payroll.BatchError
	if len(req.EmployeeIDs) > 0 {
		for i, id := range req.EmployeeIDs {
			order[id] = i
		}
		found := make(map[string]bool, len(employees))
		for _, emp := range employees {
			found[emp.ID] = true
		}
		for _, id := range req.EmployeeIDs {
			if !found[id] {
				failures = append(failures, batchError(id, payroll.ErrEmployeeNotFound))
			}
		}
	} else {
		for i, emp := range employees {
			order[emp.ID] = i
		}
	}

	inputs := make([]Input, 0, len(employees))
	for _, emp := range employees {
		in, err := s.loadInput(ctx, company, emp, date)
		if err != nil {
			failures = append(failures, batchError(emp.ID, err))
			continue
		}
		inputs = append(inputs, in)
	}

	calculated := s.engine.CalculateBatch(ctx, inputs, periodStart, periodEnd, opts)
	failures = append(failures, calculated.Errors...)

	runID, err := uuid.NewV7()
	if err != nil {
		return payroll.BatchResult{}, fmt.Errorf("failed to generate run id: %w", err)
	}
	runIDStr := runID.String()

	results := calculated.Results
	if req.Commit {
		committed := make([]payroll.CalculationResult, 0, len(results))
		for _, result := range results {
			if err := s.commit(ctx, result, &runIDStr); err != nil {
				slog.Warn("Failed to commit payroll", "employee_id", result.EmployeeID, "run_id", runIDStr, "error", err)
				failures = append(failures, batchError(result.EmployeeID, err))
				continue
			}
			committed = append(committed, result)
		}
		results = committed
	}

	sort.SliceStable(failures, func(i, j int) bool {
		return order[failures[i].EmployeeID] < order[failures[j].EmployeeID]
	})

	batch := NewBatchResult(results, failures)
	batch.RunID = runIDStr
	slog.Info("Batch payroll finished",
		"company_id", req.CompanyID,
		"run_id", runIDStr,
		"committed", req.Commit,
		"succeeded", batch.Summary.SuccessCount,
		"failed", batch.Summary.FailureCount,
	)
	return batch, nil
}

func (s *PayrollServiceImpl) CalculateGarnishments(ctx context.Context, req payroll.CalculateGarnishmentsRequest) (payroll.GarnishmentResult, error) {
	if err := req.Validate(); err != nil {
		return payroll.GarnishmentResult{}, err
	}
	date := req.ParsedDate()

	emp, err := s.payrollRepo.GetEmployee(ctx, req.CompanyID, req.EmployeeID)
	if err != nil {
		return payroll.GarnishmentResult{}, err
	}
	items, err := s.payrollRepo.ListEmployeeItems(ctx, req.CompanyID, emp.ID, date)
	if err != nil {
		return payroll.GarnishmentResult{}, fmt.Errorf("failed to load payroll items: %w", err)
	}
	return s.engine.CalculateGarnishments(emp, items, req.DisposableIncome, date), nil
}

// ========== COMMIT ==========

// commit persists the result and increments garnishment counters in one
// transaction. A counter that would pass its lifetime total aborts the commit.
// A counter that meets its total moves the item to completed.
func (s *PayrollServiceImpl) commit(ctx context.Context, result payroll.CalculationResult, runID *string) error {
	return s.transactor.WithinTransaction(ctx, func(txCtx context.Context) error {
		for _, g := range result.Garnishments {
			counter, err := s.payrollRepo.IncrementGarnished(txCtx, result.CompanyID, g.ItemID, g.Amount)
			if err != nil {
				return fmt.Errorf("failed to increment garnishment %s: %w", g.ItemID, err)
			}
			if err := s.completeIfFullyGarnished(txCtx, result, counter); err != nil {
				return err
			}
		}

		_, err := s.payrollRepo.CreatePayrollRecord(txCtx, toPayrollRecord(result, runID))
		if err != nil {
			return fmt.Errorf("failed to save payroll record: %w", err)
		}
		return nil
	})
}

func (s *PayrollServiceImpl) completeIfFullyGarnished(ctx context.Context, result payroll.CalculationResult, counter payroll.GarnishmentCounter) error {
	if !counter.IsFullyGarnished() {
		return nil
	}
	item := payroll.EmployeePayrollItem{ID: counter.ItemID, Status: counter.Status}
	from := item.Status
	if err := item.TransitionTo(payroll.ItemStatusCompleted); err != nil {
		return err
	}
	if err := s.payrollRepo.UpdateItemStatus(ctx, result.CompanyID, counter.ItemID, from, item.Status); err != nil {
		return fmt.Errorf("failed to complete garnishment %s: %w", counter.ItemID, err)
	}
	slog.Info("Garnishment completed", "item_id", counter.ItemID, "employee_id", result.EmployeeID, "amount_garnished_to_date", counter.AmountGarnishedToDate)
	return nil
}

func toPayrollRecord(result payroll.CalculationResult, runID *string) payroll.PayrollRecord {
	return payroll.PayrollRecord{
		RunID:                      runID,
		EmployeeID:                 result.EmployeeID,
		CompanyID:                  result.CompanyID,
		PeriodStart:                result.PeriodStart,
		PeriodEnd:                  result.PeriodEnd,
		BaseSalary:                 result.BaseSalary,
		GrossSalary:                result.GrossSalary,
		TotalAllowances:            result.TotalAllowances,
		TotalDeductions:            result.TotalDeductions,
		TotalStatutory:             result.TotalStatutoryEmployee,
		TotalGarnished:             result.TotalGarnished,
		TotalEmployerContributions: result.TotalEmployerContributions,
		DisposableIncome:           result.DisposableIncome,
		NetSalary:                  result.NetSalary,
		Detail:                     result,
		Status:                     payroll.PayrollStatusDraft,
	}
}

func batchError(employeeID string, err error) payroll.BatchError {
	var msg string
	switch {
	case errors.Is(err, payroll.ErrEmployeeNotFound):
		msg = fmt.Sprintf("employee %s: %s", employeeID, err)
	default:
		msg = err.Error()
	}
	return payroll.BatchError{EmployeeID: employeeID, Message: msg, Err: err}
}
