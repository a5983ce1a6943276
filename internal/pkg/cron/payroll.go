package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
)

// CompanyLister supplies the companies to run when none are configured.
type CompanyLister interface {
	ListCompanyIDs(ctx context.Context) ([]string, error)
}

// PayrollJobs commits the month's payroll on its last day.
type PayrollJobs struct {
	payrollService payroll.PayrollService
	companies      CompanyLister
	companyIDs     []string
	now            func() time.Time
}

func NewPayrollJobs(payrollService payroll.PayrollService, companies CompanyLister, companyIDs []string) *PayrollJobs {
	return &PayrollJobs{
		payrollService: payrollService,
		companies:      companies,
		companyIDs:     companyIDs,
		now:            time.Now,
	}
}

func (j *PayrollJobs) RegisterJobs(scheduler *Scheduler, interval time.Duration) {
	scheduler.AddJob("commit_monthly_payroll", interval, j.CommitMonthlyPayroll)
}

// CommitMonthlyPayroll runs a committing batch per company for the current
// calendar month. It does nothing before the month's last day. Employees that
// were already committed are counted and skipped.
func (j *PayrollJobs) CommitMonthlyPayroll(ctx context.Context) error {
	today := j.now().UTC()
	periodStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, -1)
	if today.Day() != periodEnd.Day() {
		return nil
	}

	companyIDs := j.companyIDs
	if len(companyIDs) == 0 {
		var err error
		companyIDs, err = j.companies.ListCompanyIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list companies: %w", err)
		}
	}

	slog.Info("Cron: Starting monthly payroll", "period_start", periodStart.Format(time.DateOnly), "companies", len(companyIDs))

	var errs []error
	for _, companyID := range companyIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := j.payrollService.CalculateBatchPayroll(ctx, payroll.CalculateBatchPayrollRequest{
			CompanyID:   companyID,
			PeriodStart: periodStart.Format(time.DateOnly),
			PeriodEnd:   periodEnd.Format(time.DateOnly),
			Commit:      true,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("company %s: %w", companyID, err))
			continue
		}

		alreadyCommitted := 0
		for _, failure := range result.Errors {
			if errors.Is(failure.Err, payroll.ErrPayrollRecordExists) {
				alreadyCommitted++
				continue
			}
			slog.Warn("Cron: Employee payroll failed", "company_id", companyID, "employee_id", failure.EmployeeID, "error", failure.Message)
		}
		slog.Info("Cron: Company payroll committed",
			"company_id", companyID,
			"run_id", result.RunID,
			"committed", result.Summary.SuccessCount,
			"already_committed", alreadyCommitted,
			"failed", result.Summary.FailureCount-alreadyCommitted,
		)
	}
	return errors.Join(errs...)
}
