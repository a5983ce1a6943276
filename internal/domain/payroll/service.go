package payroll

import "context"

type PayrollService interface {
	CalculateEmployeePayroll(ctx context.Context, req CalculateEmployeePayrollRequest) (CalculationResult, error)
	CalculateBatchPayroll(ctx context.Context, req CalculateBatchPayrollRequest) (BatchResult, error)
	CalculateGarnishments(ctx context.Context, req CalculateGarnishmentsRequest) (GarnishmentResult, error)
}
