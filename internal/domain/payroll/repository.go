package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PayrollRepository defines data access methods for payroll calculation.
// All methods include companyID parameter to prevent cross-company data access.
type PayrollRepository interface {
	// Employees
	GetEmployee(ctx context.Context, companyID, employeeID string) (Employee, error)
	ListActiveEmployees(ctx context.Context, companyID string, employeeIDs []string) ([]Employee, error)
	ListCompanyIDs(ctx context.Context) ([]string, error)

	// Templates and items effective on date
	ListCompanyTemplates(ctx context.Context, companyID string, date time.Time) ([]CompanyPayrollTemplate, error)
	ListEmployeeItems(ctx context.Context, companyID, employeeID string, date time.Time) ([]EmployeePayrollItem, error)
	ListCompanyDeductionConfigs(ctx context.Context, companyID string, date time.Time) ([]CompanyDeductionConfiguration, error)

	// Garnishment counters. The increment is atomic and never exceeds the lifetime total.
	IncrementGarnished(ctx context.Context, companyID, itemID string, amount decimal.Decimal) (GarnishmentCounter, error)
	// UpdateItemStatus moves an item from one status to another. It fails with
	// ErrInvalidStatusTransition when the stored status is no longer from.
	UpdateItemStatus(ctx context.Context, companyID, itemID string, from, to ItemStatus) error

	// Payroll Records
	CreatePayrollRecord(ctx context.Context, record PayrollRecord) (PayrollRecord, error)
}

// DeductionTemplateSource supplies statutory templates for a jurisdiction.
// Implemented by the database repository and the YAML rule file loader.
type DeductionTemplateSource interface {
	ListDeductionTemplates(ctx context.Context, jurisdictionID string, date time.Time) ([]DeductionTemplate, error)
}

// Transactor runs fn inside one database transaction carried by the context.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
