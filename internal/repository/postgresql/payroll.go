package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

type payrollRepository struct {
	db *database.DB
}

func NewPayrollRepository(db *database.DB) payroll.PayrollRepository {
	return &payrollRepository{db: db}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ========== EMPLOYEES ==========

const employeeColumns = `
	id, company_id, base_salary, hire_date, pay_frequency,
	COALESCE(department_id, ''), COALESCE(position_id, ''), COALESCE(employment_type, ''),
	jurisdiction_id
`

func scanEmployee(row rowScanner) (payroll.Employee, error) {
	var e payroll.Employee
	err := row.Scan(
		&e.ID, &e.CompanyID, &e.BaseSalary, &e.HireDate, &e.PayFrequency,
		&e.DepartmentID, &e.PositionID, &e.EmploymentType,
		&e.JurisdictionID,
	)
	return e, err
}

func (r *payrollRepository) GetEmployee(ctx context.Context, companyID, employeeID string) (payroll.Employee, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1 AND company_id = $2`

	e, err := scanEmployee(q.QueryRow(ctx, query, employeeID, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payroll.Employee{}, payroll.ErrEmployeeNotFound
		}
		return payroll.Employee{}, fmt.Errorf("failed to get employee: %w", err)
	}
	return e, nil
}

func (r *payrollRepository) ListActiveEmployees(ctx context.Context, companyID string, employeeIDs []string) ([]payroll.Employee, error) {
	q := GetQuerier(ctx, r.db)

	query := `SELECT ` + employeeColumns + ` FROM employees WHERE company_id = $1 AND is_active = true`
	args := []interface{}{companyID}
	if len(employeeIDs) > 0 {
		query += " AND id::text = ANY($2::text[])"
		args = append(args, employeeIDs)
	}
	query += " ORDER BY id"

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []payroll.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	return employees, nil
}

func (r *payrollRepository) ListCompanyIDs(ctx context.Context) ([]string, error) {
	q := GetQuerier(ctx, r.db)

	rows, err := q.Query(ctx, `SELECT DISTINCT company_id::text FROM employees WHERE is_active = true ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan company id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ========== COMPANY TEMPLATES ==========

func (r *payrollRepository) ListCompanyTemplates(ctx context.Context, companyID string, date time.Time) ([]payroll.CompanyPayrollTemplate, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, company_id, code, name, type, is_active, is_taxable, eligibility,
			   calculation_method, amount, percentage, formula, minimum_amount, maximum_amount,
			   match_logic, match_amount, match_percentage,
			   effective_from, effective_to
		FROM company_payroll_templates
		WHERE company_id = $1
		  AND effective_from <= $2::date
		  AND (effective_to IS NULL OR effective_to >= $2::date)
		ORDER BY type, code
	`

	rows, err := q.Query(ctx, query, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list company payroll templates: %w", err)
	}
	defer rows.Close()

	var templates []payroll.CompanyPayrollTemplate
	for rows.Next() {
		var t payroll.CompanyPayrollTemplate
		var eligibility []byte
		var matchLogic *string
		var matchAmount, matchPercentage *decimal.Decimal
		if err := rows.Scan(
			&t.ID, &t.CompanyID, &t.Code, &t.Name, &t.Type, &t.IsActive, &t.IsTaxable, &eligibility,
			&t.Method, &t.Amount, &t.Percentage, &t.Formula, &t.MinimumAmount, &t.MaximumAmount,
			&matchLogic, &matchAmount, &matchPercentage,
			&t.EffectiveFrom, &t.EffectiveTo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan company payroll template: %w", err)
		}
		if len(eligibility) > 0 {
			if err := json.Unmarshal(eligibility, &t.Eligibility); err != nil {
				return nil, fmt.Errorf("failed to decode eligibility of template %s: %w", t.ID, err)
			}
		}
		if matchLogic != nil {
			t.EmployeeMatch = &payroll.EmployeeMatch{
				Logic:      payroll.MatchLogic(*matchLogic),
				Amount:     matchAmount,
				Percentage: matchPercentage,
			}
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list company payroll templates: %w", err)
	}
	return templates, nil
}

// ========== EMPLOYEE ITEMS ==========

func (r *payrollRepository) ListEmployeeItems(ctx context.Context, companyID, employeeID string, date time.Time) ([]payroll.EmployeePayrollItem, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, employee_id, company_id, name, kind, status, is_taxable,
			   calculation_method, amount, percentage, formula, minimum_amount, maximum_amount,
			   garnishment_type, COALESCE(court_order_number, ''), COALESCE(issuing_authority, ''),
			   COALESCE(case_reference, ''), priority_order, maximum_percentage,
			   total_amount_to_garnish, amount_garnished_to_date,
			   created_at, effective_from, effective_to
		FROM employee_payroll_items
		WHERE company_id = $1 AND employee_id = $2
		  AND effective_from <= $3::date
		  AND (effective_to IS NULL OR effective_to >= $3::date)
		ORDER BY created_at, id
	`

	rows, err := q.Query(ctx, query, companyID, employeeID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list employee payroll items: %w", err)
	}
	defer rows.Close()

	var items []payroll.EmployeePayrollItem
	for rows.Next() {
		var i payroll.EmployeePayrollItem
		var g payroll.GarnishmentFields
		var garnishmentType *string
		if err := rows.Scan(
			&i.ID, &i.EmployeeID, &i.CompanyID, &i.Name, &i.Kind, &i.Status, &i.IsTaxable,
			&i.Method, &i.Amount, &i.Percentage, &i.Formula, &i.MinimumAmount, &i.MaximumAmount,
			&garnishmentType, &g.CourtOrderNumber, &g.IssuingAuthority,
			&g.CaseReference, &g.PriorityOrder, &g.MaximumPercentage,
			&g.TotalAmountToGarnish, &g.AmountGarnishedToDate,
			&i.CreatedAt, &i.EffectiveFrom, &i.EffectiveTo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan employee payroll item: %w", err)
		}
		if garnishmentType != nil {
			g.Type = payroll.GarnishmentType(*garnishmentType)
			i.Garnishment = &g
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list employee payroll items: %w", err)
	}
	return items, nil
}

// IncrementGarnished adds amount to the counter of an active garnishment in a
// single guarded UPDATE so concurrent commits can never push it past the
// lifetime total. Status changes go through UpdateItemStatus.
func (r *payrollRepository) IncrementGarnished(ctx context.Context, companyID, itemID string, amount decimal.Decimal) (payroll.GarnishmentCounter, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE employee_payroll_items
		SET amount_garnished_to_date = amount_garnished_to_date + $3::numeric,
			updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND kind = 'garnishment' AND status = 'active'
		  AND (total_amount_to_garnish IS NULL OR amount_garnished_to_date + $3::numeric <= total_amount_to_garnish)
		RETURNING id, amount_garnished_to_date, total_amount_to_garnish, status
	`

	var c payroll.GarnishmentCounter
	err := q.QueryRow(ctx, query, itemID, companyID, amount).Scan(&c.ItemID, &c.AmountGarnishedToDate, &c.TotalAmountToGarnish, &c.Status)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return payroll.GarnishmentCounter{}, fmt.Errorf("failed to increment garnished amount: %w", err)
	}

	var status payroll.ItemStatus
	err = q.QueryRow(ctx,
		`SELECT status FROM employee_payroll_items WHERE id = $1 AND company_id = $2 AND kind = 'garnishment'`,
		itemID, companyID,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return payroll.GarnishmentCounter{}, payroll.ErrGarnishmentNotFound
	}
	if err != nil {
		return payroll.GarnishmentCounter{}, fmt.Errorf("failed to check garnishment: %w", err)
	}
	if status != payroll.ItemStatusActive {
		return payroll.GarnishmentCounter{}, fmt.Errorf("garnishment %s is %s: %w", itemID, status, payroll.ErrGarnishmentNotActive)
	}
	return payroll.GarnishmentCounter{}, payroll.ErrLifetimeTotalExceeded
}

// UpdateItemStatus is a compare-and-set on the item status.
func (r *payrollRepository) UpdateItemStatus(ctx context.Context, companyID, itemID string, from, to payroll.ItemStatus) error {
	q := GetQuerier(ctx, r.db)

	query := `
		UPDATE employee_payroll_items
		SET status = $4, updated_at = NOW()
		WHERE id = $1 AND company_id = $2 AND status = $3
	`
	tag, err := q.Exec(ctx, query, itemID, companyID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update payroll item status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &payroll.StatusTransitionError{ItemID: itemID, From: from, To: to}
	}
	return nil
}

// ========== STATUTORY ==========

func (r *payrollRepository) ListCompanyDeductionConfigs(ctx context.Context, companyID string, date time.Time) ([]payroll.CompanyDeductionConfiguration, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, company_id, deduction_template_id,
			   employee_rate_override, employer_rate_override, min_salary_override, max_salary_override,
			   employer_covers_employee_portion, taxable_if_employer_paid, is_active,
			   effective_from, effective_to
		FROM company_deduction_configurations
		WHERE company_id = $1
		  AND effective_from <= $2::date
		  AND (effective_to IS NULL OR effective_to >= $2::date)
		ORDER BY effective_from DESC, id
	`

	rows, err := q.Query(ctx, query, companyID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list company deduction configurations: %w", err)
	}
	defer rows.Close()

	var configs []payroll.CompanyDeductionConfiguration
	for rows.Next() {
		var c payroll.CompanyDeductionConfiguration
		if err := rows.Scan(
			&c.ID, &c.CompanyID, &c.DeductionTemplateID,
			&c.EmployeeRateOverride, &c.EmployerRateOverride, &c.MinSalaryOverride, &c.MaxSalaryOverride,
			&c.EmployerCoversEmployeePortion, &c.TaxableIfEmployerPaid, &c.IsActive,
			&c.EffectiveFrom, &c.EffectiveTo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan company deduction configuration: %w", err)
		}
		configs = append(configs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list company deduction configurations: %w", err)
	}
	return configs, nil
}

type deductionTemplateRepository struct {
	db *database.DB
}

// NewDeductionTemplateRepository serves statutory templates from the deduction_templates table.
func NewDeductionTemplateRepository(db *database.DB) payroll.DeductionTemplateSource {
	return &deductionTemplateRepository{db: db}
}

func (r *deductionTemplateRepository) ListDeductionTemplates(ctx context.Context, jurisdictionID string, date time.Time) ([]payroll.DeductionTemplate, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, jurisdiction_id, code, name, method, rules,
			   min_salary, max_salary, employee_rate, employer_rate,
			   is_mandatory, is_employer_payable, effective_from, effective_to
		FROM deduction_templates
		WHERE jurisdiction_id = $1
		  AND effective_from <= $2::date
		  AND (effective_to IS NULL OR effective_to >= $2::date)
		ORDER BY code, id
	`

	rows, err := q.Query(ctx, query, jurisdictionID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list deduction templates: %w", err)
	}
	defer rows.Close()

	var templates []payroll.DeductionTemplate
	for rows.Next() {
		var t payroll.DeductionTemplate
		var rules []byte
		if err := rows.Scan(
			&t.ID, &t.JurisdictionID, &t.Code, &t.Name, &t.Method, &rules,
			&t.MinSalary, &t.MaxSalary, &t.EmployeeRate, &t.EmployerRate,
			&t.IsMandatory, &t.IsEmployerPayable, &t.EffectiveFrom, &t.EffectiveTo,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deduction template: %w", err)
		}
		t.Rules = json.RawMessage(rules)
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list deduction templates: %w", err)
	}
	return templates, nil
}

// ========== PAYROLL RECORDS ==========

func (r *payrollRepository) CreatePayrollRecord(ctx context.Context, record payroll.PayrollRecord) (payroll.PayrollRecord, error) {
	q := GetQuerier(ctx, r.db)

	detailJSON, err := json.Marshal(record.Detail)
	if err != nil {
		return payroll.PayrollRecord{}, fmt.Errorf("failed to encode payroll detail: %w", err)
	}

	query := `
		INSERT INTO payroll_records (
			run_id, employee_id, company_id, period_start, period_end, base_salary,
			gross_salary, total_allowances, total_deductions, total_statutory,
			total_garnished, total_employer_contributions, disposable_income, net_salary,
			detail, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id, created_at, updated_at
	`

	rec := record
	err = q.QueryRow(ctx, query,
		record.RunID, record.EmployeeID, record.CompanyID, record.PeriodStart, record.PeriodEnd, record.BaseSalary,
		record.GrossSalary, record.TotalAllowances, record.TotalDeductions, record.TotalStatutory,
		record.TotalGarnished, record.TotalEmployerContributions, record.DisposableIncome, record.NetSalary,
		detailJSON, record.Status,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uk_payroll_record_employee_period" {
			return payroll.PayrollRecord{}, payroll.ErrPayrollRecordExists
		}
		return payroll.PayrollRecord{}, fmt.Errorf("failed to create payroll record: %w", err)
	}

	return rec, nil
}
