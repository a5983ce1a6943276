package postgresql_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/repository/postgresql"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	companyID   = "019a0000-0000-7000-8000-000000000001"
	employeeID  = "019a0000-0000-7000-8000-000000000010"
	garnishID   = "019a0000-0000-7000-8000-000000000100"
	allowanceID = "019a0000-0000-7000-8000-000000000101"
)

func seed(t *testing.T, setup *TestDatabaseSetup) {
	t.Helper()
	ctx := context.Background()
	statements := []string{
		`INSERT INTO employees (id, company_id, base_salary, hire_date, department_id, employment_type, jurisdiction_id)
		 VALUES ('` + employeeID + `', '` + companyID + `', 10000, '2020-01-15', 'eng', 'permanent', 'ZA')`,
		`INSERT INTO deduction_templates (id, jurisdiction_id, code, name, method, rules, employee_rate, employer_rate, is_mandatory, effective_from)
		 VALUES ('za-uif', 'ZA', 'UIF', 'Unemployment insurance', 'percentage', '{}', 0.01, 0.01, true, '2021-01-01'),
		        ('za-paye-old', 'ZA', 'PAYE', 'Income tax', 'progressive_bracket',
		         '{"brackets":[{"min":"0","max":null,"rate":"0.15"}]}', 0, 0, true, '2020-01-01')`,
		`UPDATE deduction_templates SET effective_to = '2024-12-31' WHERE id = 'za-paye-old'`,
		`INSERT INTO company_deduction_configurations (company_id, deduction_template_id, employee_rate_override, effective_from)
		 VALUES ('` + companyID + `', 'za-uif', 0.02, '2024-01-01')`,
		`INSERT INTO company_payroll_templates (company_id, code, name, type, eligibility, calculation_method, amount, match_logic, effective_from)
		 VALUES ('` + companyID + `', 'HOUSING', 'Housing', 'allowance', '{"departments":["eng"]}', 'fixed_amount', 1500, NULL, '2024-01-01'),
		        ('` + companyID + `', 'PENSION', 'Pension', 'employer_contribution', '{}', 'percentage_of_basic', NULL, 'equal', '2024-01-01')`,
		`UPDATE company_payroll_templates SET percentage = 0.05 WHERE code = 'PENSION'`,
		`INSERT INTO employee_payroll_items (id, employee_id, company_id, name, kind, status, calculation_method, amount,
		                                     garnishment_type, court_order_number, total_amount_to_garnish, amount_garnished_to_date, effective_from)
		 VALUES ('` + garnishID + `', '` + employeeID + `', '` + companyID + `', 'Maintenance order', 'garnishment', 'active', 'fixed_amount', 400,
		         'child_support', 'CO-1', 1000, 500, '2024-01-01')`,
		`INSERT INTO employee_payroll_items (id, employee_id, company_id, name, kind, status, calculation_method, amount, effective_from)
		 VALUES ('` + allowanceID + `', '` + employeeID + `', '` + companyID + `', 'Phone', 'allowance', 'active', 'fixed_amount', 200, '2024-01-01')`,
	}
	for _, stmt := range statements {
		_, err := setup.DB.Exec(ctx, stmt)
		require.NoError(t, err, stmt)
	}
}

func TestPayrollRepository_Reads(t *testing.T) {
	setup := NewTestDatabase(t)
	seed(t, setup)

	repo := postgresql.NewPayrollRepository(setup.DB)
	ctx := context.Background()
	date := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	t.Run("employee", func(t *testing.T) {
		emp, err := repo.GetEmployee(ctx, companyID, employeeID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(10000).Equal(emp.BaseSalary))
		assert.Equal(t, "ZA", emp.JurisdictionID)
		assert.Equal(t, "eng", emp.DepartmentID)
		assert.Equal(t, "", emp.PositionID)

		_, err = repo.GetEmployee(ctx, "019a0000-0000-7000-8000-0000000000ff", employeeID)
		assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)
	})

	t.Run("active employees", func(t *testing.T) {
		all, err := repo.ListActiveEmployees(ctx, companyID, nil)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		none, err := repo.ListActiveEmployees(ctx, companyID, []string{"019a0000-0000-7000-8000-0000000000ff"})
		require.NoError(t, err)
		assert.Empty(t, none)

		ids, err := repo.ListCompanyIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{companyID}, ids)
	})

	t.Run("templates", func(t *testing.T) {
		templates, err := repo.ListCompanyTemplates(ctx, companyID, date)
		require.NoError(t, err)
		require.Len(t, templates, 2)
		assert.Equal(t, "HOUSING", templates[0].Code)
		assert.Equal(t, []string{"eng"}, templates[0].Eligibility.Departments)
		assert.Nil(t, templates[0].EmployeeMatch)
		require.NotNil(t, templates[1].EmployeeMatch)
		assert.Equal(t, payroll.MatchLogicEqual, templates[1].EmployeeMatch.Logic)
	})

	t.Run("items", func(t *testing.T) {
		items, err := repo.ListEmployeeItems(ctx, companyID, employeeID, date)
		require.NoError(t, err)
		require.Len(t, items, 2)
		var garnishment *payroll.EmployeePayrollItem
		for i := range items {
			if items[i].IsGarnishment() {
				garnishment = &items[i]
			}
		}
		require.NotNil(t, garnishment)
		assert.Equal(t, payroll.GarnishmentChildSupport, garnishment.Garnishment.Type)
		assert.True(t, decimal.NewFromInt(500).Equal(garnishment.Garnishment.AmountGarnishedToDate))
	})

	t.Run("statutory", func(t *testing.T) {
		source := postgresql.NewDeductionTemplateRepository(setup.DB)
		templates, err := source.ListDeductionTemplates(ctx, "ZA", time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, templates, 1)
		assert.Equal(t, "za-uif", templates[0].ID)

		older, err := source.ListDeductionTemplates(ctx, "ZA", time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Len(t, older, 2)
		var rules payroll.StatutoryRules
		require.NoError(t, json.Unmarshal(older[0].Rules, &rules))
		assert.Len(t, rules.Brackets, 1)

		configs, err := repo.ListCompanyDeductionConfigs(ctx, companyID, date)
		require.NoError(t, err)
		require.Len(t, configs, 1)
		require.NotNil(t, configs[0].EmployeeRateOverride)
		assert.Equal(t, "0.02", configs[0].EmployeeRateOverride.String())
	})
}

func TestPayrollRepository_IncrementGarnished(t *testing.T) {
	setup := NewTestDatabase(t)
	seed(t, setup)

	repo := postgresql.NewPayrollRepository(setup.DB)
	ctx := context.Background()

	counter, err := repo.IncrementGarnished(ctx, companyID, garnishID, decimal.NewFromInt(300))
	require.NoError(t, err)
	assert.Equal(t, "800", counter.AmountGarnishedToDate.String())
	assert.Equal(t, payroll.ItemStatusActive, counter.Status)

	_, err = repo.IncrementGarnished(ctx, companyID, garnishID, decimal.NewFromInt(300))
	assert.ErrorIs(t, err, payroll.ErrLifetimeTotalExceeded)

	counter, err = repo.IncrementGarnished(ctx, companyID, garnishID, decimal.NewFromInt(200))
	require.NoError(t, err)
	assert.Equal(t, "1000", counter.AmountGarnishedToDate.String())
	assert.Equal(t, payroll.ItemStatusActive, counter.Status)
	require.NotNil(t, counter.TotalAmountToGarnish)
	assert.True(t, counter.IsFullyGarnished())

	_, err = repo.IncrementGarnished(ctx, companyID, allowanceID, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, payroll.ErrGarnishmentNotFound)
}

func TestPayrollRepository_UpdateItemStatus(t *testing.T) {
	setup := NewTestDatabase(t)
	seed(t, setup)

	repo := postgresql.NewPayrollRepository(setup.DB)
	ctx := context.Background()

	require.NoError(t, repo.UpdateItemStatus(ctx, companyID, garnishID, payroll.ItemStatusActive, payroll.ItemStatusSuspended))

	err := repo.UpdateItemStatus(ctx, companyID, garnishID, payroll.ItemStatusActive, payroll.ItemStatusCompleted)
	assert.ErrorIs(t, err, payroll.ErrInvalidStatusTransition)

	_, err = repo.IncrementGarnished(ctx, companyID, garnishID, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, payroll.ErrGarnishmentNotActive)

	var garnished decimal.Decimal
	require.NoError(t, setup.DB.QueryRow(ctx,
		`SELECT amount_garnished_to_date FROM employee_payroll_items WHERE id = $1`, garnishID).Scan(&garnished))
	assert.Equal(t, "500", garnished.String())
}

func TestMigrate_Versioned(t *testing.T) {
	setup := NewTestDatabase(t)

	version, dirty, err := postgresql.MigrationVersion(setup.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, postgresql.Migrate(setup.DB))

	require.NoError(t, postgresql.MigrateDown(setup.DB))
	version, _, err = postgresql.MigrationVersion(setup.DB)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, postgresql.Migrate(setup.DB))
	version, _, err = postgresql.MigrationVersion(setup.DB)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestPayrollRepository_ConcurrentIncrementsNeverExceedTotal(t *testing.T) {
	setup := NewTestDatabase(t)
	seed(t, setup)

	repo := postgresql.NewPayrollRepository(setup.DB)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.IncrementGarnished(ctx, companyID, garnishID, decimal.NewFromInt(100))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, payroll.ErrLifetimeTotalExceeded)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	var total decimal.Decimal
	require.NoError(t, setup.DB.QueryRow(ctx,
		`SELECT amount_garnished_to_date FROM employee_payroll_items WHERE id = $1`, garnishID).Scan(&total))
	assert.Equal(t, "1000", total.String())
}

func TestPayrollRepository_CreatePayrollRecord(t *testing.T) {
	setup := NewTestDatabase(t)
	seed(t, setup)

	repo := postgresql.NewPayrollRepository(setup.DB)
	transactor := postgresql.NewTransactor(setup.DB)
	ctx := context.Background()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	record := payroll.PayrollRecord{
		EmployeeID:  employeeID,
		CompanyID:   companyID,
		PeriodStart: start,
		PeriodEnd:   end,
		BaseSalary:  decimal.NewFromInt(10000),
		GrossSalary: decimal.NewFromInt(11700),
		NetSalary:   decimal.NewFromInt(9000),
		Detail:      payroll.CalculationResult{EmployeeID: employeeID, CompanyID: companyID},
		Status:      payroll.PayrollStatusDraft,
	}

	saved, err := repo.CreatePayrollRecord(ctx, record)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	_, err = repo.CreatePayrollRecord(ctx, record)
	assert.ErrorIs(t, err, payroll.ErrPayrollRecordExists)

	t.Run("transaction rolls back the increment", func(t *testing.T) {
		errBoom := errors.New("boom")
		err := transactor.WithinTransaction(ctx, func(txCtx context.Context) error {
			if _, err := repo.IncrementGarnished(txCtx, companyID, garnishID, decimal.NewFromInt(100)); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)

		items, err := repo.ListEmployeeItems(ctx, companyID, employeeID, end)
		require.NoError(t, err)
		for _, item := range items {
			if item.IsGarnishment() {
				assert.Equal(t, "500", item.Garnishment.AmountGarnishedToDate.String())
			}
		}
	})
}
