package payroll

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepository is an in-memory PayrollRepository and DeductionTemplateSource.
type fakeRepository struct {
	mu             sync.Mutex
	employees      []payroll.Employee
	templates      []payroll.CompanyPayrollTemplate
	items          map[string][]payroll.EmployeePayrollItem
	statutory      []payroll.DeductionTemplate
	configs        []payroll.CompanyDeductionConfiguration
	records        []payroll.PayrollRecord
	statutoryCalls int
	statusUpdates  int

	// beforeIncrement runs inside IncrementGarnished, used to simulate a concurrent run.
	beforeIncrement func(itemID string)
}

func (r *fakeRepository) GetEmployee(ctx context.Context, companyID, employeeID string) (payroll.Employee, error) {
	for _, e := range r.employees {
		if e.ID == employeeID && e.CompanyID == companyID {
			return e, nil
		}
	}
	return payroll.Employee{}, payroll.ErrEmployeeNotFound
}

func (r *fakeRepository) ListActiveEmployees(ctx context.Context, companyID string, employeeIDs []string) ([]payroll.Employee, error) {
	var out []payroll.Employee
	for _, e := range r.employees {
		if e.CompanyID != companyID {
			continue
		}
		if len(employeeIDs) > 0 && !contains(employeeIDs, e.ID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeRepository) ListCompanyIDs(ctx context.Context) ([]string, error) {
	return []string{"company-1"}, nil
}

func (r *fakeRepository) ListCompanyTemplates(ctx context.Context, companyID string, date time.Time) ([]payroll.CompanyPayrollTemplate, error) {
	return r.templates, nil
}

func (r *fakeRepository) ListEmployeeItems(ctx context.Context, companyID, employeeID string, date time.Time) ([]payroll.EmployeePayrollItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]payroll.EmployeePayrollItem, 0, len(r.items[employeeID]))
	for _, item := range r.items[employeeID] {
		if item.Garnishment != nil {
			g := *item.Garnishment
			item.Garnishment = &g
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *fakeRepository) ListCompanyDeductionConfigs(ctx context.Context, companyID string, date time.Time) ([]payroll.CompanyDeductionConfiguration, error) {
	return r.configs, nil
}

func (r *fakeRepository) ListDeductionTemplates(ctx context.Context, jurisdictionID string, date time.Time) ([]payroll.DeductionTemplate, error) {
	r.statutoryCalls++
	var out []payroll.DeductionTemplate
	for _, tpl := range r.statutory {
		if tpl.JurisdictionID == jurisdictionID {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (r *fakeRepository) IncrementGarnished(ctx context.Context, companyID, itemID string, amount decimal.Decimal) (payroll.GarnishmentCounter, error) {
	if r.beforeIncrement != nil {
		r.beforeIncrement(itemID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for employeeID, items := range r.items {
		for i := range items {
			item := &r.items[employeeID][i]
			if item.ID != itemID || item.Garnishment == nil {
				continue
			}
			if item.Status != payroll.ItemStatusActive {
				return payroll.GarnishmentCounter{}, payroll.ErrGarnishmentNotActive
			}
			g := item.Garnishment
			next := g.AmountGarnishedToDate.Add(amount)
			if g.TotalAmountToGarnish != nil && next.GreaterThan(*g.TotalAmountToGarnish) {
				return payroll.GarnishmentCounter{}, payroll.ErrLifetimeTotalExceeded
			}
			g.AmountGarnishedToDate = next
			return payroll.GarnishmentCounter{ItemID: itemID, AmountGarnishedToDate: next, TotalAmountToGarnish: g.TotalAmountToGarnish, Status: item.Status}, nil
		}
	}
	return payroll.GarnishmentCounter{}, payroll.ErrGarnishmentNotFound
}

func (r *fakeRepository) UpdateItemStatus(ctx context.Context, companyID, itemID string, from, to payroll.ItemStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusUpdates++
	for employeeID, items := range r.items {
		for i := range items {
			item := &r.items[employeeID][i]
			if item.ID != itemID {
				continue
			}
			if item.Status != from {
				return &payroll.StatusTransitionError{ItemID: itemID, From: item.Status, To: to}
			}
			item.Status = to
			return nil
		}
	}
	return payroll.ErrPayrollItemNotFound
}

func (r *fakeRepository) CreatePayrollRecord(ctx context.Context, record payroll.PayrollRecord) (payroll.PayrollRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.EmployeeID == record.EmployeeID && existing.PeriodStart.Equal(record.PeriodStart) {
			return payroll.PayrollRecord{}, payroll.ErrPayrollRecordExists
		}
	}
	record.ID = fmt.Sprintf("record-%d", len(r.records)+1)
	r.records = append(r.records, record)
	return record, nil
}

// snapshot and restore give the fake transactor rollback semantics.
func (r *fakeRepository) snapshot() (map[string][]payroll.EmployeePayrollItem, []payroll.PayrollRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make(map[string][]payroll.EmployeePayrollItem, len(r.items))
	for k, v := range r.items {
		copied := make([]payroll.EmployeePayrollItem, len(v))
		for i, item := range v {
			if item.Garnishment != nil {
				g := *item.Garnishment
				item.Garnishment = &g
			}
			copied[i] = item
		}
		items[k] = copied
	}
	return items, append([]payroll.PayrollRecord(nil), r.records...)
}

func (r *fakeRepository) restore(items map[string][]payroll.EmployeePayrollItem, records []payroll.PayrollRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	r.records = records
}

type fakeTransactor struct {
	repo *fakeRepository
}

func (t fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	items, records := t.repo.snapshot()
	if err := fn(ctx); err != nil {
		t.repo.restore(items, records)
		return err
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

const (
	empA = "0190a8f2-0000-7000-8000-000000000001"
	empB = "0190a8f2-0000-7000-8000-000000000002"
	empC = "0190a8f2-0000-7000-8000-000000000003"
	empD = "0190a8f2-0000-7000-8000-000000000004"
	empE = "0190a8f2-0000-7000-8000-000000000005"
	empX = "0190a8f2-0000-7000-8000-0000000000ff"
)

func newFakeRepository(t *testing.T) *fakeRepository {
	repo := &fakeRepository{
		templates: testCompanyTemplates(),
		statutory: testDeductionTemplates(t),
		items:     make(map[string][]payroll.EmployeePayrollItem),
	}
	for _, id := range []string{empA, empB, empC, empD, empE} {
		emp := testEmployee(id)
		if id == empC {
			emp.JurisdictionID = "BROKEN"
		}
		repo.employees = append(repo.employees, emp)
		repo.items[id] = testItems(id)
	}
	return repo
}

func newTestService(repo *fakeRepository) payroll.PayrollService {
	return NewPayrollService(repo, repo, fakeTransactor{repo: repo}, quietEngine(2))
}

func januaryRequest(employeeID string, commit bool) payroll.CalculateEmployeePayrollRequest {
	return payroll.CalculateEmployeePayrollRequest{
		CompanyID:   "company-1",
		EmployeeID:  employeeID,
		PeriodStart: "2025-01-01",
		PeriodEnd:   "2025-01-31",
		Commit:      commit,
	}
}

func TestPayrollService_CalculateEmployeePayroll(t *testing.T) {
	repo := newFakeRepository(t)
	svc := newTestService(repo)

	result, err := svc.CalculateEmployeePayroll(context.Background(), januaryRequest(empA, false))
	require.NoError(t, err)
	assertDecimal(t, "6120", result.NetSalary)
	assert.Empty(t, repo.records)

	_, err = svc.CalculateEmployeePayroll(context.Background(), januaryRequest(empA, true))
	require.NoError(t, err)
	require.Len(t, repo.records, 1)
	assert.Equal(t, empA, repo.records[0].EmployeeID)
	assertDecimal(t, "6120", repo.records[0].NetSalary)
	assert.Equal(t, payroll.PayrollStatusDraft, repo.records[0].Status)
	assertDecimal(t, "3000", repo.items[empA][1].Garnishment.AmountGarnishedToDate)
}

func TestPayrollService_CommitCompletesGarnishment(t *testing.T) {
	repo := newFakeRepository(t)
	g := repo.items[empA][1].Garnishment
	g.TotalAmountToGarnish = dp("4000")
	g.AmountGarnishedToDate = d("2500")

	result, err := newTestService(repo).CalculateEmployeePayroll(context.Background(), januaryRequest(empA, true))
	require.NoError(t, err)
	require.Len(t, result.Garnishments, 1)
	assertDecimal(t, "1500", result.Garnishments[0].Amount)
	assert.True(t, result.Garnishments[0].Completed)
	assert.Equal(t, payroll.ItemStatusCompleted, repo.items[empA][1].Status)
	assert.Equal(t, 1, repo.statusUpdates)
}

func TestPayrollService_CommitLeavesOpenGarnishmentActive(t *testing.T) {
	repo := newFakeRepository(t)

	_, err := newTestService(repo).CalculateEmployeePayroll(context.Background(), januaryRequest(empA, true))
	require.NoError(t, err)
	assert.Equal(t, payroll.ItemStatusActive, repo.items[empA][1].Status)
	assert.Zero(t, repo.statusUpdates)
}

func TestPayrollService_CommitRejectsSuspendedGarnishment(t *testing.T) {
	repo := newFakeRepository(t)
	repo.beforeIncrement = func(itemID string) {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		repo.items[empA][1].Status = payroll.ItemStatusSuspended
	}

	_, err := newTestService(repo).CalculateEmployeePayroll(context.Background(), januaryRequest(empA, true))
	require.ErrorIs(t, err, payroll.ErrGarnishmentNotActive)
	assert.Empty(t, repo.records)
	assertDecimal(t, "0", repo.items[empA][1].Garnishment.AmountGarnishedToDate)
}

func TestPayrollService_CommitRollsBackOnConcurrentIncrement(t *testing.T) {
	repo := newFakeRepository(t)
	g := repo.items[empA][1].Garnishment
	g.TotalAmountToGarnish = dp("4000")
	g.AmountGarnishedToDate = d("2500")

	repo.beforeIncrement = func(itemID string) {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		repo.items[empA][1].Garnishment.AmountGarnishedToDate = d("3000")
	}

	_, err := newTestService(repo).CalculateEmployeePayroll(context.Background(), januaryRequest(empA, true))
	require.ErrorIs(t, err, payroll.ErrLifetimeTotalExceeded)
	assert.Empty(t, repo.records)
}

func TestPayrollService_CalculateEmployeePayroll_Errors(t *testing.T) {
	svc := newTestService(newFakeRepository(t))

	req := januaryRequest(empA, false)
	req.PeriodEnd = "2024-12-31"
	_, err := svc.CalculateEmployeePayroll(context.Background(), req)
	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	_, err = svc.CalculateEmployeePayroll(context.Background(), januaryRequest(empX, false))
	assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)

	req = januaryRequest(empA, false)
	req.CompanyID = "company-2"
	_, err = svc.CalculateEmployeePayroll(context.Background(), req)
	assert.ErrorIs(t, err, payroll.ErrEmployeeNotFound)

	partial, err := svc.CalculateEmployeePayroll(context.Background(), januaryRequest(empC, false))
	assert.ErrorIs(t, err, payroll.ErrIncompleteStatutory)
	assert.Equal(t, empC, partial.EmployeeID)
	assert.NotEmpty(t, partial.Errors)
	assert.True(t, partial.GrossSalary.IsPositive())
}

func TestPayrollService_CalculateBatchPayroll(t *testing.T) {
	repo := newFakeRepository(t)
	svc := newTestService(repo)

	batch, err := svc.CalculateBatchPayroll(context.Background(), payroll.CalculateBatchPayrollRequest{
		CompanyID:   "company-1",
		PeriodStart: "2025-01-01",
		PeriodEnd:   "2025-01-31",
		Commit:      true,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, batch.RunID)
	assert.Len(t, batch.Results, 4)
	require.Len(t, batch.Errors, 1)
	assert.Equal(t, empC, batch.Errors[0].EmployeeID)
	assert.Equal(t, 5, batch.Summary.EmployeeCount)

	require.Len(t, repo.records, 4)
	for _, rec := range repo.records {
		require.NotNil(t, rec.RunID)
		assert.Equal(t, batch.RunID, *rec.RunID)
	}
	assert.Equal(t, 2, repo.statutoryCalls, "statutory templates are loaded once per jurisdiction")
}

func TestPayrollService_CalculateBatchPayroll_SelectedEmployees(t *testing.T) {
	repo := newFakeRepository(t)
	svc := newTestService(repo)

	batch, err := svc.CalculateBatchPayroll(context.Background(), payroll.CalculateBatchPayrollRequest{
		CompanyID:   "company-1",
		EmployeeIDs: []string{empX, empB, empC},
		PeriodStart: "2025-01-01",
		PeriodEnd:   "2025-01-31",
	})
	require.NoError(t, err)

	require.Len(t, batch.Results, 1)
	assert.Equal(t, empB, batch.Results[0].EmployeeID)
	require.Len(t, batch.Errors, 2)
	assert.Equal(t, empX, batch.Errors[0].EmployeeID)
	assert.ErrorIs(t, batch.Errors[0].Err, payroll.ErrEmployeeNotFound)
	assert.Equal(t, empC, batch.Errors[1].EmployeeID)
	assert.Empty(t, repo.records)
}

func TestPayrollService_BatchCommitFailureBecomesError(t *testing.T) {
	repo := newFakeRepository(t)
	repo.records = []payroll.PayrollRecord{{EmployeeID: empD, PeriodStart: day("2025-01-01")}}
	svc := newTestService(repo)

	batch, err := svc.CalculateBatchPayroll(context.Background(), payroll.CalculateBatchPayrollRequest{
		CompanyID:   "company-1",
		PeriodStart: "2025-01-01",
		PeriodEnd:   "2025-01-31",
		Commit:      true,
	})
	require.NoError(t, err)
	assert.Len(t, batch.Results, 3)
	require.Len(t, batch.Errors, 2)
	assert.Equal(t, empC, batch.Errors[0].EmployeeID)
	assert.Equal(t, empD, batch.Errors[1].EmployeeID)
	assert.ErrorIs(t, batch.Errors[1].Err, payroll.ErrPayrollRecordExists)
	assertDecimal(t, "0", repo.items[empD][1].Garnishment.AmountGarnishedToDate)
}

func TestPayrollService_CalculateGarnishments(t *testing.T) {
	repo := newFakeRepository(t)
	svc := newTestService(repo)

	result, err := svc.CalculateGarnishments(context.Background(), payroll.CalculateGarnishmentsRequest{
		CompanyID:        "company-1",
		EmployeeID:       empA,
		DisposableIncome: d("4000"),
		Date:             "2025-01-31",
	})
	require.NoError(t, err)
	require.Len(t, result.Garnishments, 1)
	assertDecimal(t, "2000", result.Garnishments[0].Amount)
	assertDecimal(t, "2000", result.RemainingDisposable)
	assertDecimal(t, "0", repo.items[empA][1].Garnishment.AmountGarnishedToDate)
}
