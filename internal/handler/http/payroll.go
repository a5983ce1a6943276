package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/middleware"
	"github.com/cmlabs-hris/payroll-engine/internal/handler/http/response"
)

type PayrollHandler interface {
	Calculate(w http.ResponseWriter, r *http.Request)
	CalculateBatch(w http.ResponseWriter, r *http.Request)
	CalculateGarnishments(w http.ResponseWriter, r *http.Request)
}

type payrollHandlerImpl struct {
	payrollService payroll.PayrollService
}

func NewPayrollHandler(payrollService payroll.PayrollService) PayrollHandler {
	return &payrollHandlerImpl{payrollService: payrollService}
}

func (h *payrollHandlerImpl) Calculate(w http.ResponseWriter, r *http.Request) {
	var req payroll.CalculateEmployeePayrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	req.CompanyID = middleware.CompanyID(r.Context())

	result, err := h.payrollService.CalculateEmployeePayroll(r.Context(), req)
	if err != nil {
		response.HandleErrorWithData(w, err, result)
		return
	}

	if req.Commit {
		response.SuccessWithMessage(w, "Payroll committed", result)
		return
	}
	response.Success(w, result)
}

func (h *payrollHandlerImpl) CalculateBatch(w http.ResponseWriter, r *http.Request) {
	var req payroll.CalculateBatchPayrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	req.CompanyID = middleware.CompanyID(r.Context())

	result, err := h.payrollService.CalculateBatchPayroll(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	if result.Summary.FailureCount > 0 {
		response.Partial(w, fmt.Sprintf("%d of %d employees failed", result.Summary.FailureCount, result.Summary.EmployeeCount), result)
		return
	}
	response.Success(w, result)
}

func (h *payrollHandlerImpl) CalculateGarnishments(w http.ResponseWriter, r *http.Request) {
	var req payroll.CalculateGarnishmentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	req.CompanyID = middleware.CompanyID(r.Context())

	result, err := h.payrollService.CalculateGarnishments(r.Context(), req)
	if err != nil {
		response.HandleError(w, err)
		return
	}

	response.Success(w, result)
}
