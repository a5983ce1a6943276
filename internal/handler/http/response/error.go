package response

import (
	"errors"
	"net/http"

	"github.com/cmlabs-hris/payroll-engine/internal/domain/auth"
	"github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"
	"github.com/cmlabs-hris/payroll-engine/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	HandleErrorWithData(w, err, nil)
}

// HandleErrorWithData is HandleError for failures that still produced a
// result. data is attached to statutory failures only.
func HandleErrorWithData(w http.ResponseWriter, err error, data any) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}
	var fieldErr *payroll.ValidationError
	if errors.As(err, &fieldErr) {
		ValidationError(w, map[string]string{fieldErr.Field: fieldErr.Message})
		return
	}

	switch {
	// Auth errors
	case errors.Is(err, auth.ErrInvalidToken):
		Unauthorized(w, err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		Unauthorized(w, "Token expired")
	case errors.Is(err, auth.ErrInsufficientRole):
		Fail(w, http.StatusForbidden, err.Error())
	case errors.Is(err, payroll.ErrCompanyIDRequired):
		Fail(w, http.StatusForbidden, "Company access required")

	// Payroll domain errors
	case errors.Is(err, payroll.ErrEmployeeNotFound):
		Fail(w, http.StatusNotFound, "Employee not found")
	case errors.Is(err, payroll.ErrPayrollItemNotFound):
		Fail(w, http.StatusNotFound, "Payroll item not found")
	case errors.Is(err, payroll.ErrGarnishmentNotFound):
		Fail(w, http.StatusNotFound, "Garnishment not found")
	case errors.Is(err, payroll.ErrPayrollRecordExists):
		Fail(w, http.StatusConflict, "Payroll already committed for this period")
	case errors.Is(err, payroll.ErrGarnishmentNotActive):
		Fail(w, http.StatusConflict, "Garnishment is not active")
	case errors.Is(err, payroll.ErrLifetimeTotalExceeded):
		Fail(w, http.StatusConflict, "Garnishment lifetime total would be exceeded")
	case errors.Is(err, payroll.ErrInvalidStatusTransition):
		Fail(w, http.StatusConflict, err.Error())
	case errors.Is(err, payroll.ErrIncompleteStatutory):
		FailWithData(w, http.StatusUnprocessableEntity, "INCOMPLETE_STATUTORY", err.Error(), data)
	case errors.Is(err, payroll.ErrInvalidPeriod):
		BadRequest(w, err.Error())

	// Default
	default:
		Fail(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
