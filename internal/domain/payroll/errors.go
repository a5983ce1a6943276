package payroll

import (
	"errors"
	"fmt"
)

var (
	ErrEmployeeNotFound        = errors.New("employee not found")
	ErrPayrollItemNotFound     = errors.New("payroll item not found")
	ErrGarnishmentNotFound     = errors.New("garnishment not found")
	ErrGarnishmentNotActive    = errors.New("garnishment is not active")
	ErrPayrollRecordExists     = errors.New("payroll record already exists for this period")
	ErrInvalidPeriod           = errors.New("invalid payroll period")
	ErrInvalidStatusTransition = errors.New("invalid payroll item status transition")
	ErrLifetimeTotalExceeded   = errors.New("garnishment lifetime total exceeded")
	ErrValidation              = errors.New("validation error")
	ErrBracketData             = errors.New("malformed bracket data")
	ErrIncompleteStatutory     = errors.New("statutory deductions could not be fully calculated")
	ErrCompanyIDRequired       = errors.New("company id is required")
)

// ValidationError - Missing or invalid input that blocks a single line.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// BracketDataError - Malformed statutory rule payload of one template.
type BracketDataError struct {
	TemplateID string
	Reason     string
}

func (e *BracketDataError) Error() string {
	return fmt.Sprintf("deduction template %s: %s", e.TemplateID, e.Reason)
}

func (e *BracketDataError) Unwrap() error {
	return ErrBracketData
}

// StatusTransitionError - Rejected item status change.
type StatusTransitionError struct {
	ItemID string
	From   ItemStatus
	To     ItemStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("payroll item %s: cannot move from %s to %s", e.ItemID, e.From, e.To)
}

func (e *StatusTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}
