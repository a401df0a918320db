package model

import (
	"errors"
	"fmt"
)

// ErrorResponse represents a standardised error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ErrorKind classifies domain errors for callers and transports.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExternal
	KindInconsistency
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external_service"
	case KindInconsistency:
		return "internal_inconsistency"
	default:
		return "internal"
	}
}

// Standard error codes for API responses
const (
	ErrCodeInvalidJSON       = "INVALID_JSON"
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeProductNotFound   = "PRODUCT_NOT_FOUND"
	ErrCodeProductInactive   = "PRODUCT_INACTIVE"
	ErrCodeInsufficientStock = "INSUFFICIENT_STOCK"
	ErrCodeStockConflict     = "STOCK_CONFLICT"
	ErrCodeOrderNotFound     = "ORDER_NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_STATUS_TRANSITION"
	ErrCodeSaleNotFound      = "SALE_NOT_FOUND"
	ErrCodeSaleClosed        = "SALE_CLOSED"
	ErrCodeNothingOwed       = "NOTHING_OWED"
	ErrCodeOverpayment       = "OVERPAYMENT"
	ErrCodeAlreadyCancelled  = "ALREADY_CANCELLED"
	ErrCodeConcurrentUpdate  = "CONCURRENT_UPDATE"
	ErrCodeGateway           = "GATEWAY_ERROR"
	ErrCodeInconsistentState = "INCONSISTENT_STATE"
	ErrCodeUnauthorised      = "UNAUTHORIZED"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// DomainError is a business-level failure with a stable code.
type DomainError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches domain errors by code so wrapped and re-created errors compare equal.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new domain error
func NewDomainError(kind ErrorKind, code, message string) *DomainError {
	return &DomainError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// NewValidationError reports a user-correctable request problem.
func NewValidationError(message string, fields map[string]string) *DomainError {
	return &DomainError{
		Kind:    KindValidation,
		Code:    ErrCodeValidation,
		Message: message,
		Fields:  fields,
	}
}

// NewExternalError wraps a payment gateway failure. Callers may retry.
func NewExternalError(message string, err error) *DomainError {
	return &DomainError{
		Kind:    KindExternal,
		Code:    ErrCodeGateway,
		Message: message,
		Err:     err,
	}
}

// NewInconsistencyError aborts a mutation that would persist a corrupt state.
func NewInconsistencyError(message string) *DomainError {
	return &DomainError{
		Kind:    KindInconsistency,
		Code:    ErrCodeInconsistentState,
		Message: message,
	}
}

// Errorf builds a domain error of a known code with a specific message.
func Errorf(base *DomainError, format string, args ...any) *DomainError {
	return &DomainError{
		Kind:    base.Kind,
		Code:    base.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// Common domain errors
var (
	ErrProductNotFound   = NewDomainError(KindNotFound, ErrCodeProductNotFound, "Product not found")
	ErrProductInactive   = NewDomainError(KindValidation, ErrCodeProductInactive, "Product is not available")
	ErrInsufficientStock = NewDomainError(KindConflict, ErrCodeInsufficientStock, "Insufficient stock")
	ErrStockConflict     = NewDomainError(KindConflict, ErrCodeStockConflict, "Stock was taken by a concurrent sale")
	ErrOrderNotFound     = NewDomainError(KindNotFound, ErrCodeOrderNotFound, "Order not found")
	ErrInvalidTransition = NewDomainError(KindConflict, ErrCodeInvalidTransition, "Order status transition not allowed")
	ErrSaleNotFound      = NewDomainError(KindNotFound, ErrCodeSaleNotFound, "Sale not found")
	ErrSaleClosed        = NewDomainError(KindConflict, ErrCodeSaleClosed, "Sale is cancelled and accepts no payments")
	ErrNothingOwed       = NewDomainError(KindConflict, ErrCodeNothingOwed, "Sale is already fully paid")
	ErrOverpayment       = NewDomainError(KindConflict, ErrCodeOverpayment, "Payment exceeds the remaining balance")
	ErrAlreadyCancelled  = NewDomainError(KindConflict, ErrCodeAlreadyCancelled, "Already cancelled")
	ErrConcurrentUpdate  = NewDomainError(KindConflict, ErrCodeConcurrentUpdate, "Record was modified concurrently, retry")
)
