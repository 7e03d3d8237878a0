package models

import "errors"

// Kinds used by the transport layer to pick a response code.
var (
	ErrInvalid  = errors.New("invalid input")
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

// DomainError is a rejected operation with a machine-readable reason.
type DomainError struct {
	Kind    error
	Code    string
	Message string
}

func (e *DomainError) Error() string { return e.Message }

func (e *DomainError) Unwrap() error { return e.Kind }

// Is matches any DomainError carrying the same code, so detailed copies
// produced by WithMessage still compare equal to the sentinel.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy with a more specific message.
func (e *DomainError) WithMessage(msg string) *DomainError {
	return &DomainError{Kind: e.Kind, Code: e.Code, Message: msg}
}

func invalid(code, msg string) *DomainError {
	return &DomainError{Kind: ErrInvalid, Code: code, Message: msg}
}

func conflict(code, msg string) *DomainError {
	return &DomainError{Kind: ErrConflict, Code: code, Message: msg}
}

func notFound(code, msg string) *DomainError {
	return &DomainError{Kind: ErrNotFound, Code: code, Message: msg}
}

var (
	ErrOrderNotFound   = notFound("order_not_found", "order not found")
	ErrProductNotFound = notFound("product_not_found", "product not found")
	ErrInvoiceNotFound = notFound("invoice_not_found", "invoice not found")

	ErrTrackingRequired        = invalid("tracking_required", "tracking number is required for external carriers")
	ErrUnknownTransporter      = invalid("unknown_transporter", "unknown transporter")
	ErrInvalidQuantity         = invalid("invalid_quantity", "quantity must be positive")
	ErrInvalidUnitCost         = invalid("invalid_unit_cost", "unit cost must not be negative")
	ErrEmptyBatch              = invalid("empty_batch", "no orders to invoice")
	ErrInsufficientInvoiceable = invalid("insufficient_invoiceable", "insufficient invoiceable quantity")
	ErrTooManyIDs              = invalid("too_many_ids", "too many ids in one request")

	ErrOrderTerminal        = conflict("order_terminal", "order is already in a terminal state")
	ErrOrderNotPollable     = conflict("order_not_pollable", "order has no external carrier to poll")
	ErrReturnAlreadyStocked = conflict("return_already_stocked", "return is already stocked")
	ErrReturnRegression     = conflict("return_regression", "return status cannot move backwards")
	ErrAlreadyInvoiced      = conflict("already_invoiced", "order is already invoiced")
)

// ReasonCode extracts the machine-readable code, or "" for non-domain errors.
func ReasonCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
