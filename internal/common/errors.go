package common

import "errors"

// Stable error codes surfaced by the payment API.
const (
	CodeInvalidAmount  = "INVALID_AMOUNT"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnknownRequest = "UNKNOWN_PAYMENT_REQUEST"
	CodeGatewayTimeout = "GATEWAY_TIMEOUT"
	CodeGatewayError   = "GATEWAY_ERROR"
	CodeStoreError     = "STORE_ERROR"
	CodeNotConfigured  = "NOT_CONFIGURED"
	CodeInternal       = "INTERNAL"
)

// AppError carries a stable code and HTTP status alongside the wrapped cause.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap lets errors.Is/As reach the underlying cause.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WithDetails attaches structured context rendered in the error payload.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// AsAppError extracts an AppError from the chain when present.
func AsAppError(err error) (*AppError, bool) {
	var target *AppError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
