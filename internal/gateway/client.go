package gateway

import (
	"context"
	"errors"
)

// Payment API paths on the gateway side.
const (
	PathPay     = "/ams/api/v1/payments/pay"
	PathInquiry = "/ams/api/v1/payments/inquiryPayment"
)

// ErrTimeout marks an outbound call whose outcome is unknown. Callers must
// not treat it as a payment failure: the request stays eligible for the
// reconciliation fallback.
var ErrTimeout = errors.New("gateway: call timed out")

// ErrUpstream marks a definitive upstream rejection (4xx/5xx or error body).
var ErrUpstream = errors.New("gateway: upstream error")

// PayRequest carries the fields needed to open a cashier payment.
type PayRequest struct {
	PaymentRequestID  string
	OrderID           string
	AmountMinor       int64
	Currency          string
	PaymentMethodType string
	TerminalType      string
	OsType            string
	NotifyURL         string
	RedirectURL       string
	BuyerID           string
}

// PayResponse is the normalised result of a pay call.
type PayResponse struct {
	ResultCode         string
	ResultStatus       string
	ResultMessage      string
	PaymentID          string
	NormalURL          string
	PaymentRawResponse []byte
}

// QueryStatus enumerates the authoritative statuses an inquiry can report.
type QueryStatus string

const (
	QuerySuccess    QueryStatus = "SUCCESS"
	QueryFail       QueryStatus = "FAIL"
	QueryProcessing QueryStatus = "PROCESSING"
	QueryUnknown    QueryStatus = "UNKNOWN"
)

// QueryResult is the normalised result of an inquiry call.
type QueryResult struct {
	Status      QueryStatus
	ResultCode  string
	PaymentID   string
	RawResponse []byte
}

// Client abstracts the outbound payment gateway operations. The reconciliation
// core depends on this interface only; the HTTP implementation lives in this
// package and stubs are used in tests.
type Client interface {
	Pay(ctx context.Context, req PayRequest) (PayResponse, error)
	Inquiry(ctx context.Context, paymentRequestID string) (QueryResult, error)
}
