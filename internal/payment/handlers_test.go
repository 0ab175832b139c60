package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pay/internal/gateway"
	"github.com/noah-isme/backend-pay/internal/lock"
	"github.com/noah-isme/backend-pay/internal/payment"
	"github.com/noah-isme/backend-pay/internal/reconcile"
)

type stubGateway struct {
	payResp  gateway.PayResponse
	payErr   error
	queries  []string
	inquiry  gateway.QueryResult
	inqErr   error
	payCalls int
}

func (s *stubGateway) Pay(_ context.Context, _ gateway.PayRequest) (gateway.PayResponse, error) {
	s.payCalls++
	return s.payResp, s.payErr
}

func (s *stubGateway) Inquiry(_ context.Context, id string) (gateway.QueryResult, error) {
	s.queries = append(s.queries, id)
	return s.inquiry, s.inqErr
}

func newTestStack(t *testing.T, gw gateway.Client) (*payment.Handler, *reconcile.MemoryStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := reconcile.NewMemoryStore()
	rsvc := &reconcile.Service{
		Store:  store,
		Locker: lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Logger: zerolog.Nop(),
	}
	svc := &payment.Service{
		Gateway:   gw,
		Reconcile: rsvc,
		Store:     store,
		Logger:    zerolog.Nop(),
	}
	return &payment.Handler{Svc: svc, Validate: validator.New()}, store
}

func doPay(t *testing.T, h *payment.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payment/pay", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	h.Pay(rr, req)
	return rr
}

func TestPayCreatesRequestAndReturnsRedirect(t *testing.T) {
	gw := &stubGateway{payResp: gateway.PayResponse{
		ResultStatus: "S",
		PaymentID:    "gw-pay-1",
		NormalURL:    "https://pay.example.com/checkout/abc",
	}}
	h, store := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"10.50","currency":"USD","paymentMethodType":"CARD","terminalType":"WEB"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		PaymentRequestID string `json:"paymentRequestId"`
		AmountMinor      int64  `json:"amountMinor"`
		Currency         string `json:"currency"`
		RedirectURL      string `json:"redirectUrl"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PaymentRequestID)
	require.Equal(t, int64(1050), resp.AmountMinor)
	require.Equal(t, "USD", resp.Currency)
	require.Equal(t, "https://pay.example.com/checkout/abc", resp.RedirectURL)

	pr, err := store.GetPaymentRequest(context.Background(), resp.PaymentRequestID)
	require.NoError(t, err)
	require.Equal(t, reconcile.StateCreated, pr.State)
}

func TestPayZeroDecimalCurrency(t *testing.T) {
	gw := &stubGateway{payResp: gateway.PayResponse{ResultStatus: "S"}}
	h, store := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"1200","currency":"JPY","paymentMethodType":"CARD"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		PaymentRequestID string `json:"paymentRequestId"`
		AmountMinor      int64  `json:"amountMinor"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, int64(1200), resp.AmountMinor)

	pr, err := store.GetPaymentRequest(context.Background(), resp.PaymentRequestID)
	require.NoError(t, err)
	require.Equal(t, int64(1200), pr.AmountMinor)
}

func TestPayRejectsSubUnitPrecision(t *testing.T) {
	gw := &stubGateway{}
	h, _ := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"10.505","currency":"USD","paymentMethodType":"CARD"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_AMOUNT")
	require.Zero(t, gw.payCalls)
}

func TestPayRejectsMissingFields(t *testing.T) {
	gw := &stubGateway{}
	h, _ := newTestStack(t, gw)

	rr := doPay(t, h, `{"currency":"USD"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_REQUEST")
	require.Zero(t, gw.payCalls)
}

func TestPayTimeoutLeavesRequestCreated(t *testing.T) {
	gw := &stubGateway{payErr: gateway.ErrTimeout}
	h, store := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"5.00","currency":"EUR","paymentMethodType":"CARD"}`)
	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	require.Contains(t, rr.Body.String(), "GATEWAY_TIMEOUT")

	var errResp struct {
		Error struct {
			Details struct {
				PaymentRequestID string `json:"paymentRequestId"`
			} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	require.NotEmpty(t, errResp.Error.Details.PaymentRequestID)

	// The record must exist in CREATED so the query fallback can resolve it.
	pr, err := store.GetPaymentRequest(context.Background(), errResp.Error.Details.PaymentRequestID)
	require.NoError(t, err)
	require.Equal(t, reconcile.StateCreated, pr.State)
}

func TestPayUpstreamFailure(t *testing.T) {
	gw := &stubGateway{payErr: gateway.ErrUpstream}
	h, _ := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"5.00","currency":"EUR","paymentMethodType":"CARD"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Contains(t, rr.Body.String(), "GATEWAY_ERROR")
}

func TestInquiryCombinesLocalAndGatewayView(t *testing.T) {
	gw := &stubGateway{
		payResp: gateway.PayResponse{ResultStatus: "S"},
		inquiry: gateway.QueryResult{Status: gateway.QuerySuccess, PaymentID: "gw-1"},
	}
	h, _ := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"10.00","currency":"USD","paymentMethodType":"CARD"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var created struct {
		PaymentRequestID string `json:"paymentRequestId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodPost, "/payment/inquiryPayment",
		bytes.NewBufferString(`{"paymentRequestId":"`+created.PaymentRequestID+`"}`))
	irr := httptest.NewRecorder()
	h.Inquiry(irr, req)
	require.Equal(t, http.StatusOK, irr.Code)

	var resp struct {
		State         string `json:"state"`
		GatewayStatus string `json:"gatewayStatus"`
	}
	require.NoError(t, json.Unmarshal(irr.Body.Bytes(), &resp))
	require.Equal(t, string(reconcile.StateCreated), resp.State)
	require.Equal(t, string(gateway.QuerySuccess), resp.GatewayStatus)
}

func TestInquiryUnknownRequest(t *testing.T) {
	h, _ := newTestStack(t, &stubGateway{})

	req := httptest.NewRequest(http.MethodPost, "/payment/inquiryPayment",
		bytes.NewBufferString(`{"paymentRequestId":"ghost"}`))
	rr := httptest.NewRecorder()
	h.Inquiry(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "UNKNOWN_PAYMENT_REQUEST")
}

func TestInquiryGatewayDownStillReportsLocalState(t *testing.T) {
	gw := &stubGateway{
		payResp: gateway.PayResponse{ResultStatus: "S"},
		inqErr:  errors.New("connection refused"),
	}
	h, _ := newTestStack(t, gw)

	rr := doPay(t, h, `{"amountValue":"10.00","currency":"USD","paymentMethodType":"CARD"}`)
	var created struct {
		PaymentRequestID string `json:"paymentRequestId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodPost, "/payment/inquiryPayment",
		bytes.NewBufferString(`{"paymentRequestId":"`+created.PaymentRequestID+`"}`))
	irr := httptest.NewRecorder()
	h.Inquiry(irr, req)
	require.Equal(t, http.StatusOK, irr.Code)

	var resp struct {
		State         string `json:"state"`
		GatewayStatus string `json:"gatewayStatus"`
	}
	require.NoError(t, json.Unmarshal(irr.Body.Bytes(), &resp))
	require.Equal(t, string(reconcile.StateCreated), resp.State)
	require.Equal(t, string(gateway.QueryUnknown), resp.GatewayStatus)
}
