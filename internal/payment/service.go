package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pay/internal/common"
	"github.com/noah-isme/backend-pay/internal/gateway"
	"github.com/noah-isme/backend-pay/internal/money"
	"github.com/noah-isme/backend-pay/internal/obs"
	"github.com/noah-isme/backend-pay/internal/reconcile"
)

// CheckoutInput carries a merchant checkout request after validation.
type CheckoutInput struct {
	OrderID           string
	AmountValue       string
	Currency          string
	PaymentMethodType string
	TerminalType      string
	OsType            string
	BuyerID           string
}

// CheckoutResult is returned to the merchant frontend. PaymentRequestID is
// always populated, also on gateway errors, so the client can poll status.
type CheckoutResult struct {
	PaymentRequestID string
	OrderID          string
	AmountMinor      int64
	Currency         string
	RedirectURL      string
	GatewayPaymentID string
}

// InquiryResult combines local lifecycle state with the live gateway view.
type InquiryResult struct {
	PaymentRequestID string
	State            reconcile.State
	GatewayStatus    gateway.QueryStatus
	GatewayPaymentID string
}

// Service coordinates checkout and status inquiry against the gateway while
// the reconciliation core owns all local state.
type Service struct {
	Gateway   gateway.Client
	Reconcile *reconcile.Service
	Store     reconcile.Store
	Logger    zerolog.Logger
}

// Checkout converts the amount, registers the payment request locally and
// opens the payment at the gateway. The local record is written before the
// outbound call: if the call times out the outcome is unknown and the request
// must stay visible to the reconciliation fallback.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (CheckoutResult, error) {
	if s == nil || s.Gateway == nil || s.Reconcile == nil {
		return CheckoutResult{}, common.NewAppError(common.CodeNotConfigured, "payment service not configured", http.StatusInternalServerError, nil)
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Checkout")
	defer span.End()

	result := "error"
	defer func() {
		span.SetAttributes(attribute.String("payment.checkout.result", result))
		if obs.PaymentPayTotal != nil {
			obs.PaymentPayTotal.WithLabelValues(result).Inc()
		}
	}()

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	minor, err := money.ToMinorUnits(in.AmountValue, currency)
	if err != nil {
		result = "invalid_amount"
		return CheckoutResult{}, common.NewAppError(common.CodeInvalidAmount, err.Error(), http.StatusBadRequest, err)
	}

	paymentRequestID := uuid.NewString()
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		orderID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("payment.request_id", paymentRequestID))

	out := CheckoutResult{
		PaymentRequestID: paymentRequestID,
		OrderID:          orderID,
		AmountMinor:      minor,
		Currency:         currency,
	}

	if err := s.Reconcile.Register(ctx, reconcile.PaymentRequest{
		PaymentRequestID: paymentRequestID,
		OrderID:          orderID,
		AmountMinor:      minor,
		Currency:         currency,
		CreatedAt:        time.Now(),
	}); err != nil {
		return CheckoutResult{}, common.NewAppError(common.CodeStoreError, "persist payment request", http.StatusInternalServerError, err)
	}

	resp, err := s.Gateway.Pay(ctx, gateway.PayRequest{
		PaymentRequestID:  paymentRequestID,
		OrderID:           orderID,
		AmountMinor:       minor,
		Currency:          currency,
		PaymentMethodType: in.PaymentMethodType,
		TerminalType:      in.TerminalType,
		OsType:            in.OsType,
		BuyerID:           in.BuyerID,
	})
	if err != nil {
		span.RecordError(err)
		details := map[string]string{"paymentRequestId": paymentRequestID}
		if errors.Is(err, gateway.ErrTimeout) {
			// Unknown outcome: local state stays CREATED and the reconciler
			// will learn the authoritative result.
			result = "timeout"
			return out, common.NewAppError(common.CodeGatewayTimeout, "gateway call timed out; outcome unknown", http.StatusGatewayTimeout, err).WithDetails(details)
		}
		result = "upstream_error"
		return out, common.NewAppError(common.CodeGatewayError, "gateway rejected the payment", http.StatusBadGateway, err).WithDetails(details)
	}

	result = "success"
	out.RedirectURL = resp.NormalURL
	out.GatewayPaymentID = resp.PaymentID
	s.Logger.Info().
		Str("payment_request_id", paymentRequestID).
		Str("order_id", orderID).
		Int64("amount_minor", minor).
		Str("currency", currency).
		Msg("payment_created")
	return out, nil
}

// Inquiry reports the local lifecycle state alongside the gateway's live view.
func (s *Service) Inquiry(ctx context.Context, paymentRequestID string) (InquiryResult, error) {
	if s == nil || s.Store == nil || s.Gateway == nil {
		return InquiryResult{}, common.NewAppError(common.CodeNotConfigured, "payment service not configured", http.StatusInternalServerError, nil)
	}
	pr, err := s.Store.GetPaymentRequest(ctx, paymentRequestID)
	if err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			return InquiryResult{}, common.NewAppError(common.CodeUnknownRequest, "unknown payment request", http.StatusNotFound, err)
		}
		return InquiryResult{}, common.NewAppError(common.CodeStoreError, "load payment request", http.StatusInternalServerError, err)
	}

	res := InquiryResult{PaymentRequestID: paymentRequestID, State: pr.State}
	live, err := s.Gateway.Inquiry(ctx, paymentRequestID)
	if err != nil {
		// Local state is still useful when the gateway is unreachable.
		res.GatewayStatus = gateway.QueryUnknown
		return res, nil
	}
	res.GatewayStatus = live.Status
	res.GatewayPaymentID = live.PaymentID
	return res, nil
}
