package payment

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-pay/internal/common"
)

// Handler exposes HTTP endpoints for payment creation and status inquiry.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

type payReq struct {
	OrderID           string `json:"orderId"`
	AmountValue       string `json:"amountValue" validate:"required"`
	Currency          string `json:"currency" validate:"required,len=3,alpha"`
	PaymentMethodType string `json:"paymentMethodType" validate:"required"`
	TerminalType      string `json:"terminalType" validate:"omitempty,oneof=WEB WAP APP MINI_APP"`
	OsType            string `json:"osType" validate:"omitempty,oneof=IOS ANDROID"`
	BuyerID           string `json:"buyerId"`
}

type payResp struct {
	PaymentRequestID string `json:"paymentRequestId"`
	OrderID          string `json:"orderId"`
	AmountMinor      int64  `json:"amountMinor"`
	Currency         string `json:"currency"`
	RedirectURL      string `json:"redirectUrl,omitempty"`
	GatewayPaymentID string `json:"gatewayPaymentId,omitempty"`
}

// Pay opens a payment at the gateway for the given order and amount.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeNotConfigured, "payment handler unavailable", nil)
		return
	}
	var req payReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidRequest, "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeInvalidRequest, err.Error(), nil)
			return
		}
	}
	out, err := h.Svc.Checkout(r.Context(), CheckoutInput{
		OrderID:           req.OrderID,
		AmountValue:       req.AmountValue,
		Currency:          req.Currency,
		PaymentMethodType: req.PaymentMethodType,
		TerminalType:      req.TerminalType,
		OsType:            req.OsType,
		BuyerID:           req.BuyerID,
	})
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, payResp{
		PaymentRequestID: out.PaymentRequestID,
		OrderID:          out.OrderID,
		AmountMinor:      out.AmountMinor,
		Currency:         out.Currency,
		RedirectURL:      out.RedirectURL,
		GatewayPaymentID: out.GatewayPaymentID,
	})
}

type inquiryReq struct {
	PaymentRequestID string `json:"paymentRequestId" validate:"required"`
}

type inquiryResp struct {
	PaymentRequestID string `json:"paymentRequestId"`
	State            string `json:"state"`
	GatewayStatus    string `json:"gatewayStatus"`
	GatewayPaymentID string `json:"gatewayPaymentId,omitempty"`
}

// Inquiry reports the local lifecycle state and the gateway's live status.
// The id can come from the JSON body or the optional URL parameter.
func (h *Handler) Inquiry(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, common.CodeNotConfigured, "payment handler unavailable", nil)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "paymentRequestId"))
	if id == "" {
		var req inquiryReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			common.JSONError(w, http.StatusBadRequest, common.CodeInvalidRequest, "invalid body", nil)
			return
		}
		id = strings.TrimSpace(req.PaymentRequestID)
	}
	if id == "" {
		common.JSONError(w, http.StatusBadRequest, common.CodeInvalidRequest, "paymentRequestId is required", nil)
		return
	}
	out, err := h.Svc.Inquiry(r.Context(), id)
	if err != nil {
		common.JSONAppError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, inquiryResp{
		PaymentRequestID: out.PaymentRequestID,
		State:            string(out.State),
		GatewayStatus:    string(out.GatewayStatus),
		GatewayPaymentID: out.GatewayPaymentID,
	})
}
