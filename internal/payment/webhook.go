package payment

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pay/internal/common"
	"github.com/noah-isme/backend-pay/internal/reconcile"
	"github.com/noah-isme/backend-pay/internal/webhook"
)

// notifyBody is the subset of the gateway notification we act on. The raw
// body, not this struct, is what gets hashed and signature-checked.
type notifyBody struct {
	PaymentRequestID string `json:"paymentRequestId"`
	Result           struct {
		ResultCode    string `json:"resultCode"`
		ResultStatus  string `json:"resultStatus"`
		ResultMessage string `json:"resultMessage"`
	} `json:"result"`
	NotifyType string `json:"notifyType"`
}

type notifyAck struct {
	Result struct {
		ResultCode    string `json:"resultCode"`
		ResultStatus  string `json:"resultStatus"`
		ResultMessage string `json:"resultMessage"`
	} `json:"result"`
}

// WebhookHandler receives gateway payment notifications. It always answers
// HTTP 200; the gateway reads success or failure from the result envelope and
// retries anything that is not resultStatus "S".
type WebhookHandler struct {
	Verifier  webhook.Verifier
	Reconcile *reconcile.Service
	Logger    zerolog.Logger
	MaxBody   int64
}

// Receive verifies and applies one notification delivery.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Reconcile == nil {
		ack(w, "SYSTEM_ERROR", "F", "handler unavailable")
		return
	}
	maxBody := h.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		ack(w, "SYSTEM_ERROR", "F", "read body")
		return
	}

	headers := webhook.Headers{
		RequestTime: r.Header.Get(webhook.HeaderRequestTime),
		ClientID:    r.Header.Get(webhook.HeaderClientID),
		Signature:   r.Header.Get(webhook.HeaderSignature),
	}
	if err := h.Verifier.Verify(r.Method, r.URL.Path, headers, body); err != nil {
		h.Logger.Warn().
			Err(err).
			Str("remote", common.ClientIP(r)).
			Msg("webhook_rejected")
		if errors.Is(err, webhook.ErrStaleNotification) {
			ack(w, "FAIL", "F", "notification expired")
			return
		}
		ack(w, "FAIL", "F", "signature verification failed")
		return
	}

	var n notifyBody
	if err := json.Unmarshal(body, &n); err != nil || strings.TrimSpace(n.PaymentRequestID) == "" {
		ack(w, "FAIL", "F", "malformed notification")
		return
	}

	outcome, err := h.Reconcile.ApplyNotification(r.Context(), n.PaymentRequestID, n.Result.ResultCode, body)
	if err != nil {
		// Transient failure on our side; a FAIL ack would stop retries, so
		// report a system error and let the gateway redeliver.
		h.Logger.Error().
			Err(err).
			Str("payment_request_id", n.PaymentRequestID).
			Msg("webhook_apply_failed")
		ack(w, "SYSTEM_ERROR", "F", "processing failed")
		return
	}

	switch outcome {
	case reconcile.OutcomeApplied, reconcile.OutcomeDuplicate, reconcile.OutcomeConflict:
		// Conflicts are recorded for review; acknowledging stops a retry storm
		// that could never change the terminal state anyway.
		ack(w, "SUCCESS", "S", "success")
	case reconcile.OutcomeUnknownRequest:
		ack(w, "FAIL", "F", "unknown payment request")
	default:
		ack(w, "SYSTEM_ERROR", "F", "unexpected outcome")
	}
}

func ack(w http.ResponseWriter, code, status, msg string) {
	var body notifyAck
	body.Result.ResultCode = code
	body.Result.ResultStatus = status
	body.Result.ResultMessage = msg
	common.JSON(w, http.StatusOK, body)
}
