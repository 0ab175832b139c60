package gateway

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pay/internal/obs"
	"github.com/noah-isme/backend-pay/internal/resilience"
)

// AntomConfig carries credentials and transport settings for the live client.
type AntomConfig struct {
	BaseURL         string
	ClientID        string
	MerchantPrivKey string
	NotifyURL       string
	RedirectURL     string
	Timeout         time.Duration
	MaxAttempts     int
	RetryBase       time.Duration
	Logger          zerolog.Logger
}

// AntomClient talks to an Antom-style gateway over signed HTTPS calls.
type AntomClient struct {
	baseURL     string
	clientID    string
	privKey     *rsa.PrivateKey
	notifyURL   string
	redirectURL string
	http        resilience.HTTPClient
	logger      zerolog.Logger
}

// NewAntomClient parses the merchant key and wires the resilient transport.
func NewAntomClient(cfg AntomConfig) (*AntomClient, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("gateway: client id is required")
	}
	priv, err := ParsePrivateKey(cfg.MerchantPrivKey)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AntomClient{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		clientID:    cfg.ClientID,
		privKey:     priv,
		notifyURL:   cfg.NotifyURL,
		redirectURL: cfg.RedirectURL,
		http: resilience.HTTPClient{
			Client:      &http.Client{},
			Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("antom").WithLogger(cfg.Logger),
			BaseBackoff: cfg.RetryBase,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      0.2,
			Timeout:     timeout,
		},
		logger: cfg.Logger,
	}, nil
}

type amountBody struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

type resultBody struct {
	ResultCode    string `json:"resultCode"`
	ResultStatus  string `json:"resultStatus"`
	ResultMessage string `json:"resultMessage"`
}

// Pay opens a cashier payment at the gateway.
func (c *AntomClient) Pay(ctx context.Context, req PayRequest) (PayResponse, error) {
	body := map[string]any{
		"productCode":      "CASHIER_PAYMENT",
		"paymentRequestId": req.PaymentRequestID,
		"paymentAmount":    amountBody{Currency: req.Currency, Value: strconv.FormatInt(req.AmountMinor, 10)},
		"paymentMethod":    map[string]any{"paymentMethodType": req.PaymentMethodType},
		"order": map[string]any{
			"referenceOrderId": req.OrderID,
			"orderDescription": "order " + req.OrderID,
			"orderAmount":      amountBody{Currency: req.Currency, Value: strconv.FormatInt(req.AmountMinor, 10)},
			"buyer":            map[string]any{"referenceBuyerId": req.BuyerID},
		},
		"paymentNotifyUrl":   c.notifyURL,
		"paymentRedirectUrl": c.redirectURL,
	}
	env := map[string]any{"terminalType": defaultString(req.TerminalType, "WEB")}
	if req.OsType != "" {
		env["osType"] = req.OsType
	}
	body["env"] = env
	if strings.EqualFold(req.PaymentMethodType, "CARD") {
		body["paymentFactor"] = map[string]any{"isAuthorization": true}
	}

	raw, err := c.post(ctx, "pay", PathPay, body)
	if err != nil {
		return PayResponse{}, err
	}
	var parsed struct {
		Result    resultBody `json:"result"`
		PaymentID string     `json:"paymentId"`
		NormalURL string     `json:"normalUrl"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return PayResponse{}, fmt.Errorf("%w: undecodable pay response: %v", ErrUpstream, err)
	}
	resp := PayResponse{
		ResultCode:         parsed.Result.ResultCode,
		ResultStatus:       parsed.Result.ResultStatus,
		ResultMessage:      parsed.Result.ResultMessage,
		PaymentID:          parsed.PaymentID,
		NormalURL:          parsed.NormalURL,
		PaymentRawResponse: raw,
	}
	if parsed.Result.ResultStatus == "F" {
		return resp, fmt.Errorf("%w: %s %s", ErrUpstream, parsed.Result.ResultCode, parsed.Result.ResultMessage)
	}
	return resp, nil
}

// Inquiry queries the authoritative payment status.
func (c *AntomClient) Inquiry(ctx context.Context, paymentRequestID string) (QueryResult, error) {
	raw, err := c.post(ctx, "inquiry", PathInquiry, map[string]any{"paymentRequestId": paymentRequestID})
	if err != nil {
		return QueryResult{}, err
	}
	var parsed struct {
		Result        resultBody `json:"result"`
		PaymentID     string     `json:"paymentId"`
		PaymentStatus string     `json:"paymentStatus"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return QueryResult{}, fmt.Errorf("%w: undecodable inquiry response: %v", ErrUpstream, err)
	}
	if parsed.Result.ResultStatus == "F" {
		return QueryResult{}, fmt.Errorf("%w: %s %s", ErrUpstream, parsed.Result.ResultCode, parsed.Result.ResultMessage)
	}
	return QueryResult{
		Status:      normaliseQueryStatus(parsed.PaymentStatus),
		ResultCode:  parsed.Result.ResultCode,
		PaymentID:   parsed.PaymentID,
		RawResponse: raw,
	}, nil
}

func (c *AntomClient) post(ctx context.Context, operation, path string, body any) ([]byte, error) {
	tracer := otel.Tracer("gateway.AntomClient")
	ctx, span := tracer.Start(ctx, "AntomClient."+operation)
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("gateway.operation", operation),
			attribute.String("gateway.result", result),
		)
		if obs.GatewayCallLatency != nil {
			obs.GatewayCallLatency.WithLabelValues(operation, result).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	requestTime := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature, err := Sign(c.privKey, SignContent(http.MethodPost, path, c.clientID, requestTime, payload))
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("client-id", c.clientID)
	req.Header.Set("request-time", requestTime)
	req.Header.Set("signature", signature)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, resilience.ErrOpenCircuit) {
			result = "timeout"
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, operation, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUpstream, operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrUpstream, operation, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: %s returned %s", ErrUpstream, operation, resp.Status)
	}
	result = "success"
	c.logger.Debug().Str("operation", operation).Int("status", resp.StatusCode).Msg("gateway_call")
	return raw, nil
}

func normaliseQueryStatus(status string) QueryStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS":
		return QuerySuccess
	case "FAIL", "CANCELLED", "EXPIRED":
		return QueryFail
	case "PROCESSING", "PENDING":
		return QueryProcessing
	default:
		return QueryUnknown
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
