package webhook

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/backend-pay/internal/gateway"
)

// Header names the gateway sets on every notification.
const (
	HeaderRequestTime = "request-time"
	HeaderClientID    = "client-id"
	HeaderSignature   = "signature"
)

var (
	// ErrInvalidSignature covers every authenticity failure: missing headers,
	// undecodable signatures and verification mismatches. The verifier fails
	// closed on all of them.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrStaleNotification is returned when the request-time falls outside the
	// replay tolerance window, regardless of signature validity.
	ErrStaleNotification = errors.New("webhook: stale notification")
)

// Headers carries the authentication headers of an inbound notification.
type Headers struct {
	RequestTime string
	ClientID    string
	Signature   string
}

// Verifier authenticates inbound gateway notifications.
type Verifier struct {
	ClientID  string
	PublicKey *rsa.PublicKey
	Tolerance time.Duration
	Now       func() time.Time
}

// Verify checks the signature over the canonical notification content and
// bounds replay exposure via the request-time tolerance window. A nil return
// means the notification is authentic and fresh.
func (v Verifier) Verify(method, path string, h Headers, body []byte) error {
	if v.PublicKey == nil {
		return fmt.Errorf("%w: verifier not configured", ErrInvalidSignature)
	}
	requestTime := strings.TrimSpace(h.RequestTime)
	clientID := strings.TrimSpace(h.ClientID)
	signature := strings.TrimSpace(h.Signature)
	if requestTime == "" || clientID == "" || signature == "" {
		return fmt.Errorf("%w: missing authentication header", ErrInvalidSignature)
	}
	if v.ClientID != "" && clientID != v.ClientID {
		return fmt.Errorf("%w: unexpected client id", ErrInvalidSignature)
	}

	sent, err := parseRequestTime(requestTime)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if v.now().Sub(sent) > v.tolerance() {
		return fmt.Errorf("%w: request-time %s outside tolerance", ErrStaleNotification, requestTime)
	}

	content := gateway.SignContent(method, path, clientID, requestTime, body)
	if err := gateway.VerifySignature(v.PublicKey, content, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v Verifier) tolerance() time.Duration {
	if v.Tolerance <= 0 {
		return 5 * time.Minute
	}
	return v.Tolerance
}

// parseRequestTime accepts epoch milliseconds or RFC3339 timestamps.
func parseRequestTime(value string) (time.Time, error) {
	if millis, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(millis), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unparsable request-time %q", value)
}
