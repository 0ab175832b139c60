package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pay/internal/common"
	"github.com/noah-isme/backend-pay/internal/lock"
	"github.com/noah-isme/backend-pay/internal/obs"
)

// Outcome tags the result of applying one notification delivery.
type Outcome string

const (
	// OutcomeApplied means the notification transitioned request state.
	OutcomeApplied Outcome = "APPLIED"
	// OutcomeDuplicate means an identical delivery was already applied; the
	// caller should still answer success so the gateway stops retrying.
	OutcomeDuplicate Outcome = "DUPLICATE_IGNORED"
	// OutcomeConflict means the delivery announces a different payment outcome
	// than the one already recorded. It is kept for review and never mutates
	// state.
	OutcomeConflict Outcome = "CONFLICTING_NOTIFICATION"
	// OutcomeUnknownRequest means the id does not reference a request this
	// system created.
	OutcomeUnknownRequest Outcome = "UNKNOWN_PAYMENT_REQUEST"
)

// Service owns every mutation of PaymentRequest state. The webhook handler
// and the reconciler are producers of candidate transitions; they never touch
// the store directly for writes.
type Service struct {
	Store   Store
	Locker  lock.Locker
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Register persists a freshly created payment request in CREATED state.
func (s *Service) Register(ctx context.Context, pr PaymentRequest) error {
	if s == nil || s.Store == nil {
		return errors.New("reconcile: service not configured")
	}
	now := time.Now()
	if pr.CreatedAt.IsZero() {
		pr.CreatedAt = now
	}
	pr.UpdatedAt = pr.CreatedAt
	pr.State = StateCreated
	return s.Store.CreatePaymentRequest(ctx, pr)
}

// ApplyNotification applies one verified webhook delivery. The whole
// lookup-check-mutate sequence runs under the per-request lock so concurrent
// deliveries of the same notification cannot race past the duplicate check.
func (s *Service) ApplyNotification(ctx context.Context, paymentRequestID, resultCode string, rawBody []byte) (Outcome, error) {
	target := StateNotifiedFail
	if successCode(resultCode) {
		target = StateNotifiedSuccess
	}
	rec := NotificationRecord{
		PaymentRequestID: paymentRequestID,
		ResultCode:       resultCode,
		BodyHash:         common.Sha256Hex(rawBody),
		Source:           SourceWebhook,
		ReceivedAt:       time.Now(),
	}
	return s.apply(ctx, paymentRequestID, target, rec)
}

// ConfirmByQuery applies an authoritative inquiry result obtained by the
// reconciliation fallback. The resulting state is CONFIRMED_BY_QUERY to
// distinguish provenance from webhook-driven transitions.
func (s *Service) ConfirmByQuery(ctx context.Context, paymentRequestID, resultCode string, rawResponse []byte) (Outcome, error) {
	rec := NotificationRecord{
		PaymentRequestID: paymentRequestID,
		ResultCode:       resultCode,
		BodyHash:         "query:" + common.Sha256Hex(rawResponse),
		Source:           SourceQuery,
		ReceivedAt:       time.Now(),
	}
	return s.apply(ctx, paymentRequestID, StateConfirmedByQuery, rec)
}

func (s *Service) apply(ctx context.Context, id string, target State, rec NotificationRecord) (Outcome, error) {
	if s == nil || s.Store == nil {
		return "", errors.New("reconcile: service not configured")
	}
	ctx, span := otel.Tracer("reconcile.Service").Start(ctx, "Service.apply")
	defer span.End()

	var outcome Outcome
	defer func() {
		span.SetAttributes(
			attribute.String("payment.request_id", id),
			attribute.String("payment.outcome", string(outcome)),
		)
		if outcome != "" && obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(string(outcome)).Inc()
		}
	}()

	err := s.Locker.WithLock(ctx, s.Locker.PaymentKey(id), s.lockTTL(), func(ctx context.Context) error {
		var err error
		outcome, err = s.applyLocked(ctx, id, target, rec)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return outcome, nil
}

func (s *Service) applyLocked(ctx context.Context, id string, target State, rec NotificationRecord) (Outcome, error) {
	pr, err := s.Store.GetPaymentRequest(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// A notification must reference a request this system created.
			return OutcomeUnknownRequest, nil
		}
		return "", err
	}

	seen, err := s.Store.HasNotification(ctx, id, rec.BodyHash)
	if err != nil {
		return "", err
	}
	if seen {
		return OutcomeDuplicate, nil
	}

	if pr.State.Terminal() {
		agree, err := s.outcomesAgree(ctx, pr, rec)
		if err != nil {
			return "", err
		}
		if agree {
			// Same payment outcome delivered again, possibly from the other
			// source or with a different body; keep the record for audit but
			// the state already reflects it.
			if err := s.Store.SaveNotification(ctx, rec); err != nil {
				return "", err
			}
			return OutcomeDuplicate, nil
		}
		rec.Conflict = true
		if err := s.Store.SaveNotification(ctx, rec); err != nil {
			return "", err
		}
		if obs.ConflictingNotifyTotal != nil {
			obs.ConflictingNotifyTotal.Inc()
		}
		s.Logger.Warn().
			Str("payment_request_id", id).
			Str("state", string(pr.State)).
			Str("result_code", rec.ResultCode).
			Str("source", rec.Source).
			Msg("conflicting_notification")
		return OutcomeConflict, nil
	}

	if !CanTransition(pr.State, target) {
		return "", ErrStaleState
	}
	if err := s.Store.TransitionState(ctx, id, pr.State, target, rec); err != nil {
		return "", err
	}
	s.Logger.Info().
		Str("payment_request_id", id).
		Str("from", string(pr.State)).
		Str("to", string(target)).
		Str("source", rec.Source).
		Msg("payment_state_transition")
	return OutcomeApplied, nil
}

// outcomesAgree reports whether the incoming record announces the same payment
// outcome the stored terminal state already reflects. States carry the outcome
// directly except CONFIRMED_BY_QUERY, which is resolved through the record that
// produced it.
func (s *Service) outcomesAgree(ctx context.Context, pr PaymentRequest, rec NotificationRecord) (bool, error) {
	switch pr.State {
	case StateNotifiedSuccess:
		return successCode(rec.ResultCode), nil
	case StateNotifiedFail:
		return !successCode(rec.ResultCode), nil
	case StateConfirmedByQuery:
		last, err := s.Store.LastAppliedNotification(ctx, pr.PaymentRequestID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		return successCode(last.ResultCode) == successCode(rec.ResultCode), nil
	default:
		return false, nil
	}
}

// successCode reports whether a gateway result code announces a successful
// payment.
func successCode(code string) bool {
	return strings.EqualFold(strings.TrimSpace(code), "SUCCESS")
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}
