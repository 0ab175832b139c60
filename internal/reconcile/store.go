package reconcile

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a payment request id is unknown.
var ErrNotFound = errors.New("reconcile: payment request not found")

// ErrStaleState is returned by TransitionState when the request is no longer
// in the expected source state. Under the per-key lock this indicates a logic
// error rather than a race.
var ErrStaleState = errors.New("reconcile: stale state transition")

// Store persists payment requests and notification records. All mutating
// access goes through the Service, which serializes callers per payment
// request id; implementations only need atomicity inside TransitionState.
type Store interface {
	CreatePaymentRequest(ctx context.Context, pr PaymentRequest) error
	GetPaymentRequest(ctx context.Context, paymentRequestID string) (PaymentRequest, error)
	// ListCreatedBefore returns requests still in CREATED whose CreatedAt is
	// older than the cutoff, oldest first, up to limit.
	ListCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]PaymentRequest, error)
	HasNotification(ctx context.Context, paymentRequestID, bodyHash string) (bool, error)
	// SaveNotification records a notification without touching request state
	// (duplicate-of-terminal and conflicting deliveries are kept for review).
	SaveNotification(ctx context.Context, rec NotificationRecord) error
	// TransitionState persists the record and moves the request from the
	// expected state to the target state atomically.
	TransitionState(ctx context.Context, paymentRequestID string, from, to State, rec NotificationRecord) error
	// LastAppliedNotification returns the most recent non-conflicting record
	// for the request, i.e. the one whose result the current state reflects.
	// Returns ErrNotFound when no such record exists.
	LastAppliedNotification(ctx context.Context, paymentRequestID string) (NotificationRecord, error)
	// ListConflicts surfaces conflicting notifications for manual review.
	ListConflicts(ctx context.Context, limit int) ([]NotificationRecord, error)
}
