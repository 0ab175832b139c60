package reconcile

import "time"

// State is the lifecycle state of a payment request. Transitions are
// monotonic: once a terminal state is reached no further transition is
// permitted and CREATED is never re-entered.
type State string

const (
	StateCreated          State = "CREATED"
	StateNotifiedSuccess  State = "NOTIFIED_SUCCESS"
	StateNotifiedFail     State = "NOTIFIED_FAIL"
	StateConfirmedByQuery State = "CONFIRMED_BY_QUERY"
	StateSystemError      State = "SYSTEM_ERROR"
)

// Terminal reports whether no further transition is permitted from s.
func (s State) Terminal() bool {
	switch s {
	case StateNotifiedSuccess, StateNotifiedFail, StateConfirmedByQuery, StateSystemError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from one state to another is a valid
// forward move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	return to.Terminal()
}

// PaymentRequest is the locally owned record correlating merchant state with
// the gateway-side payment.
type PaymentRequest struct {
	PaymentRequestID string
	OrderID          string
	AmountMinor      int64
	Currency         string
	State            State
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Notification sources.
const (
	SourceWebhook = "webhook"
	SourceQuery   = "query"
)

// NotificationRecord fingerprints one applied (or conflicting) notification.
// At most one record per (PaymentRequestID, BodyHash) ever mutates state.
type NotificationRecord struct {
	PaymentRequestID string
	ResultCode       string
	BodyHash         string
	Source           string
	Conflict         bool
	ReceivedAt       time.Time
}
