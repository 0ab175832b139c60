package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pay/internal/gateway"
	"github.com/noah-isme/backend-pay/internal/obs"
)

// Reconciler is the safety net for notifications lost in transit: it polls
// the gateway for payment requests stuck in CREATED beyond a timeout and
// applies authoritative results through the same transition rules as webhook
// deliveries.
type Reconciler struct {
	Store   Store
	Service *Service
	Gateway gateway.Client
	Batch   int
	Logger  zerolog.Logger
}

// Reconcile sweeps requests in CREATED older than the given age. It returns
// the ids it resolved. Requests still pending at the gateway, and requests
// whose inquiry failed or timed out, are left untouched for the next run.
func (r *Reconciler) Reconcile(ctx context.Context, olderThan time.Duration) ([]string, error) {
	if r == nil || r.Store == nil || r.Service == nil || r.Gateway == nil {
		return nil, errors.New("reconcile: reconciler not configured")
	}
	if obs.ReconcileRunsTotal != nil {
		obs.ReconcileRunsTotal.Inc()
	}
	cutoff := time.Now().Add(-olderThan)
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	pending, err := r.Store.ListCreatedBefore(ctx, cutoff, batch)
	if err != nil {
		return nil, err
	}

	var resolved []string
	for _, pr := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		result, err := r.Gateway.Inquiry(ctx, pr.PaymentRequestID)
		if err != nil {
			// Timeout or upstream error: outcome unknown, retry next sweep.
			r.Logger.Warn().Err(err).Str("payment_request_id", pr.PaymentRequestID).Msg("reconcile_inquiry_failed")
			continue
		}
		switch result.Status {
		case gateway.QuerySuccess, gateway.QueryFail:
			outcome, err := r.Service.ConfirmByQuery(ctx, pr.PaymentRequestID, string(result.Status), result.RawResponse)
			if err != nil {
				r.Logger.Error().Err(err).Str("payment_request_id", pr.PaymentRequestID).Msg("reconcile_confirm_failed")
				continue
			}
			if outcome == OutcomeApplied {
				resolved = append(resolved, pr.PaymentRequestID)
				if obs.ReconcileResolvedTotal != nil {
					obs.ReconcileResolvedTotal.Inc()
				}
			}
		default:
			// Still processing at the gateway; re-check on the next run.
		}
	}
	if len(resolved) > 0 {
		r.Logger.Info().Int("resolved", len(resolved)).Msg("reconcile_sweep")
	}
	return resolved, nil
}

// Run executes Reconcile on a fixed interval until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reconcile(ctx, olderThan); err != nil && !errors.Is(err, context.Canceled) {
				r.Logger.Error().Err(err).Msg("reconcile_run")
			}
		}
	}
}
