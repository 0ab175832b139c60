package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pay/internal/gateway"
	"github.com/noah-isme/backend-pay/internal/reconcile"
)

type stubGateway struct {
	statuses map[string]gateway.QueryStatus
	errs     map[string]error
	calls    []string
}

func (g *stubGateway) Pay(context.Context, gateway.PayRequest) (gateway.PayResponse, error) {
	return gateway.PayResponse{}, errors.New("not implemented")
}

func (g *stubGateway) Inquiry(_ context.Context, id string) (gateway.QueryResult, error) {
	g.calls = append(g.calls, id)
	if err, ok := g.errs[id]; ok {
		return gateway.QueryResult{}, err
	}
	status, ok := g.statuses[id]
	if !ok {
		status = gateway.QueryUnknown
	}
	return gateway.QueryResult{Status: status, ResultCode: string(status), RawResponse: []byte(`{"paymentStatus":"` + string(status) + `"}`)}, nil
}

func newTestReconciler(t *testing.T, gw gateway.Client) (*reconcile.Reconciler, *reconcile.Service, *reconcile.MemoryStore) {
	t.Helper()
	svc, store := newTestService(t)
	rec := &reconcile.Reconciler{
		Store:   store,
		Service: svc,
		Gateway: gw,
		Logger:  zerolog.Nop(),
	}
	return rec, svc, store
}

func registerAged(t *testing.T, svc *reconcile.Service, id string, age time.Duration) {
	t.Helper()
	err := svc.Register(context.Background(), reconcile.PaymentRequest{
		PaymentRequestID: id,
		OrderID:          "order-" + id,
		AmountMinor:      1000,
		Currency:         "USD",
		CreatedAt:        time.Now().Add(-age),
	})
	require.NoError(t, err)
}

func TestReconcileResolvesStuckRequests(t *testing.T) {
	gw := &stubGateway{statuses: map[string]gateway.QueryStatus{
		"req-success": gateway.QuerySuccess,
		"req-fail":    gateway.QueryFail,
		"req-pending": gateway.QueryProcessing,
	}}
	rec, _, store := newTestReconciler(t, gw)

	registerAged(t, rec.Service, "req-success", time.Hour)
	registerAged(t, rec.Service, "req-fail", time.Hour)
	registerAged(t, rec.Service, "req-pending", time.Hour)
	registerAged(t, rec.Service, "req-fresh", time.Second)

	resolved, err := rec.Reconcile(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"req-success", "req-fail"}, resolved)
	require.NotContains(t, gw.calls, "req-fresh", "fresh requests are not queried")

	for _, id := range []string{"req-success", "req-fail"} {
		pr, err := store.GetPaymentRequest(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, reconcile.StateConfirmedByQuery, pr.State)
	}
	pr, err := store.GetPaymentRequest(context.Background(), "req-pending")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateCreated, pr.State, "pending stays eligible for the next sweep")
}

func TestReconcileLeavesRequestOnGatewayError(t *testing.T) {
	gw := &stubGateway{errs: map[string]error{"req-1": gateway.ErrTimeout}}
	rec, _, store := newTestReconciler(t, gw)
	registerAged(t, rec.Service, "req-1", time.Hour)

	resolved, err := rec.Reconcile(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, resolved)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateCreated, pr.State)
}

func TestReconcileSkipsAlreadyNotified(t *testing.T) {
	gw := &stubGateway{statuses: map[string]gateway.QueryStatus{"req-1": gateway.QuerySuccess}}
	rec, svc, _ := newTestReconciler(t, gw)
	registerAged(t, svc, "req-1", time.Hour)

	_, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)

	resolved, err := rec.Reconcile(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, resolved)
	require.Empty(t, gw.calls, "terminal requests are not queried")
}

// End-to-end scenario: checkout, webhook, replay, then a reconciliation sweep
// that finds nothing left to do.
func TestCheckoutWebhookReplayReconcileScenario(t *testing.T) {
	gw := &stubGateway{statuses: map[string]gateway.QueryStatus{}}
	rec, svc, store := newTestReconciler(t, gw)

	registerAged(t, svc, "req-1", 15*time.Minute)
	body := []byte(`{"result":{"resultCode":"SUCCESS"},"paymentRequestId":"req-1"}`)

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", body)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeApplied, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)

	replay, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", body)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeDuplicate, replay)

	resolved, err := rec.Reconcile(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Empty(t, resolved)
	require.Empty(t, gw.calls, "no CREATED entries left to query")
}
