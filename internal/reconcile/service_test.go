package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pay/internal/lock"
	"github.com/noah-isme/backend-pay/internal/reconcile"
)

func newTestService(t *testing.T) (*reconcile.Service, *reconcile.MemoryStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := reconcile.NewMemoryStore()
	svc := &reconcile.Service{
		Store:  store,
		Locker: lock.Locker{R: client, RetryBackoff: time.Millisecond},
		Logger: zerolog.Nop(),
	}
	return svc, store
}

func registerRequest(t *testing.T, svc *reconcile.Service, id string) {
	t.Helper()
	err := svc.Register(context.Background(), reconcile.PaymentRequest{
		PaymentRequestID: id,
		OrderID:          "order-" + id,
		AmountMinor:      1234,
		Currency:         "USD",
	})
	require.NoError(t, err)
}

func TestApplyNotificationSuccess(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeApplied, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)
}

func TestApplyNotificationFailureCode(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "ORDER_IS_CLOSED", []byte(`{"result":{"resultCode":"ORDER_IS_CLOSED"}}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeApplied, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedFail, pr.State)
}

func TestApplyNotificationUnknownRequest(t *testing.T) {
	svc, store := newTestService(t)

	outcome, err := svc.ApplyNotification(context.Background(), "ghost", "SUCCESS", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeUnknownRequest, outcome)

	// Unknown notifications never create a request.
	_, err = store.GetPaymentRequest(context.Background(), "ghost")
	require.ErrorIs(t, err, reconcile.ErrNotFound)
}

func TestApplyNotificationIdempotent(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")
	body := []byte(`{"result":{"resultCode":"SUCCESS"}}`)

	first, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", body)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeApplied, first)

	second, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", body)
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeDuplicate, second)

	require.Equal(t, 1, store.NotificationCount("req-1"))
	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)
}

func TestConflictingNotificationRecordedNotApplied(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	_, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "FAIL", []byte(`{"result":{"resultCode":"FAIL"}}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeConflict, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)

	conflicts, err := store.ListConflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, "req-1", conflicts[0].PaymentRequestID)
	require.Equal(t, "FAIL", conflicts[0].ResultCode)
}

func TestSameTerminalOutcomeDifferentBodyIsDuplicate(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	_, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"seq":1,"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"seq":2,"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeDuplicate, outcome)

	conflicts, err := store.ListConflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestAgreeingQueryAfterWebhookIsDuplicate(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	_, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)

	outcome, err := svc.ConfirmByQuery(context.Background(), "req-1", "SUCCESS", []byte(`{"acquirementStatus":"SUCCESS"}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeDuplicate, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)

	conflicts, err := store.ListConflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestDisagreeingQueryAfterWebhookIsConflict(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	_, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)

	outcome, err := svc.ConfirmByQuery(context.Background(), "req-1", "FAIL", []byte(`{"acquirementStatus":"CLOSED"}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeConflict, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)

	conflicts, err := store.ListConflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, reconcile.SourceQuery, conflicts[0].Source)
}

func TestAgreeingWebhookAfterQueryConfirmIsDuplicate(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	_, err := svc.ConfirmByQuery(context.Background(), "req-1", "SUCCESS", []byte(`{"acquirementStatus":"SUCCESS"}`))
	require.NoError(t, err)

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeDuplicate, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateConfirmedByQuery, pr.State)

	conflicts, err := store.ListConflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestDisagreeingWebhookAfterQueryConfirmIsConflict(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")

	_, err := svc.ConfirmByQuery(context.Background(), "req-1", "FAIL", []byte(`{"acquirementStatus":"CLOSED"}`))
	require.NoError(t, err)

	outcome, err := svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", []byte(`{"result":{"resultCode":"SUCCESS"}}`))
	require.NoError(t, err)
	require.Equal(t, reconcile.OutcomeConflict, outcome)

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateConfirmedByQuery, pr.State)

	conflicts, err := store.ListConflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	require.Equal(t, reconcile.SourceWebhook, conflicts[0].Source)
}

func TestConcurrentDeliveriesApplyOnce(t *testing.T) {
	svc, store := newTestService(t)
	registerRequest(t, svc, "req-1")
	body := []byte(`{"result":{"resultCode":"SUCCESS"}}`)

	const workers = 100
	outcomes := make([]reconcile.Outcome, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = svc.ApplyNotification(context.Background(), "req-1", "SUCCESS", body)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		switch outcomes[i] {
		case reconcile.OutcomeApplied:
			applied++
		case reconcile.OutcomeDuplicate:
		default:
			t.Fatalf("unexpected outcome %s", outcomes[i])
		}
	}
	require.Equal(t, 1, applied, "exactly one delivery transitions state")
	require.Equal(t, 1, store.NotificationCount("req-1"))

	pr, err := store.GetPaymentRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, reconcile.StateNotifiedSuccess, pr.State)
}
