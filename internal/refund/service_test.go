package refund

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-refunds/internal/events"
	"github.com/noah-isme/toko-refunds/internal/lock"
	"github.com/noah-isme/toko-refunds/internal/obs"
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

type serviceFixture struct {
	svc    *Service
	store  *orderitem.Store
	issuer *MockIssuer
	events *events.MemoryStore
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	store := orderitem.NewStore()
	require.NoError(t, store.Load(context.Background(), orderitem.MockSource{}))
	issuer := &MockIssuer{}
	mem := events.NewMemoryStore(32)
	svc := &Service{
		Store:   store,
		Issuer:  issuer,
		Events:  &events.Bus{Store: mem},
		Metrics: obs.NewRefundMetrics("test", prometheus.NewRegistry()),
		Logger:  zerolog.Nop(),
	}
	return serviceFixture{svc: svc, store: store, issuer: issuer, events: mem}
}

func fullSubmission() Submission {
	return Submission{
		Requests: []Request{{ItemID: "item_1", BaseAmount: 7500, FeeRefunds: map[string]pricing.Money{"Tax": 575}}},
		Reason:   " damaged ",
	}
}

func TestServiceIssueAppliesApprovedRefund(t *testing.T) {
	f := newServiceFixture(t)
	before := f.store.Version()

	receipt, err := f.svc.Issue(context.Background(), fullSubmission())
	require.NoError(t, err)
	require.NotEmpty(t, receipt.RefundID)
	require.Equal(t, pricing.Money(8075), receipt.Total)
	require.Len(t, receipt.Items, 1)
	require.Equal(t, pricing.Money(0), receipt.Items[0].Amount)

	item, err := f.store.Get("item_1")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(8075), item.RefundedAmount)
	require.Equal(t, before+1, f.store.Version())

	issued := f.issuer.Issued()
	require.Len(t, issued, 1)
	require.Equal(t, "damaged", issued[0].Reason)
	require.Equal(t, receipt.RefundID, issued[0].RefundID)

	recent := f.events.Recent("", 10)
	require.Len(t, recent, 2)
	require.Equal(t, events.TopicRefundApplied, recent[0].Topic)
	require.Equal(t, events.TopicRefundIssued, recent[1].Topic)
	require.Equal(t, 1.0, testutil.ToFloat64(f.svc.Metrics.Submissions.WithLabelValues("mock", "success")))
	require.Equal(t, 8075.0, testutil.ToFloat64(f.svc.Metrics.RefundedMinor))
}

func TestServiceIssueValidationNeverReachesIssuer(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Issue(context.Background(), Submission{Requests: []Request{{ItemID: "item_1"}}})
	require.ErrorIs(t, err, ErrNonPositiveAmount)
	require.Empty(t, f.issuer.Issued())
	require.Equal(t, 1.0, testutil.ToFloat64(f.svc.Metrics.ValidationFailures.WithLabelValues(string(NonPositiveAmount))))

	_, err = f.svc.Issue(context.Background(), Submission{Requests: []Request{{ItemID: "missing", BaseAmount: 1}}})
	require.ErrorIs(t, err, orderitem.ErrNotFound)
}

func TestServiceIssueFailureLeavesStoreUntouched(t *testing.T) {
	f := newServiceFixture(t)
	f.issuer.FailNext(1)
	before := f.store.Version()

	_, err := f.svc.Issue(context.Background(), fullSubmission())
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Equal(t, before, f.store.Version())
	require.Equal(t, "SUBMISSION_FAILED", ToAppError(err).Code)

	recent := f.events.Recent("", 10)
	require.Len(t, recent, 1)
	require.Equal(t, events.TopicRefundFailed, recent[0].Topic)

	// retry after a failure is allowed
	_, err = f.svc.Issue(context.Background(), fullSubmission())
	require.NoError(t, err)
}

func TestServiceIssueRejectsDuplicateItems(t *testing.T) {
	f := newServiceFixture(t)
	sub := Submission{Requests: []Request{{ItemID: "item_2", BaseAmount: 100}, {ItemID: "item_2", BaseAmount: 100}}}
	_, err := f.svc.Issue(context.Background(), sub)
	appErr := ToAppError(err)
	require.Equal(t, "BAD_REQUEST", appErr.Code)
	require.Empty(t, f.issuer.Issued())
}

type blockingIssuer struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingIssuer) Issue(ctx context.Context, _ Payload) (Result, error) {
	close(b.started)
	<-b.release
	return Result{OK: true}, ctx.Err()
}

func TestServiceSingleSubmissionInFlight(t *testing.T) {
	f := newServiceFixture(t)
	blocker := &blockingIssuer{started: make(chan struct{}), release: make(chan struct{})}
	f.svc.Issuer = blocker

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Issue(ctx, fullSubmission())
		done <- err
	}()
	<-blocker.started

	_, err := f.svc.Issue(context.Background(), Submission{Requests: []Request{{ItemID: "item_1", BaseAmount: 100}}})
	require.ErrorIs(t, err, ErrSubmissionInFlight)

	// cancelling the caller does not abort a started submission
	cancel()
	close(blocker.release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not finish")
	}
	item, err := f.store.Get("item_1")
	require.NoError(t, err)
	require.Equal(t, pricing.Money(8075), item.RefundedAmount)
}

func TestServiceRedisLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newServiceFixture(t)
	f.svc.Locker = lock.Locker{R: client, Prefix: "refund:submit:"}
	f.svc.LockTTL = time.Second

	require.NoError(t, mr.Set("refund:submit:item_1", "other-instance"))
	_, err := f.svc.Issue(context.Background(), fullSubmission())
	require.True(t, errors.Is(err, ErrSubmissionInFlight))
	require.Empty(t, f.issuer.Issued())

	mr.Del("refund:submit:item_1")
	_, err = f.svc.Issue(context.Background(), fullSubmission())
	require.NoError(t, err)
	require.False(t, mr.Exists("refund:submit:item_1"))
}

func TestServiceQuote(t *testing.T) {
	f := newServiceFixture(t)
	item, q, err := f.svc.Quote(context.Background(), Request{ItemID: "item_2", BaseAmount: 2400})
	require.NoError(t, err)
	require.Equal(t, "item_2", item.ID)
	require.True(t, q.IsPartial)
	require.Equal(t, pricing.Money(2834), q.MaxRefundable)
}
