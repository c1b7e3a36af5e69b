package refund

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/toko-refunds/internal/common"
	"github.com/noah-isme/toko-refunds/internal/events"
	"github.com/noah-isme/toko-refunds/internal/lock"
	"github.com/noah-isme/toko-refunds/internal/obs"
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// Locker guards an item against concurrent submissions across instances.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Submission is one confirmed refund action.
type Submission struct {
	Requests []Request
	Reason   string
	Notes    string
}

// Receipt describes an applied refund.
type Receipt struct {
	RefundID string
	Total    pricing.Money
	Quotes   map[string]Quote
	Items    []orderitem.OrderItem
}

// Service validates refunds, submits them to the issuer and applies approved
// results to the item store. It is the only writer of the store after load.
type Service struct {
	Store   *orderitem.Store
	Issuer  Issuer
	Events  *events.Bus
	Locker  Locker
	LockTTL time.Duration
	Metrics *obs.RefundMetrics
	Logger  zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

var issuedAmount, _ = otel.Meter("refund").Int64Counter(
	"refund.issued.amount",
	metric.WithDescription("Refunded amount applied to order items, in minor units."),
)

// Quote validates req against the current state of its item.
func (s *Service) Quote(ctx context.Context, req Request) (orderitem.OrderItem, Quote, error) {
	if s == nil || s.Store == nil {
		return orderitem.OrderItem{}, Quote{}, errors.New("refund service not configured")
	}
	item, err := s.Store.Get(req.ItemID)
	if err != nil {
		return orderitem.OrderItem{}, Quote{}, err
	}
	q, err := Validate(item, req)
	if err != nil {
		s.recordValidationFailure(err)
		return item, Quote{}, err
	}
	return item, q, nil
}

// Issue validates every request, submits the refund once and, on success,
// applies it to the store. Validation failures never reach the issuer.
// Submission errors wrap ErrSubmissionFailed and may be retried by the caller.
func (s *Service) Issue(ctx context.Context, sub Submission) (Receipt, error) {
	if s == nil || s.Store == nil || s.Issuer == nil {
		return Receipt{}, errors.New("refund service not configured")
	}
	ids, err := submissionItemIDs(sub)
	if err != nil {
		return Receipt{}, err
	}

	ctx, span := otel.Tracer("refund.Service").Start(ctx, "RefundService.Issue")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("refund.item_ids", ids))

	var receipt Receipt
	err = s.withItemLocks(ctx, ids, func(ctx context.Context) error {
		var runErr error
		receipt, runErr = s.issueLocked(ctx, sub)
		return runErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Receipt{}, err
	}
	span.SetAttributes(
		attribute.String("refund.id", receipt.RefundID),
		attribute.Int64("refund.total_minor", receipt.Total),
	)
	return receipt, nil
}

func (s *Service) issueLocked(ctx context.Context, sub Submission) (Receipt, error) {
	quotes := make(map[string]Quote, len(sub.Requests))
	var total pricing.Money
	for _, req := range sub.Requests {
		_, q, err := s.Quote(ctx, req)
		if err != nil {
			return Receipt{}, err
		}
		quotes[req.ItemID] = q
		total += q.Total
	}

	refundID := uuid.NewString()
	payload := NewPayload(refundID, sub.Requests, strings.TrimSpace(sub.Reason), strings.TrimSpace(sub.Notes))
	logger := s.loggerFor(ctx).With().Str("refund_id", refundID).Logger()
	issuer := issuerName(s.Issuer)

	// the issuer call cannot be cancelled once started
	start := time.Now()
	res, err := s.Issuer.Issue(context.WithoutCancel(ctx), payload)
	if err == nil && !res.OK {
		err = errors.New("issuer reported failure")
	}
	s.observeSubmit(issuer, err, time.Since(start))
	if err != nil {
		logger.Warn().Err(err).Str("issuer", issuer).Msg("refund_submission_failed")
		s.emit(ctx, events.TopicRefundFailed, refundID, map[string]any{
			"refundId": refundID,
			"items":    payload.Items,
			"error":    err.Error(),
		})
		return Receipt{}, fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}

	approved := payload.Approvals()
	var updated []orderitem.OrderItem
	err = s.Store.Update(func(items []orderitem.OrderItem) ([]orderitem.OrderItem, error) {
		if missing := Unmatched(items, approved); len(missing) > 0 {
			logger.Debug().Strs("item_ids", missing).Msg("refund_unmatched_items")
		}
		next := Apply(items, approved)
		updated = pick(next, approved)
		return next, nil
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("refund: apply approved refund: %w", err)
	}

	if s.Metrics != nil {
		s.Metrics.RefundedMinor.Add(float64(total))
	}
	if issuedAmount != nil {
		issuedAmount.Add(ctx, total, metric.WithAttributes(attribute.String("issuer", issuer)))
	}
	actor, _ := common.ActorID(ctx)
	logger.Info().Int64("total_minor", total).Int("items", len(approved)).Str("actor_id", actor).Msg("refund_issued")
	s.emit(ctx, events.TopicRefundIssued, refundID, map[string]any{
		"refundId": refundID,
		"items":    payload.Items,
		"total":    pricing.Amount(total),
		"reason":   payload.Reason,
		"notes":    payload.Notes,
		"actor":    actor,
	})
	for _, it := range updated {
		s.emit(ctx, events.TopicRefundApplied, it.ID, map[string]any{
			"refundId":       refundID,
			"amount":         pricing.Amount(it.Amount),
			"refundedAmount": pricing.Amount(it.RefundedAmount),
		})
	}
	return Receipt{RefundID: refundID, Total: total, Quotes: quotes, Items: updated}, nil
}

// withItemLocks takes the in-process guard and, when configured, the
// distributed lock for every id before running fn.
func (s *Service) withItemLocks(ctx context.Context, ids []string, fn func(context.Context) error) error {
	if !s.claim(ids) {
		return ErrSubmissionInFlight
	}
	defer s.unclaim(ids)
	if s.Locker == nil {
		return fn(ctx)
	}
	return s.lockEach(ctx, ids, fn)
}

func (s *Service) lockEach(ctx context.Context, ids []string, fn func(context.Context) error) error {
	if len(ids) == 0 {
		return fn(ctx)
	}
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	err := s.Locker.TryWithLock(ctx, ids[0], ttl, func(ctx context.Context) error {
		return s.lockEach(ctx, ids[1:], fn)
	})
	if errors.Is(err, lock.ErrLocked) {
		return ErrSubmissionInFlight
	}
	return err
}

func (s *Service) claim(ids []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight == nil {
		s.inflight = make(map[string]struct{})
	}
	for _, id := range ids {
		if _, busy := s.inflight[id]; busy {
			return false
		}
	}
	for _, id := range ids {
		s.inflight[id] = struct{}{}
	}
	return true
}

func (s *Service) unclaim(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.inflight, id)
	}
}

func (s *Service) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		s.loggerFor(ctx).Error().Err(err).Str("topic", topic).Msg("emit_event")
	}
}

func (s *Service) recordValidationFailure(err error) {
	var verr *ValidationError
	if s.Metrics == nil || !errors.As(err, &verr) {
		return
	}
	s.Metrics.ValidationFailures.WithLabelValues(string(verr.Reason)).Inc()
}

func (s *Service) observeSubmit(issuer string, err error, d time.Duration) {
	if s.Metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	s.Metrics.Submissions.WithLabelValues(issuer, result).Inc()
	s.Metrics.SubmitLatency.WithLabelValues(issuer, result).Observe(obs.DurationMillis(d))
}

func (s *Service) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.Logger
}

func submissionItemIDs(sub Submission) ([]string, error) {
	if len(sub.Requests) == 0 {
		return nil, common.NewAppError("BAD_REQUEST", "at least one item is required", http.StatusBadRequest, nil)
	}
	seen := make(map[string]struct{}, len(sub.Requests))
	ids := make([]string, 0, len(sub.Requests))
	for _, r := range sub.Requests {
		id := strings.TrimSpace(r.ItemID)
		if id == "" {
			return nil, common.NewAppError("BAD_REQUEST", "item id is required", http.StatusBadRequest, nil)
		}
		if _, dup := seen[id]; dup {
			return nil, common.NewAppError("BAD_REQUEST", "each item may appear once per refund", http.StatusBadRequest, nil).
				WithDetails(map[string]any{"itemId": id})
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func pick(items []orderitem.OrderItem, approved []Approved) []orderitem.OrderItem {
	want := make(map[string]struct{}, len(approved))
	for _, a := range approved {
		want[a.ItemID] = struct{}{}
	}
	var out []orderitem.OrderItem
	for _, it := range items {
		if _, ok := want[it.ID]; ok {
			out = append(out, it.Clone())
		}
	}
	return out
}
