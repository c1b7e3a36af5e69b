package refund

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// FeeLine is one fee refund on the wire.
type FeeLine struct {
	Type   string         `json:"type"`
	Amount pricing.Amount `json:"amount"`
}

// PayloadItem is one item refund on the wire.
type PayloadItem struct {
	ID         string         `json:"id"`
	Amount     pricing.Amount `json:"amount"`
	FeeRefunds []FeeLine      `json:"feeRefunds"`
}

// Payload is the body sent to the refund-issuing service.
type Payload struct {
	RefundID string        `json:"-"`
	Items    []PayloadItem `json:"items"`
	Reason   string        `json:"reason"`
	Notes    string        `json:"notes"`
}

// Result is the refund-issuing service's answer; only OK is interpreted.
type Result struct {
	OK bool
}

// Issuer submits refunds to the external refund-issuing service.
type Issuer interface {
	Issue(ctx context.Context, p Payload) (Result, error)
}

// NewPayload converts validated requests into the wire payload. Fee lines are
// ordered by fee type so the body is deterministic.
func NewPayload(refundID string, reqs []Request, reason, notes string) Payload {
	items := make([]PayloadItem, 0, len(reqs))
	for _, r := range reqs {
		fees := make([]FeeLine, 0, len(r.FeeRefunds))
		for _, feeType := range sortedFeeTypes(r.FeeRefunds) {
			fees = append(fees, FeeLine{Type: feeType, Amount: pricing.Amount(r.FeeRefunds[feeType])})
		}
		items = append(items, PayloadItem{ID: r.ItemID, Amount: pricing.Amount(r.BaseAmount), FeeRefunds: fees})
	}
	return Payload{RefundID: refundID, Items: items, Reason: reason, Notes: notes}
}

// Approvals converts the payload back into approved refunds for local application.
func (p Payload) Approvals() []Approved {
	out := make([]Approved, 0, len(p.Items))
	for _, it := range p.Items {
		fees := make(map[string]pricing.Money, len(it.FeeRefunds))
		for _, f := range it.FeeRefunds {
			fees[f.Type] += f.Amount.Money()
		}
		out = append(out, Approved{ItemID: it.ID, BaseAmount: it.Amount.Money(), FeeRefunds: fees})
	}
	return out
}

// ErrMockRejected is returned by MockIssuer when it is told to fail.
var ErrMockRejected = errors.New("refund: mock issuer rejected refund")

// MockIssuer stands in for the refund-issuing service.
type MockIssuer struct {
	Latency time.Duration

	mu         sync.Mutex
	failNext   int
	alwaysFail bool
	issued     []Payload
}

// FailNext makes the next n calls fail.
func (m *MockIssuer) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// SetAlwaysFail toggles permanent failure.
func (m *MockIssuer) SetAlwaysFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alwaysFail = v
}

// Issued returns the payloads accepted so far.
func (m *MockIssuer) Issued() []Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Payload(nil), m.issued...)
}

// Issue waits for the configured latency and then accepts or rejects p.
func (m *MockIssuer) Issue(ctx context.Context, p Payload) (Result, error) {
	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alwaysFail {
		return Result{}, ErrMockRejected
	}
	if m.failNext > 0 {
		m.failNext--
		return Result{}, ErrMockRejected
	}
	m.issued = append(m.issued, p)
	return Result{OK: true}, nil
}

// Name is used as the issuer metric label.
func (m *MockIssuer) Name() string { return "mock" }

func issuerName(i Issuer) string {
	if named, ok := i.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "unknown"
}

