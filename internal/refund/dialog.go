package refund

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// State is a confirmation dialog state.
type State int

const (
	Idle State = iota
	Editing
	Validating
	Submitting
	Applied
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Editing:
		return "editing"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Applied:
		return "applied"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets State render as its name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// DefaultNoticeTTL is how long the confirmation notice stays visible.
const DefaultNoticeTTL = 4 * time.Second

// Submitter issues a confirmed refund. *Service implements it.
type Submitter interface {
	Issue(ctx context.Context, sub Submission) (Receipt, error)
}

// Notice is the transient confirmation shown after a refund was applied.
type Notice struct {
	Message   string
	ExpiresAt time.Time
}

// DialogView is a point-in-time snapshot of a dialog.
type DialogView struct {
	ID            string
	State         State
	Item          orderitem.OrderItem
	BaseAmount    pricing.Money
	FeeRefunds    map[string]pricing.Money
	Reason        string
	Notes         string
	Quote         Quote
	Err           error
	ErrorMessage  string
	Notice        *Notice
	LastRefundID  string
	MaxRefundable pricing.Money
}

// Dialog drives one item's refund confirmation. Amount edits are clamped and
// revalidated synchronously; Confirm submits at most once at a time.
type Dialog struct {
	ID        string
	NoticeTTL time.Duration
	Formatter pricing.Formatter
	// OnTransition observes every state change.
	OnTransition func(from, to State)

	mu         sync.Mutex
	state      State
	item       orderitem.OrderItem
	base       pricing.Money
	fees       map[string]pricing.Money
	reason     string
	notes      string
	quote      Quote
	invalid    error
	failure    error
	notice     *Notice
	refundID   string
	now        func() time.Time
	lastActive time.Time
}

// NewDialog returns an idle dialog.
func NewDialog(id string) *Dialog {
	d := &Dialog{ID: id, NoticeTTL: DefaultNoticeTTL, now: time.Now}
	d.lastActive = d.now()
	return d
}

// Open loads item into the dialog with the default refund amounts: the
// outstanding base and each fee's default, clamped to its cap.
func (d *Dialog) Open(item orderitem.OrderItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Submitting {
		return ErrSubmissionInFlight
	}
	d.item = item.Clone()
	d.base = item.Amount - item.RefundedAmount
	if d.base < 0 {
		d.base = 0
	}
	d.fees = make(map[string]pricing.Money, len(item.Fees))
	for _, f := range item.Fees {
		d.fees[f.Type] = ClampFee(f, f.RefundableDefault)
	}
	d.reason, d.notes = "", ""
	d.failure = nil
	d.notice = nil
	d.refundID = ""
	d.transitionLocked(Editing)
	d.revalidateLocked()
	return nil
}

// SetBaseAmount edits the base refund; v is clamped into [0, max refundable].
func (d *Dialog) SetBaseAmount(v pricing.Money) (DialogView, error) {
	return d.edit(func() error {
		d.base = ClampBase(d.item, v)
		return nil
	})
}

// SetFeeAmount edits one fee refund; v is clamped into [0, fee cap].
func (d *Dialog) SetFeeAmount(feeType string, v pricing.Money) (DialogView, error) {
	return d.edit(func() error {
		fee, ok := d.item.Fee(feeType)
		if !ok {
			return &ValidationError{Reason: UnknownFee, FeeType: feeType}
		}
		d.fees[feeType] = ClampFee(fee, v)
		return nil
	})
}

// SetReason edits the free-text reason.
func (d *Dialog) SetReason(reason string) (DialogView, error) {
	return d.edit(func() error {
		d.reason = strings.TrimSpace(reason)
		return nil
	})
}

// SetNotes edits the free-text notes.
func (d *Dialog) SetNotes(notes string) (DialogView, error) {
	return d.edit(func() error {
		d.notes = strings.TrimSpace(notes)
		return nil
	})
}

func (d *Dialog) edit(fn func() error) (DialogView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Submitting:
		return d.viewLocked(), ErrSubmissionInFlight
	case Editing:
	default:
		return d.viewLocked(), ErrInvalidState
	}
	if err := fn(); err != nil {
		return d.viewLocked(), err
	}
	d.failure = nil
	d.revalidateLocked()
	return d.viewLocked(), nil
}

// Request is the refund the dialog would submit right now.
func (d *Dialog) Request() Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requestLocked()
}

func (d *Dialog) requestLocked() Request {
	fees := make(map[string]pricing.Money, len(d.fees))
	for k, v := range d.fees {
		fees[k] = v
	}
	return Request{ItemID: d.item.ID, BaseAmount: d.base, FeeRefunds: fees}
}

// Confirm submits the current request. It is rejected while a submission is
// pending or while the amounts are invalid. Once started the submission is not
// tied to ctx cancellation. On failure the dialog returns to Editing with the
// error kept as an inline message so the user can retry.
func (d *Dialog) Confirm(ctx context.Context, sub Submitter) (Receipt, error) {
	d.mu.Lock()
	switch d.state {
	case Submitting:
		d.mu.Unlock()
		return Receipt{}, ErrSubmissionInFlight
	case Editing:
	default:
		d.mu.Unlock()
		return Receipt{}, ErrInvalidState
	}
	if d.invalid != nil {
		err := d.invalid
		d.mu.Unlock()
		return Receipt{}, err
	}
	submission := Submission{Requests: []Request{d.requestLocked()}, Reason: d.reason, Notes: d.notes}
	d.failure = nil
	d.transitionLocked(Submitting)
	d.mu.Unlock()

	receipt, err := sub.Issue(context.WithoutCancel(ctx), submission)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.failure = err
		d.transitionLocked(Failed)
		d.transitionLocked(Editing)
		return Receipt{}, err
	}
	for _, it := range receipt.Items {
		if it.ID == d.item.ID {
			d.item = it.Clone()
		}
	}
	d.refundID = receipt.RefundID
	ttl := d.NoticeTTL
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	d.notice = &Notice{
		Message:   fmt.Sprintf("Refund of %s issued.", d.Formatter.Format(receipt.Total)),
		ExpiresAt: d.now().Add(ttl),
	}
	d.transitionLocked(Applied)
	return receipt, nil
}

// Close dismisses the dialog. A pending submission cannot be abandoned.
func (d *Dialog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Submitting {
		return ErrSubmissionInFlight
	}
	d.transitionLocked(Idle)
	return nil
}

// Notice returns the confirmation notice while it has not expired.
func (d *Dialog) Notice(now time.Time) (Notice, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.noticeLocked(now)
}

func (d *Dialog) noticeLocked(now time.Time) (Notice, bool) {
	if d.notice == nil {
		return Notice{}, false
	}
	if !now.Before(d.notice.ExpiresAt) {
		d.notice = nil
		return Notice{}, false
	}
	return *d.notice, true
}

// State returns the current state.
func (d *Dialog) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// View returns a snapshot of the dialog.
func (d *Dialog) View() DialogView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewLocked()
}

func (d *Dialog) viewLocked() DialogView {
	req := d.requestLocked()
	v := DialogView{
		ID:            d.ID,
		State:         d.state,
		Item:          d.item.Clone(),
		BaseAmount:    req.BaseAmount,
		FeeRefunds:    req.FeeRefunds,
		Reason:        d.reason,
		Notes:         d.notes,
		Quote:         d.quote,
		LastRefundID:  d.refundID,
		MaxRefundable: MaxRefundable(d.item),
	}
	switch {
	case d.failure != nil:
		v.Err = d.failure
	case d.invalid != nil && d.state == Editing:
		v.Err = d.invalid
	}
	v.ErrorMessage = UserMessage(v.Err)
	if n, ok := d.noticeLocked(d.now()); ok {
		v.Notice = &n
	}
	return v
}

func (d *Dialog) lastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActive
}

func (d *Dialog) revalidateLocked() {
	d.transitionLocked(Validating)
	q, err := Validate(d.item, d.requestLocked())
	d.quote, d.invalid = q, err
	if err != nil {
		d.quote = Quote{Total: d.requestLocked().Total(), MaxRefundable: MaxRefundable(d.item)}
	}
	d.transitionLocked(Editing)
}

func (d *Dialog) transitionLocked(to State) {
	d.lastActive = d.now()
	from := d.state
	d.state = to
	if from != to && d.OnTransition != nil {
		d.OnTransition(from, to)
	}
}
