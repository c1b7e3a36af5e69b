package refund

import (
	"time"

	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// FeeView is a fee as rendered on the breakdown page.
type FeeView struct {
	Type              string         `json:"type"`
	Original          pricing.Amount `json:"original"`
	RefundableDefault pricing.Amount `json:"refundableDefault"`
	MaxRefund         pricing.Amount `json:"maxRefund"`
	Cap               pricing.Amount `json:"cap"`
	Display           string         `json:"display"`
}

// ItemView is an order item with formatted money and its refund headroom.
type ItemView struct {
	ID                   string         `json:"id"`
	Title                string         `json:"title"`
	Metadata             string         `json:"metadata,omitempty"`
	OriginalAmount       pricing.Amount `json:"originalAmount"`
	Amount               pricing.Amount `json:"amount"`
	RefundedAmount       pricing.Amount `json:"refundedAmount"`
	MaxRefundable        pricing.Amount `json:"maxRefundable"`
	FullyRefunded        bool           `json:"fullyRefunded"`
	Fees                 []FeeView      `json:"fees"`
	OriginalDisplay      string         `json:"originalDisplay"`
	AmountDisplay        string         `json:"amountDisplay"`
	RefundedDisplay      string         `json:"refundedDisplay"`
	MaxRefundableDisplay string         `json:"maxRefundableDisplay"`
}

// NewItemView renders item with f.
func NewItemView(item orderitem.OrderItem, f pricing.Formatter) ItemView {
	maxRefundable := MaxRefundable(item)
	fees := make([]FeeView, 0, len(item.Fees))
	for _, fee := range item.Fees {
		fees = append(fees, FeeView{
			Type:              fee.Type,
			Original:          pricing.Amount(fee.Original),
			RefundableDefault: pricing.Amount(fee.RefundableDefault),
			MaxRefund:         pricing.Amount(fee.MaxRefund),
			Cap:               pricing.Amount(FeeCap(fee)),
			Display:           f.Format(fee.Original),
		})
	}
	return ItemView{
		ID:                   item.ID,
		Title:                item.Title,
		Metadata:             item.Metadata,
		OriginalAmount:       pricing.Amount(item.OriginalAmount),
		Amount:               pricing.Amount(item.Amount),
		RefundedAmount:       pricing.Amount(item.RefundedAmount),
		MaxRefundable:        pricing.Amount(maxRefundable),
		FullyRefunded:        maxRefundable == 0,
		Fees:                 fees,
		OriginalDisplay:      f.Format(item.OriginalAmount),
		AmountDisplay:        f.Format(item.Amount),
		RefundedDisplay:      f.Format(item.RefundedAmount),
		MaxRefundableDisplay: f.Format(maxRefundable),
	}
}

// NewItemViews renders every item with f.
func NewItemViews(items []orderitem.OrderItem, f pricing.Formatter) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		out = append(out, NewItemView(it, f))
	}
	return out
}

// QuoteView is the JSON form of a Quote.
type QuoteView struct {
	Total            pricing.Amount `json:"total"`
	MaxRefundable    pricing.Amount `json:"maxRefundable"`
	IsPartial        bool           `json:"isPartial"`
	CustomerReceives string         `json:"customerReceives"`
}

// NewQuoteView renders q with f.
func NewQuoteView(q Quote, f pricing.Formatter) QuoteView {
	return QuoteView{
		Total:            pricing.Amount(q.Total),
		MaxRefundable:    pricing.Amount(q.MaxRefundable),
		IsPartial:        q.IsPartial,
		CustomerReceives: f.Format(q.Total),
	}
}

type noticeView struct {
	Message   string `json:"message"`
	ExpiresAt string `json:"expiresAt"`
}

type dialogErrorView struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type dialogView struct {
	ID           string                    `json:"id"`
	State        State                     `json:"state"`
	Item         ItemView                  `json:"item"`
	BaseAmount   pricing.Amount            `json:"baseAmount"`
	FeeRefunds   map[string]pricing.Amount `json:"feeRefunds"`
	Reason       string                    `json:"reason"`
	Notes        string                    `json:"notes"`
	Quote        QuoteView                 `json:"quote"`
	Error        *dialogErrorView          `json:"error,omitempty"`
	Notice       *noticeView               `json:"notice,omitempty"`
	LastRefundID string                    `json:"lastRefundId,omitempty"`
}

func newDialogView(v DialogView, f pricing.Formatter) dialogView {
	fees := make(map[string]pricing.Amount, len(v.FeeRefunds))
	for k, m := range v.FeeRefunds {
		fees[k] = pricing.Amount(m)
	}
	out := dialogView{
		ID:           v.ID,
		State:        v.State,
		Item:         NewItemView(v.Item, f),
		BaseAmount:   pricing.Amount(v.BaseAmount),
		FeeRefunds:   fees,
		Reason:       v.Reason,
		Notes:        v.Notes,
		Quote:        NewQuoteView(v.Quote, f),
		LastRefundID: v.LastRefundID,
	}
	if v.Err != nil {
		out.Error = &dialogErrorView{Code: ToAppError(v.Err).Code, Message: v.ErrorMessage}
	}
	if v.Notice != nil {
		out.Notice = &noticeView{Message: v.Notice.Message, ExpiresAt: v.Notice.ExpiresAt.UTC().Format(time.RFC3339)}
	}
	return out
}
