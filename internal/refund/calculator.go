package refund

import (
	"math"
	"sort"

	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// Request is a candidate refund for one item. FeeRefunds is keyed by fee type.
type Request struct {
	ItemID     string
	BaseAmount pricing.Money
	FeeRefunds map[string]pricing.Money
}

// Total is the base amount plus every fee refund. The sum saturates at the
// int64 bounds instead of wrapping, so an overflowing request still reads as
// above any cap (or as non-positive when it underflows).
func (r Request) Total() pricing.Money {
	total := r.BaseAmount
	for _, v := range r.FeeRefunds {
		switch {
		case v > 0 && total > math.MaxInt64-v:
			total = math.MaxInt64
		case v < 0 && total < math.MinInt64-v:
			total = math.MinInt64
		default:
			total += v
		}
	}
	return total
}

// Quote is the outcome of a successful validation.
type Quote struct {
	Total         pricing.Money
	MaxRefundable pricing.Money
	IsPartial     bool
}

// MaxRefundable is the remaining base headroom plus every fee cap. Fee caps are
// additive on top of amount - refundedAmount even though fee refunds later land
// in the same refundedAmount accumulator.
func MaxRefundable(item orderitem.OrderItem) pricing.Money {
	base := item.Amount - item.RefundedAmount
	if base < 0 {
		base = 0
	}
	for _, f := range item.Fees {
		base += f.MaxRefund
	}
	return base
}

// FeeCap is the most that may be refunded of fee. Both live input clamping and
// final validation go through it.
func FeeCap(fee orderitem.Fee) pricing.Money {
	limit := fee.MaxRefund
	if fee.Original < limit {
		limit = fee.Original
	}
	if limit < 0 {
		return 0
	}
	return limit
}

// ClampFee bounds an edited fee amount into [0, FeeCap(fee)].
func ClampFee(fee orderitem.Fee, v pricing.Money) pricing.Money {
	return pricing.Clamp(v, 0, FeeCap(fee))
}

// ClampBase bounds an edited base amount into [0, MaxRefundable(item)].
func ClampBase(item orderitem.OrderItem, v pricing.Money) pricing.Money {
	return pricing.Clamp(v, 0, MaxRefundable(item))
}

// Validate checks req against item and returns the informational quote.
func Validate(item orderitem.OrderItem, req Request) (Quote, error) {
	if req.ItemID != "" && req.ItemID != item.ID {
		return Quote{}, &ValidationError{Reason: ItemMismatch}
	}
	ceiling := MaxRefundable(item)
	total := req.Total()
	if total <= 0 {
		return Quote{}, &ValidationError{Reason: NonPositiveAmount, Total: total, Cap: ceiling}
	}
	if total > ceiling {
		return Quote{}, &ValidationError{Reason: ExceedsCap, Total: total, Cap: ceiling}
	}
	if req.BaseAmount < 0 {
		return Quote{}, &ValidationError{Reason: NegativeAmount, Total: req.BaseAmount}
	}
	for _, feeType := range sortedFeeTypes(req.FeeRefunds) {
		amount := req.FeeRefunds[feeType]
		fee, ok := item.Fee(feeType)
		if !ok {
			return Quote{}, &ValidationError{Reason: UnknownFee, FeeType: feeType}
		}
		if amount < 0 {
			return Quote{}, &ValidationError{Reason: NegativeAmount, FeeType: feeType, Total: amount}
		}
		if limit := FeeCap(fee); ClampFee(fee, amount) != amount {
			return Quote{}, &ValidationError{Reason: FeeExceedsCap, FeeType: feeType, Total: amount, Cap: limit}
		}
	}
	return Quote{
		Total:         total,
		MaxRefundable: ceiling,
		IsPartial:     total < ceiling && total > 0,
	}, nil
}

func sortedFeeTypes(m map[string]pricing.Money) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
