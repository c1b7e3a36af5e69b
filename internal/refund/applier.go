package refund

import (
	"github.com/noah-isme/toko-refunds/internal/orderitem"
	"github.com/noah-isme/toko-refunds/internal/pricing"
)

// Approved is a refund the refund-issuing service has confirmed.
type Approved struct {
	ItemID     string
	BaseAmount pricing.Money
	FeeRefunds map[string]pricing.Money
}

// Total is the base amount plus every fee refund.
func (a Approved) Total() pricing.Money {
	return Request(a).Total()
}

// Apply returns a new item slice with every approved refund applied. Items are
// deep-copied; the input is never mutated. Approved refunds for unknown ids are
// skipped. Applying the same refund twice counts it twice.
func Apply(items []orderitem.OrderItem, approved []Approved) []orderitem.OrderItem {
	out := orderitem.CloneAll(items)
	index := make(map[string]int, len(out))
	for i, it := range out {
		index[it.ID] = i
	}
	for _, a := range approved {
		i, ok := index[a.ItemID]
		if !ok {
			continue
		}
		total := a.Total()
		it := &out[i]
		it.RefundedAmount += total
		it.Amount -= total
		if it.Amount < 0 {
			it.Amount = 0
		}
	}
	return out
}

// Unmatched lists the item ids referenced by approved that are absent from items.
func Unmatched(items []orderitem.OrderItem, approved []Approved) []string {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}
	var missing []string
	for _, a := range approved {
		if _, ok := known[a.ItemID]; !ok {
			missing = append(missing, a.ItemID)
		}
	}
	return missing
}
