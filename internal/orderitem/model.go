package orderitem

import (
	"errors"
	"fmt"
	"strings"

	"github.com/noah-isme/toko-refunds/internal/pricing"
)

var (
	// ErrInvalidItem is returned when a loaded item violates the breakdown invariants.
	ErrInvalidItem = errors.New("orderitem: invalid item")
	// ErrNotFound is returned when an item id is not present in the store.
	ErrNotFound = errors.New("orderitem: item not found")
	// ErrNotLoaded is returned when the store is queried before the source resolved.
	ErrNotLoaded = errors.New("orderitem: items not loaded")
)

// Fee is a charge attached to an order item that may be partially refundable.
type Fee struct {
	Type              string
	Original          pricing.Money
	RefundableDefault pricing.Money
	MaxRefund         pricing.Money
}

// OrderItem is one charged line of the order.
type OrderItem struct {
	ID             string
	Title          string
	Metadata       string
	OriginalAmount pricing.Money
	Amount         pricing.Money
	RefundedAmount pricing.Money
	Fees           []Fee
}

// Fee returns the fee with the provided type.
func (it OrderItem) Fee(feeType string) (Fee, bool) {
	for _, f := range it.Fees {
		if f.Type == feeType {
			return f, true
		}
	}
	return Fee{}, false
}

// FeeTotal sums the original fee charges.
func (it OrderItem) FeeTotal() pricing.Money {
	var total pricing.Money
	for _, f := range it.Fees {
		total += f.Original
	}
	return total
}

// Clone returns a deep copy so the fee slice is never shared between snapshots.
func (it OrderItem) Clone() OrderItem {
	out := it
	if it.Fees != nil {
		out.Fees = make([]Fee, len(it.Fees))
		copy(out.Fees, it.Fees)
	}
	return out
}

// Validate checks the load-time invariants of an item.
func (it OrderItem) Validate() error {
	if strings.TrimSpace(it.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidItem)
	}
	if it.OriginalAmount < 0 || it.Amount < 0 || it.RefundedAmount < 0 {
		return fmt.Errorf("%w: %s has negative amounts", ErrInvalidItem, it.ID)
	}
	seen := make(map[string]struct{}, len(it.Fees))
	for _, f := range it.Fees {
		if strings.TrimSpace(f.Type) == "" {
			return fmt.Errorf("%w: %s has a fee without type", ErrInvalidItem, it.ID)
		}
		if _, dup := seen[f.Type]; dup {
			return fmt.Errorf("%w: %s has duplicate fee %q", ErrInvalidItem, it.ID, f.Type)
		}
		seen[f.Type] = struct{}{}
		if f.Original < 0 {
			return fmt.Errorf("%w: %s fee %q has negative original", ErrInvalidItem, it.ID, f.Type)
		}
		if f.RefundableDefault < 0 || f.RefundableDefault > f.Original {
			return fmt.Errorf("%w: %s fee %q default outside [0, original]", ErrInvalidItem, it.ID, f.Type)
		}
		if f.MaxRefund < 0 || f.MaxRefund > f.Original {
			return fmt.Errorf("%w: %s fee %q cap outside [0, original]", ErrInvalidItem, it.ID, f.Type)
		}
	}
	return nil
}

// CloneAll deep-copies a slice of items.
func CloneAll(items []OrderItem) []OrderItem {
	if items == nil {
		return nil
	}
	out := make([]OrderItem, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}
