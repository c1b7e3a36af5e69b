package orderitem

import (
	"context"
	"time"
)

// Source supplies the initial items of the order.
type Source interface {
	Load(ctx context.Context) ([]OrderItem, error)
}

// MockSource serves a fixed item list, optionally after a simulated latency.
type MockSource struct {
	Items   []OrderItem
	Latency time.Duration
}

// Load returns a copy of the configured items once the latency elapsed.
func (m MockSource) Load(ctx context.Context) ([]OrderItem, error) {
	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	items := m.Items
	if items == nil {
		items = Fixture()
	}
	return CloneAll(items), nil
}

// Fixture returns the demo order shown on the breakdown page.
func Fixture() []OrderItem {
	return []OrderItem{
		{
			ID:             "item_1",
			Title:          "Wireless Headphones",
			Metadata:       "Color: Black · Qty 1",
			OriginalAmount: 7500,
			Amount:         7500,
			Fees: []Fee{
				{Type: "Shipping", Original: 250},
				{Type: "Service", Original: 100},
				{Type: "Tax", Original: 575, RefundableDefault: 575, MaxRefund: 575},
			},
		},
		{
			ID:             "item_2",
			Title:          "USB-C Charging Cable",
			Metadata:       "Length: 2m · Qty 2",
			OriginalAmount: 2400,
			Amount:         2400,
			Fees: []Fee{
				{Type: "Shipping", Original: 250, RefundableDefault: 250, MaxRefund: 250},
				{Type: "Tax", Original: 184, RefundableDefault: 184, MaxRefund: 184},
			},
		},
		{
			ID:             "item_3",
			Title:          "Protective Case",
			Metadata:       "Size: M · Qty 1",
			OriginalAmount: 1999,
			Amount:         0,
			RefundedAmount: 1999,
			Fees: []Fee{
				{Type: "Tax", Original: 153, MaxRefund: 0},
			},
		},
	}
}
