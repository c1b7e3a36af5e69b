package pricing

// Money represents a monetary value stored in minor units.
type Money = int64

// Line describes the money columns of one order item used for the breakdown summary.
type Line struct {
	Original    Money
	Outstanding Money
	Refunded    Money
	Fees        Money
	FeeCaps     Money
}

// Summary aggregates the breakdown totals shown above the item list.
type Summary struct {
	Original      Money
	Outstanding   Money
	Refunded      Money
	Fees          Money
	Refundable    Money
	ItemCount     int
	FullyRefunded int
}

// Summarize totals the provided lines. Refundable is the sum of the per-line
// remaining base amount plus every fee cap, never negative per line.
func Summarize(lines []Line) Summary {
	var s Summary
	for _, l := range lines {
		s.ItemCount++
		s.Original += l.Original
		s.Outstanding += l.Outstanding
		s.Refunded += l.Refunded
		s.Fees += l.Fees
		headroom := l.Outstanding - l.Refunded
		if headroom < 0 {
			headroom = 0
		}
		s.Refundable += headroom + l.FeeCaps
		if l.Outstanding == 0 && l.Refunded > 0 {
			s.FullyRefunded++
		}
	}
	return s
}

// Clamp bounds v into [lo, hi]. When hi < lo the result is lo.
func Clamp(v, lo, hi Money) Money {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
