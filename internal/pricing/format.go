package pricing

import (
	"strings"
)

type numberStyle struct {
	symbol   string
	suffix   bool
	group    string
	fraction string
}

var localeStyles = map[string]numberStyle{
	"en-US/USD": {symbol: "$", group: ",", fraction: "."},
	"en-GB/GBP": {symbol: "£", group: ",", fraction: "."},
	"de-DE/EUR": {symbol: " €", suffix: true, group: ".", fraction: ","},
	"id-ID/IDR": {symbol: "Rp", group: ".", fraction: ","},
}

// fallbackStyle is used whenever the locale/currency pair is not known.
var fallbackStyle = numberStyle{symbol: "$", fraction: "."}

// Formatter renders Money with two fractional digits for a fixed currency and locale.
type Formatter struct {
	Currency string
	Locale   string
}

// Format renders m, e.g. "$1,234.50" for en-US/USD. Unknown pairs fall back to "$1234.50".
func (f Formatter) Format(m Money) string {
	style, ok := localeStyles[f.key()]
	if !ok {
		style = fallbackStyle
	}
	neg := m < 0
	if neg {
		m = -m
	}
	fixed := ToDecimal(m).StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")
	body := groupDigits(whole, style.group) + style.fraction + frac

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	if style.suffix {
		b.WriteString(body)
		b.WriteString(style.symbol)
	} else {
		b.WriteString(style.symbol)
		b.WriteString(body)
	}
	return b.String()
}

func (f Formatter) key() string {
	return strings.TrimSpace(f.Locale) + "/" + strings.ToUpper(strings.TrimSpace(f.Currency))
}

func groupDigits(digits, sep string) string {
	if sep == "" || len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteString(sep)
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
