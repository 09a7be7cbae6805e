// Package money parses and formats monetary text in the portal's Spanish
// convention: "$ " prefix, "." thousands separator, "," decimal separator,
// e.g. "$ 20.115.680,0000".
package money

import (
	"strconv"
	"strings"
)

// Parse converts portal money text to a float. It tolerates a missing "$"
// prefix, surrounding whitespace, varying decimal places, and the literal
// "null". Returns nil when the text carries no parseable amount.
func Parse(text string) *float64 {
	s := strings.TrimSpace(text)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}

	// Strip everything that is not a digit, separator or sign.
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" {
		return nil
	}

	// "." thousands, "," decimal → strconv form.
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// Format renders a float in the portal's display convention with four
// decimal places. It is meant for display, not for byte-exact round trips
// with the portal.
func Format(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	s := strconv.FormatFloat(v, 'f', 4, 64)
	intPart, fracPart, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}

	out := "$ " + b.String() + "," + fracPart
	if neg {
		out = "$ -" + b.String() + "," + fracPart
	}
	return out
}

// Ptr returns a pointer to v. Convenience for building nullable amounts.
func Ptr(v float64) *float64 { return &v }
