package model

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatGrade renders "earned / max" with exact decimals and no leading
// zeros; an absent side renders as "—".
func FormatGrade(a Assignment) string {
	return fmt.Sprintf("%s / %s", formatRat(a.EarnedPoints), formatRat(a.MaxPoints))
}

func formatRat(r *big.Rat) string {
	if r == nil {
		return "—"
	}
	return trimDecimal(r.FloatString(12))
}

// trimDecimal strips trailing fractional zeros (and a trailing decimal
// point) produced by big.Rat.FloatString's fixed precision.
func trimDecimal(s string) string {
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

// FormatException renders the lowercase exception word; none renders as
// "—".
func FormatException(e Exception) string {
	if e == ExceptionNone {
		return "—"
	}
	return e.String()
}
