package models

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var nonAmountChars = regexp.MustCompile(`[^0-9.-]`)

// ParseAmount parses a decimal-amount string of unknown locale
// convention into an exact decimal value.
//
// When both comma and period appear, the separator that appears first is
// a thousands separator and is stripped; the remaining one becomes the
// decimal point. "1.234,56" and "1,234.56" both parse to 1234.56.
func ParseAmount(s string) (decimal.Decimal, error) {
	if strings.Contains(s, ",") && strings.Contains(s, ".") {
		if strings.Index(s, ",") < strings.Index(s, ".") {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	s = strings.ReplaceAll(s, ",", ".")
	s = nonAmountChars.ReplaceAllString(s, "")

	return decimal.NewFromString(s)
}
