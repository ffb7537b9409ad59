// Package amount renders minor-unit amounts for order notes and shopper-facing
// text. It is display only; financial comparisons always use the raw integers.
package amount

import (
	"fmt"
	"strconv"
	"strings"
)

// Format converts an integer minor-unit amount and ISO currency code into a
// display string. Non-positive amounts render as "N/A".
func Format(minorUnits int64, currency string) string {
	if minorUnits <= 0 {
		return "N/A"
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "ISK" {
		return groupThousands(minorUnits/100) + " ISK"
	}
	return fmt.Sprintf("%d.%02d %s", minorUnits/100, minorUnits%100, currency)
}

// groupThousands inserts dots between thousand groups, the Icelandic
// convention for whole-krona amounts.
func groupThousands(v int64) string {
	digits := strconv.FormatInt(v, 10)
	if len(digits) <= 3 {
		return digits
	}
	var sb strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		sb.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if sb.Len() > 0 {
			sb.WriteString(".")
		}
		sb.WriteString(digits[i : i+3])
	}
	return sb.String()
}
