package commerce

import (
	"strings"
	"unicode"
)

// parseAmountMinor converts a backend-reported amount string ("129.00",
// "$1,299.95", "129") into minor units. Unparseable values come back as zero;
// the backend owns pricing, so a malformed figure is treated as absent rather
// than an error.
func parseAmountMinor(raw string) int64 {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			return r
		}
		return -1
	}, raw)
	if cleaned == "" || cleaned == "-" {
		return 0
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	whole, frac, _ := strings.Cut(cleaned, ".")
	var minor int64
	for _, r := range whole {
		if !unicode.IsDigit(r) {
			return 0
		}
		minor = minor*10 + int64(r-'0')
	}
	minor *= 100

	// Take at most two fractional digits; a third digit rounds.
	digits := make([]int64, 0, 3)
	for _, r := range frac {
		if !unicode.IsDigit(r) {
			return 0
		}
		if len(digits) == 3 {
			break
		}
		digits = append(digits, int64(r-'0'))
	}
	switch len(digits) {
	case 1:
		minor += digits[0] * 10
	case 2:
		minor += digits[0]*10 + digits[1]
	case 3:
		minor += digits[0]*10 + digits[1]
		if digits[2] >= 5 {
			minor++
		}
	}

	if negative {
		return -minor
	}
	return minor
}
