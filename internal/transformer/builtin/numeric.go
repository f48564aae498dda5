// Package builtin contains small, reusable value transforms used by the ETL.
package builtin

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits kept for money values.
const MoneyScale = 2

// CleanNumeric removes every character that is not an ASCII digit or '.'.
//
// Signs, thousands separators, currency symbols and units are all dropped:
// "1,234.56 USD" -> "1234.56", "-12.3" -> "12.3".
func CleanNumeric(s string) string {
	clean := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; (c < '0' || c > '9') && c != '.' {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; (c >= '0' && c <= '9') || c == '.' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ParseDecimal cleans s with CleanNumeric and parses the rest as a decimal.
// Empty or unparseable input (e.g. "", "abc", "1.2.3") yields zero; this is a
// default, not an error.
func ParseDecimal(s string) decimal.Decimal {
	c := CleanNumeric(s)
	if c == "" || c == "." {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(c)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMoney is ParseDecimal rounded half away from zero to MoneyScale digits.
func ParseMoney(s string) decimal.Decimal {
	return ParseDecimal(s).Round(MoneyScale)
}

// ParseInt parses a trimmed base-10 integer. Callers decide whether a failure
// defaults to zero or is a validation error.
func ParseInt(s string) (int, error) {
	if HasEdgeSpace(s) {
		s = strings.TrimSpace(s)
	}
	return strconv.Atoi(s)
}

// IntOrZero is ParseInt with failures mapped to zero.
func IntOrZero(s string) int {
	n, err := ParseInt(s)
	if err != nil {
		return 0
	}
	return n
}

// HasEdgeSpace reports whether s starts or ends with ASCII whitespace, so
// callers can skip strings.TrimSpace allocations on clean values.
func HasEdgeSpace(s string) bool {
	if s == "" {
		return false
	}
	return isSpace(s[0]) || isSpace(s[len(s)-1])
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}
