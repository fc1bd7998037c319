package export

import (
	"math"
	"strconv"
	"strings"
)

// Precision formats v with p significant digits. Values whose decimal
// exponent is below -6 or at least p switch to exponential notation.
func Precision(v float64, p int) string {
	if s, ok := special(v); ok {
		return s
	}
	if v == 0 {
		if p <= 1 {
			return "0"
		}
		return "0." + strings.Repeat("0", p-1)
	}
	mantissa, exp := splitExponent(strconv.FormatFloat(v, 'e', p-1, 64))
	if exp < -6 || exp >= p {
		return mantissa + "e" + signedExponent(exp)
	}
	return strconv.FormatFloat(v, 'f', p-1-exp, 64)
}

// Exponential formats v in exponential notation with digits fraction digits,
// e.g. 1.234e-5.
func Exponential(v float64, digits int) string {
	if s, ok := special(v); ok {
		return s
	}
	mantissa, exp := splitExponent(strconv.FormatFloat(v, 'e', digits, 64))
	return mantissa + "e" + signedExponent(exp)
}

// Frequency renders a weekly frequency and its sequence count, e.g. "12.5% (40)".
func Frequency(f float64, count int) string {
	return Precision(f, 3) + "% (" + strconv.Itoa(count) + ")"
}

func special(v float64) (string, bool) {
	switch {
	case math.IsNaN(v):
		return "NaN", true
	case math.IsInf(v, 1):
		return "Infinity", true
	case math.IsInf(v, -1):
		return "-Infinity", true
	}
	return "", false
}

func splitExponent(s string) (string, int) {
	idx := strings.IndexByte(s, 'e')
	if idx < 0 {
		return s, 0
	}
	exp, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return s, 0
	}
	return s[:idx], exp
}

func signedExponent(exp int) string {
	if exp < 0 {
		return strconv.Itoa(exp)
	}
	return "+" + strconv.Itoa(exp)
}
