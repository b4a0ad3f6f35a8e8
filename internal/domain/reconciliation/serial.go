package reconciliation

import (
	"regexp"
	"strings"

	"golang.org/x/text/width"
)

var trailingDigits = regexp.MustCompile(`([0-9]+)[^0-9]*$`)

// Serial is the ordering number embedded in a request reference.
// Digits are kept as text so arbitrarily long serials compare correctly.
type Serial struct {
	digits string
	valid  bool
}

// ParseSerial extracts the last run of digits from a reference.
// References without digits yield an invalid serial, which sorts last.
func ParseSerial(ref string) Serial {
	m := trailingDigits.FindStringSubmatch(width.Fold.String(ref))
	if m == nil {
		return Serial{}
	}
	digits := strings.TrimLeft(m[1], "0")
	if digits == "" {
		digits = "0"
	}
	return Serial{digits: digits, valid: true}
}

// Valid returns true when the reference carried a serial
func (s Serial) Valid() bool {
	return s.valid
}

// String returns the serial without leading zeros, or "" when invalid
func (s Serial) String() string {
	return s.digits
}

// Compare orders serials numerically; invalid serials sort after valid ones
func (s Serial) Compare(other Serial) int {
	switch {
	case !s.valid && !other.valid:
		return 0
	case !s.valid:
		return 1
	case !other.valid:
		return -1
	}
	if len(s.digits) != len(other.digits) {
		if len(s.digits) < len(other.digits) {
			return -1
		}
		return 1
	}
	return strings.Compare(s.digits, other.digits)
}
