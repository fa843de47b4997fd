package plans

import (
	"strconv"
	"strings"
	"unicode"
)

// NextVersionLabel derives a monotonic successor for a caller-supplied
// version label. A trailing integer run is incremented with leading zeros
// preserved ("v3" -> "v4", "2.09" -> "2.10"); labels without a trailing
// integer get a "-2" suffix. Labels are not checked for uniqueness.
func NextVersionLabel(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "2"
	}

	end := len(label)
	start := end
	for start > 0 && unicode.IsDigit(rune(label[start-1])) {
		start--
	}

	if start == end {
		return label + "-2"
	}

	digits := label[start:end]
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		// Trailing digit run too large to parse; treat like a non-numeric label.
		return label + "-2"
	}

	next := strconv.FormatUint(n+1, 10)
	if len(next) < len(digits) {
		next = strings.Repeat("0", len(digits)-len(next)) + next
	}

	return label[:start] + next
}
