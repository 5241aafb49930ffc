package sheet

import (
	"fmt"
	"strings"
)

// ColumnIndex converts a spreadsheet column label to a zero-based index:
// "A" -> 0, "Z" -> 25, "AA" -> 26. Straight base-26, no letters skipped.
func ColumnIndex(label string) (int, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		return 0, fmt.Errorf("coluna inválida: %q", label)
	}
	idx := 0
	for i := 0; i < len(label); i++ {
		c := label[i]
		if c < 'A' || c > 'Z' {
			return 0, fmt.Errorf("coluna inválida: %q", label)
		}
		idx = idx*26 + int(c-'A'+1)
	}
	return idx - 1, nil
}

// ColumnLabel is the inverse of ColumnIndex: 0 -> "A", 26 -> "AA".
func ColumnLabel(index int) string {
	idx := index + 1
	label := ""
	for idx > 0 {
		idx--
		label = string(rune('A'+idx%26)) + label
		idx /= 26
	}
	return label
}
