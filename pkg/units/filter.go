package units

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// CharFilter replaces single characters in surface forms. It is loaded from a
// file with one mapping per line: the character, whitespace, and its
// replacement. A line with only a character deletes it. Lines starting with
// "#" are comments.
type CharFilter struct {
	table map[rune]string
}

// NewCharFilter builds a filter from an explicit table.
func NewCharFilter(table map[rune]string) *CharFilter {
	return &CharFilter{table: table}
}

// LoadCharFilter reads a filter table from r.
func LoadCharFilter(r io.Reader) (*CharFilter, error) {
	table := make(map[rune]string)
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		from, size := utf8.DecodeRuneInString(fields[0])
		if size != len(fields[0]) {
			return nil, fmt.Errorf("char filter line %d: %q is not a single character", line, fields[0])
		}
		to := ""
		if len(fields) > 1 {
			to = fields[1]
		}
		table[from] = to
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read char filter: %w", err)
	}
	return &CharFilter{table: table}, nil
}

// Apply returns s with every mapped character replaced.
func (f *CharFilter) Apply(s string) string {
	if len(f.table) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if to, ok := f.table[r]; ok {
			b.WriteString(to)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
