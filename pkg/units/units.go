// Package units turns the tagged tokens of a sentence into parsing units,
// merging multi-word spans into a single unit.
package units

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/depparse/pkg/common"
)

// NoMods is the modifier value of a single-token unit whose tag carries no
// modifier list.
const NoMods = "__"

// ErrSpanOutOfRange is returned when a multi-word span does not fit the
// token sequence it is applied to.
var ErrSpanOutOfRange = errors.New("multi-word span out of range")

// Units holds the parallel word, head tag and modifier sequences of a
// sentence. Parts[i] lists the token positions unit i was built from and
// Tags[i] the display tag: the source tag, or the member tags joined by "_".
type Units struct {
	Words []string
	Heads []string
	Mods  []string
	Tags  []string
	Parts [][]int
}

// Len returns the number of units.
func (u Units) Len() int {
	return len(u.Words)
}

// SplitTag splits a composite tag such as "N(soort,ev)" into its head "N"
// and the modifiers joined by "|" ("soort|ev"). Tags without a modifier list
// return an empty modifier string.
func SplitTag(tag string) (string, string) {
	parts := strings.FieldsFunc(tag, func(r rune) bool {
		return r == '(' || r == ')'
	})
	if len(parts) == 0 {
		return "", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}

	var mods []string
	for m := range strings.SplitSeq(parts[1], ",") {
		if m != "" {
			mods = append(mods, m)
		}
	}
	return parts[0], strings.Join(mods, "|")
}

// Collapse builds the parsing units for tokens. mwus maps the start position
// of every multi-word span to its inclusive end position. filter may be nil;
// when set it is applied to the words of multi-word members only.
func Collapse(tokens []common.Token, mwus map[int]int, filter *CharFilter) (Units, error) {
	for start, end := range mwus {
		if start < 0 || end < start || end >= len(tokens) {
			return Units{}, fmt.Errorf("%w: [%d,%d] over %d tokens", ErrSpanOutOfRange, start, end, len(tokens))
		}
	}

	var u Units
	for i := 0; i < len(tokens); i++ {
		end, ok := mwus[i]
		if !ok {
			head, mods := SplitTag(tokens[i].Tag)
			if mods == "" {
				mods = NoMods
			}
			u.Words = append(u.Words, stripSpace(tokens[i].Word))
			u.Heads = append(u.Heads, head)
			u.Mods = append(u.Mods, mods)
			u.Tags = append(u.Tags, tokens[i].Tag)
			u.Parts = append(u.Parts, []int{i})
			continue
		}

		// member modifiers are joined as-is, empty ones included
		words := make([]string, 0, end-i+1)
		heads := make([]string, 0, end-i+1)
		mods := make([]string, 0, end-i+1)
		tags := make([]string, 0, end-i+1)
		parts := make([]int, 0, end-i+1)
		for k := i; k <= end; k++ {
			word := tokens[k].Word
			if filter != nil {
				word = filter.Apply(word)
			}
			head, mod := SplitTag(tokens[k].Tag)
			words = append(words, stripSpace(word))
			heads = append(heads, head)
			mods = append(mods, mod)
			tags = append(tags, tokens[k].Tag)
			parts = append(parts, k)
		}
		u.Words = append(u.Words, strings.Join(words, "_"))
		u.Heads = append(u.Heads, strings.Join(heads, "_"))
		u.Mods = append(u.Mods, strings.Join(mods, "_"))
		u.Tags = append(u.Tags, strings.Join(tags, "_"))
		u.Parts = append(u.Parts, parts)
		i = end
	}

	return u, nil
}

// Records converts u into the unit records stored on a sentence.
func (u Units) Records() []common.Unit {
	records := make([]common.Unit, u.Len())
	for i := range u.Words {
		records[i] = common.Unit{
			Word:  u.Words[i],
			Tag:   u.Tags[i],
			Parts: append([]int(nil), u.Parts[i]...),
		}
	}
	return records
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
