// Package instance encodes parsing units into the textual feature instances
// consumed by the pairwise, directional and relation classifiers.
//
// The layouts are fixed by the trained instance bases: every feature string
// produced here must stay byte-identical to what the classifiers were
// trained on. The short sentence cases are therefore spelled out explicitly
// rather than derived from the windowed templates.
package instance

import (
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/depparse/pkg/units"
)

const (
	// Empty fills feature slots that fall outside the sentence.
	Empty = "__"
	// Root stands in for the head context of a root-candidate instance.
	Root = "ROOT"
	// RootCandidate is the Head of a Pair that asks whether the dependent is
	// the sentence root.
	RootCandidate = -1
)

// Pair identifies the decision a pairwise instance encodes.
type Pair struct {
	Dependent int
	Head      int
}

// Pairs enumerates the decisions encoded by PairInstances for a sentence of
// n units, in the same order.
func Pairs(n, maxDepSpan int) []Pair {
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []Pair{{Dependent: 0, Head: RootCandidate}}
	}

	pairs := make([]Pair, 0, n*(2*maxDepSpan+1))
	for i := 0; i < n; i++ {
		pairs = append(pairs, Pair{Dependent: i, Head: RootCandidate})
	}
	for dep := 0; dep < n; dep++ {
		for pos := 0; pos < n; pos++ {
			if pos > dep+maxDepSpan {
				break
			}
			if pos == dep || pos+maxDepSpan < dep {
				continue
			}
			pairs = append(pairs, Pair{Dependent: dep, Head: pos})
		}
	}
	return pairs
}

// window gives bounds-checked access to the unit sequences.
type window struct {
	u units.Units
}

func (w window) word(i int) string {
	if i < 0 || i >= len(w.u.Words) {
		return Empty
	}
	return w.u.Words[i]
}

func (w window) tag(i int) string {
	if i < 0 || i >= len(w.u.Heads) {
		return Empty
	}
	return w.u.Heads[i]
}

func (w window) mods(i int) string {
	if i < 0 || i >= len(w.u.Mods) {
		return Empty
	}
	return w.u.Mods[i]
}

func join(parts ...string) string {
	return strings.Join(parts, "^")
}

func instance(fields ...string) string {
	return strings.Join(fields, " ")
}

// PairInstances builds the pairwise attachment instances. For a single unit
// one self-referential instance is produced. Otherwise the first n instances
// ask whether each unit is the root, followed by one instance per
// (dependent, candidate head) pair within maxDepSpan, in the order of Pairs.
func PairInstances(u units.Units, maxDepSpan int) []string {
	n := u.Len()
	if n == 0 {
		return nil
	}
	w := window{u: u}

	if n == 1 {
		return []string{instance(
			Empty, w.word(0), Empty, Root, Root, Root,
			Empty, w.tag(0), Empty, Root, Root, Root,
			w.word(0)+"^"+Root, Root, Root, Root+"^"+w.tag(0), "_",
		)}
	}

	pairs := Pairs(n, maxDepSpan)
	instances := make([]string, 0, len(pairs))
	for _, p := range pairs {
		d := p.Dependent
		if p.Head == RootCandidate {
			instances = append(instances, instance(
				w.word(d-1), w.word(d), w.word(d+1), Root, Root, Root,
				w.tag(d-1), w.tag(d), w.tag(d+1), Root, Root, Root,
				w.tag(d)+"^"+Root, Root, Root, Root+"^"+w.mods(d), "_",
			))
			continue
		}

		h := p.Head
		direction, distance := "RIGHT", h-d
		if d > h {
			direction, distance = "LEFT", d-h
		}
		instances = append(instances, instance(
			w.word(d-1), w.word(d), w.word(d+1),
			w.word(h-1), w.word(h), w.word(h+1),
			w.tag(d-1), w.tag(d), w.tag(d+1),
			w.tag(h-1), w.tag(h), w.tag(h+1),
			join(w.tag(d), w.tag(h)),
			direction, strconv.Itoa(distance),
			join(w.mods(h), w.mods(d)),
			Empty,
		))
	}
	return instances
}

// DirInstances builds one directional instance per unit. The class slot is
// filled with ROOT.
func DirInstances(u units.Units) []string {
	w := window{u: u}
	w0, w1, w2 := w.word(0), w.word(1), w.word(2)
	t0, t1, t2 := w.tag(0), w.tag(1), w.tag(2)
	m0, m1, m2 := w.mods(0), w.mods(1), w.mods(2)

	switch u.Len() {
	case 0:
		return nil
	case 1:
		return []string{instance(
			Empty, Empty, w0, Empty, Empty,
			Empty, Empty, t0, Empty, Empty,
			Empty, Empty, join(w0, t0), Empty, Empty,
			join(Empty, t0), join(t0, Empty),
			Empty, m0, Empty,
			Root,
		)}
	case 2:
		return []string{
			instance(
				Empty, Empty, w0, w1, Empty,
				Empty, Empty, t0, t1, Empty,
				Empty, Empty, join(w0, t0), join(w1, t1), Empty,
				join(Empty, t0), join(t0, t1),
				Empty, m0, m1,
				Root,
			),
			instance(
				Empty, w0, w1, Empty, Empty,
				Empty, t0, t1, Empty, Empty,
				Empty, join(w0, t0), join(w1, t1), Empty, Empty,
				join(t0, t1), join(t1, Empty),
				m0, m1, Empty,
				Root,
			),
		}
	case 3:
		return []string{
			instance(
				Empty, Empty, w0, w1, w2,
				Empty, Empty, t0, t1, t2,
				Empty, Empty, join(w0, t0), join(w1, t1), join(w2, t2),
				join(Empty, t0), join(t0, t1),
				Empty, m0, m1,
				Root,
			),
			instance(
				Empty, w0, w1, w2, Empty,
				Empty, t0, t1, t2, Empty,
				Empty, join(w0, t0), join(w1, t1), join(w2, t2), Empty,
				join(t0, t1), join(t1, t2),
				m0, m1, m2,
				Root,
			),
			instance(
				w0, w1, w2, Empty, Empty,
				t0, t1, t2, Empty, Empty,
				join(w0, t0), join(w1, t1), join(w2, t2), Empty, Empty,
				join(t1, t2), join(t2, Empty),
				m1, m2, Empty,
				Root,
			),
		}
	}

	instances := make([]string, 0, u.Len())
	for i := range u.Len() {
		instances = append(instances, instance(
			w.word(i-2), w.word(i-1), w.word(i), w.word(i+1), w.word(i+2),
			w.tag(i-2), w.tag(i-1), w.tag(i), w.tag(i+1), w.tag(i+2),
			join(w.word(i-2), w.tag(i-2)),
			join(w.word(i-1), w.tag(i-1)),
			join(w.word(i), w.tag(i)),
			join(w.word(i+1), w.tag(i+1)),
			join(w.word(i+2), w.tag(i+2)),
			join(w.tag(i-1), w.tag(i)),
			join(w.tag(i), w.tag(i+1)),
			w.mods(i-1), w.mods(i), w.mods(i+1),
			Root,
		))
	}
	return instances
}

// RelInstances builds one relation instance per unit. The class slot is
// filled with the empty marker.
func RelInstances(u units.Units) []string {
	w := window{u: u}
	w0, w1, w2 := w.word(0), w.word(1), w.word(2)
	t0, t1, t2 := w.tag(0), w.tag(1), w.tag(2)
	m0, m1, m2 := w.mods(0), w.mods(1), w.mods(2)

	switch u.Len() {
	case 0:
		return nil
	case 1:
		return []string{instance(
			Empty, Empty, w0, Empty, Empty,
			m0,
			Empty, Empty, t0, Empty, Empty,
			join(Empty, t0), join(t0, Empty),
			join(Empty, Empty, t0), join(t0, Empty, Empty),
			Empty,
		)}
	case 2:
		return []string{
			instance(
				Empty, Empty, w0, w1, Empty,
				m0,
				Empty, Empty, t0, t1, Empty,
				join(Empty, t0), join(t0, t1),
				join(Empty, Empty, t0), join(t0, t1, Empty),
				Empty,
			),
			instance(
				Empty, w0, w1, Empty, Empty,
				m1,
				Empty, t0, t1, Empty, Empty,
				join(t0, t1), join(t1, Empty),
				join(Empty, t0, t1), join(t1, Empty, Empty),
				Empty,
			),
		}
	case 3:
		return []string{
			instance(
				Empty, Empty, w0, w1, w2,
				m0,
				Empty, Empty, t0, t1, t2,
				join(Empty, t0), join(t0, t1),
				join(Empty, Empty, t0), join(t0, t1, t2),
				Empty,
			),
			instance(
				Empty, w0, w1, w2, Empty,
				m1,
				Empty, t0, t1, t2, Empty,
				join(t0, t1), join(t1, t2),
				join(Empty, t0, t1), join(t1, t2, Empty),
				Empty,
			),
			instance(
				w0, w1, w2, Empty, Empty,
				m2,
				t0, t1, t2, Empty, Empty,
				join(t1, t2), join(t2, Empty),
				join(t0, t1, t2), join(t2, Empty, Empty),
				Empty,
			),
		}
	}

	instances := make([]string, 0, u.Len())
	for i := range u.Len() {
		instances = append(instances, instance(
			w.word(i-2), w.word(i-1), w.word(i), w.word(i+1), w.word(i+2),
			w.mods(i),
			w.tag(i-2), w.tag(i-1), w.tag(i), w.tag(i+1), w.tag(i+2),
			join(w.tag(i-1), w.tag(i)),
			join(w.tag(i), w.tag(i+1)),
			join(w.tag(i-2), w.tag(i-1), w.tag(i)),
			join(w.tag(i), w.tag(i+1), w.tag(i+2)),
			Empty,
		))
	}
	return instances
}
