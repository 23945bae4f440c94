// Package csi resolves the outputs of the pairwise, directional and relation
// classifiers into one well-formed dependency tree per sentence.
//
// The classifiers are trained independently and their predictions can
// contradict each other. Resolution enforces, in order: a single root, one
// head per remaining unit taken from the candidates that agree with the
// directional prediction, and acyclicity. Among agreeing candidates the one
// with the highest pairwise score wins and ties go to the closest unit.
package csi

import (
	"errors"
	"fmt"
	"sort"

	"github.com/OFFIS-RIT/depparse/pkg/classifier"
	"github.com/OFFIS-RIT/depparse/pkg/instance"
	"github.com/OFFIS-RIT/depparse/pkg/logger"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	// Root is the relation of the root unit and the class with which the
	// pairwise and directional classifiers mark a root.
	Root = "ROOT"
	// NoRelation is the pairwise class for "not the head".
	NoRelation = "__"
	// Fallback is used when no classifier suggests a usable relation.
	Fallback = "--"

	Left  = "LEFT"
	Right = "RIGHT"
)

var (
	// ErrMisaligned is returned when the result sets do not line up with the
	// instances generated for a sentence of the given length.
	ErrMisaligned = errors.New("classifier results misaligned with sentence")
	// ErrInvalidTree is returned by Validate.
	ErrInvalidTree = errors.New("invalid dependency tree")
)

// Edge is the resolved head and relation of one unit. Head is the 1-based
// position of the head unit, 0 for the root.
type Edge struct {
	Head     int
	Relation string
}

type candidate struct {
	head     int
	score    float64
	distance int
	agrees   bool
	label    string
}

// Resolve builds the dependency tree of a sentence of n units. pairs must be
// aligned with instance.Pairs(n, maxDepSpan) and dirs and rels must hold one
// result per unit. A sentence without units yields no edges.
func Resolve(pairs, dirs, rels []classifier.Result, n, maxDepSpan int) ([]Edge, error) {
	if n == 0 {
		return nil, nil
	}

	decisions := instance.Pairs(n, maxDepSpan)
	if len(pairs) != len(decisions) {
		return nil, fmt.Errorf("%w: %d pair results for %d pair instances", ErrMisaligned, len(pairs), len(decisions))
	}
	if len(dirs) != n || len(rels) != n {
		return nil, fmt.Errorf("%w: %d dir and %d rel results for %d units", ErrMisaligned, len(dirs), len(rels), n)
	}

	rootScores := make([]float64, n)
	candidates := make([][]candidate, n)
	for i, d := range decisions {
		res := pairs[i]
		if d.Head == instance.RootCandidate {
			rootScores[d.Dependent] += prob(res, Root)
			continue
		}

		distance := d.Dependent - d.Head
		if distance < 0 {
			distance = -distance
		}
		candidates[d.Dependent] = append(candidates[d.Dependent], candidate{
			head:     d.Head,
			score:    headScore(res),
			distance: distance,
			agrees:   agrees(dirs[d.Dependent].Category, d.Dependent, d.Head),
			label:    res.Category,
		})
	}
	for i := range n {
		rootScores[i] += prob(dirs[i], Root)
	}

	root := 0
	for i := 1; i < n; i++ {
		if rootScores[i] > rootScores[root] {
			root = i
		}
	}

	heads := make([]int, n)
	for i := range heads {
		heads[i] = -1
	}
	labels := make([]string, n)

	order := make([]int, 0, n-1)
	for i := range n {
		if i == root {
			continue
		}
		sortCandidates(candidates[i])
		order = append(order, i)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return best(candidates[order[a]]) > best(candidates[order[b]])
	})

	for _, dep := range order {
		for _, c := range candidates[dep] {
			if createsCycle(heads, dep, c.head) {
				continue
			}
			heads[dep] = c.head
			labels[dep] = c.label
			break
		}
		if heads[dep] < 0 {
			logger.Debug("[CSI] No acceptable candidate, attaching to root", "unit", dep, "root", root)
			heads[dep] = root
		}
	}

	edges := make([]Edge, n)
	for i := range n {
		if i == root {
			edges[i] = Edge{Head: 0, Relation: Root}
			continue
		}
		edges[i] = Edge{Head: heads[i] + 1, Relation: relation(rels[i], labels[i])}
	}
	return edges, nil
}

// Validate checks that edges form a single rooted, acyclic tree.
func Validate(edges []Edge) error {
	roots := 0
	for i, e := range edges {
		if e.Head == 0 {
			roots++
			if e.Relation != Root {
				return fmt.Errorf("%w: unit %d has head 0 but relation %q", ErrInvalidTree, i+1, e.Relation)
			}
			continue
		}
		if e.Head < 0 || e.Head > len(edges) || e.Head == i+1 {
			return fmt.Errorf("%w: unit %d has invalid head %d", ErrInvalidTree, i+1, e.Head)
		}
	}
	if len(edges) > 0 && roots != 1 {
		return fmt.Errorf("%w: %d roots", ErrInvalidTree, roots)
	}

	for i := range edges {
		visited := mapset.NewThreadUnsafeSet[int]()
		for cur := i + 1; cur != 0; cur = edges[cur-1].Head {
			if !visited.Add(cur) {
				return fmt.Errorf("%w: cycle through unit %d", ErrInvalidTree, cur)
			}
		}
	}
	return nil
}

// prob returns the probability r assigns to label, falling back to the
// confidence of the category when no distribution is available.
func prob(r classifier.Result, label string) float64 {
	if len(r.Distribution) > 0 {
		return r.Score(label)
	}
	if r.Category != label {
		return 0
	}
	if r.Confidence > 0 {
		return r.Confidence
	}
	return 1
}

// headScore is the probability mass a pairwise result puts on any relation,
// i.e. on the candidate being the head.
func headScore(r classifier.Result) float64 {
	if len(r.Distribution) > 0 {
		return r.Mass(isRelation)
	}
	if !isRelation(r.Category) {
		return 0
	}
	if r.Confidence > 0 {
		return r.Confidence
	}
	return 1
}

func agrees(direction string, dep, head int) bool {
	switch direction {
	case Left:
		return head < dep
	case Right:
		return head > dep
	default:
		return true
	}
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(a, b int) bool {
		ca, cb := cands[a], cands[b]
		if ca.agrees != cb.agrees {
			return ca.agrees
		}
		if ca.score != cb.score {
			return ca.score > cb.score
		}
		if ca.distance != cb.distance {
			return ca.distance < cb.distance
		}
		return ca.head < cb.head
	})
}

func best(cands []candidate) float64 {
	if len(cands) == 0 {
		return -1
	}
	return cands[0].score
}

// createsCycle reports whether attaching dep to head would close a cycle,
// i.e. whether dep already dominates head.
func createsCycle(heads []int, dep, head int) bool {
	for cur := head; cur >= 0; cur = heads[cur] {
		if cur == dep {
			return true
		}
	}
	return false
}

func isRelation(label string) bool {
	return label != "" && label != NoRelation && label != Root
}

// relation picks the label for a non-root unit: the relation classifier's
// category, then the category of the winning pair instance, then the best
// relation in the relation distribution.
func relation(rel classifier.Result, pairLabel string) string {
	if isRelation(rel.Category) {
		return rel.Category
	}
	if isRelation(pairLabel) {
		return pairLabel
	}

	label, score := "", 0.0
	for _, s := range rel.Distribution {
		if isRelation(s.Label) && s.Value > score {
			label, score = s.Label, s.Value
		}
	}
	if label != "" {
		return label
	}
	return Fallback
}
