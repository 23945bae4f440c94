package common

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
)

var (
	// ErrDuplicateLayer is returned when a sentence already carries a
	// dependency layer for the same annotation set.
	ErrDuplicateLayer = errors.New("dependency layer already present")
	// ErrInvalidSpan is returned by CheckSpans.
	ErrInvalidSpan = errors.New("invalid multi-word span")
	// ErrInvalidToken is returned by CheckTokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Token is one tagged word as delivered by the earlier annotation stages.
// The tag is a composite tag string such as "N(soort,ev,basis)".
type Token struct {
	ID   string `json:"id,omitempty"`
	Word string `json:"word"`
	Tag  string `json:"tag"`
}

// Span marks a multi-word unit over token positions. End is inclusive.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Unit represents one parsing unit: a single token or a collapsed multi-word
// group. Parts lists the positions of the tokens it was built from.
//
// ParseIndex and ParseRole are filled in by the parser: ParseIndex is the
// 1-based position of the head unit (0 for the root) and ParseRole the
// dependency relation.
type Unit struct {
	Word       string `json:"word"`
	Tag        string `json:"tag"`
	Parts      []int  `json:"parts"`
	ParseIndex int    `json:"parse_index"`
	ParseRole  string `json:"parse_role,omitempty"`
}

// Sentence is the shared per-sentence record that the parser reads tokens
// from and writes its results into.
type Sentence struct {
	ID           string           `json:"id"`
	Tokens       []Token          `json:"tokens"`
	MWUs         []Span           `json:"mwus,omitempty"`
	Units        []Unit           `json:"units,omitempty"`
	Dependencies *DependencyLayer `json:"dependencies,omitempty"`
}

// SpanMap returns the multi-word spans keyed by start position.
func (s *Sentence) SpanMap() map[int]int {
	if len(s.MWUs) == 0 {
		return nil
	}
	spans := make(map[int]int, len(s.MWUs))
	for _, mwu := range s.MWUs {
		spans[mwu.Start] = mwu.End
	}
	return spans
}

// Check runs CheckTokens and CheckSpans.
func (s *Sentence) Check() error {
	if err := s.CheckTokens(); err != nil {
		return err
	}
	return s.CheckSpans()
}

// CheckTokens verifies that every token has a word that is not blank and a
// tag, and that neither contains a NUL character.
func (s *Sentence) CheckTokens() error {
	for i, tok := range s.Tokens {
		switch {
		case strings.TrimFunc(tok.Word, unicode.IsSpace) == "":
			return fmt.Errorf("%w: sentence %s token %d has a blank word", ErrInvalidToken, s.ID, i+1)
		case strings.TrimFunc(tok.Tag, unicode.IsSpace) == "":
			return fmt.Errorf("%w: sentence %s token %d has an empty tag", ErrInvalidToken, s.ID, i+1)
		case strings.ContainsRune(tok.Word, 0) || strings.ContainsRune(tok.Tag, 0):
			return fmt.Errorf("%w: sentence %s token %d contains a NUL character", ErrInvalidToken, s.ID, i+1)
		}
	}
	return nil
}

// CheckSpans verifies that every multi-word span lies within the tokens and
// that no two spans overlap.
func (s *Sentence) CheckSpans() error {
	covered := make([]bool, len(s.Tokens))
	for _, mwu := range s.MWUs {
		if mwu.Start < 0 || mwu.End < mwu.Start || mwu.End >= len(s.Tokens) {
			return fmt.Errorf("%w: sentence %s has [%d,%d] over %d tokens", ErrInvalidSpan, s.ID, mwu.Start, mwu.End, len(s.Tokens))
		}
		for i := mwu.Start; i <= mwu.End; i++ {
			if covered[i] {
				return fmt.Errorf("%w: sentence %s has overlapping spans at token %d", ErrInvalidSpan, s.ID, i)
			}
			covered[i] = true
		}
	}
	return nil
}

// TokenID returns the identifier of the token at position i, deriving one
// from the sentence id when the token has none.
func (s *Sentence) TokenID(i int) string {
	if i >= 0 && i < len(s.Tokens) && s.Tokens[i].ID != "" {
		return s.Tokens[i].ID
	}
	return fmt.Sprintf("%s.w.%d", s.ID, i+1)
}

// Text joins the surface forms of all tokens with single spaces.
func (s *Sentence) Text() string {
	words := make([]string, len(s.Tokens))
	for i, tok := range s.Tokens {
		words[i] = tok.Word
	}
	return strings.Join(words, " ")
}

// Dependency is one head/dependent relation projected onto token ids.
// Multi-word units expand to all of their constituent tokens on either side.
type Dependency struct {
	ID        string   `json:"id"`
	Class     string   `json:"class"`
	Set       string   `json:"set"`
	TextClass string   `json:"textclass,omitempty"`
	Head      []string `json:"head"`
	Dependent []string `json:"dependent"`
}

// DependencyLayer groups the dependencies of one sentence.
type DependencyLayer struct {
	ID           string       `json:"id"`
	Set          string       `json:"set"`
	Dependencies []Dependency `json:"dependencies"`
}

// Processor records which tool annotated a document, following the
// provenance model of the annotation format.
type Processor struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Version       string `json:"version"`
	BeginDatetime string `json:"begindatetime"`
}

// Declaration declares an annotation set used in the document together with
// the processor that produced it.
type Declaration struct {
	Annotation string `json:"annotation"`
	Set        string `json:"set"`
	Processor  string `json:"processor"`
}

// Document is the externally visible annotation document. Several annotation
// stages may write to it concurrently, so all mutation goes through its
// methods.
type Document struct {
	ID           string        `json:"id"`
	Sentences    []*Sentence   `json:"sentences"`
	Processors   []Processor   `json:"processors,omitempty"`
	Declarations []Declaration `json:"declarations,omitempty"`

	mu sync.Mutex
}

// AppendDependencyLayer attaches layer to the sentence.
func (d *Document) AppendDependencyLayer(s *Sentence, layer *DependencyLayer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.Dependencies != nil && s.Dependencies.Set == layer.Set {
		return fmt.Errorf("sentence %s: %w", s.ID, ErrDuplicateLayer)
	}
	s.Dependencies = layer
	return nil
}

// AddProcessor registers p in the document provenance.
func (d *Document) AddProcessor(p Processor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Processors = append(d.Processors, p)
}

// Declare adds an annotation declaration unless an identical one exists.
func (d *Document) Declare(decl Declaration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.Declarations {
		if existing == decl {
			return
		}
	}
	d.Declarations = append(d.Declarations, decl)
}

// Dependencies returns a snapshot of all dependency layers keyed by sentence id.
func (d *Document) Dependencies() map[string]DependencyLayer {
	d.mu.Lock()
	defer d.mu.Unlock()

	layers := make(map[string]DependencyLayer)
	for _, s := range d.Sentences {
		if s.Dependencies != nil {
			layers[s.ID] = *s.Dependencies
		}
	}
	return layers
}
