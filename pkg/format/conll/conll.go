// Package conll reads tagged sentences and writes parsed sentences in the
// tab separated CoNLL-X layout.
//
// Input sentences are separated by blank lines. A line is either
//
//	word<TAB>tag[<TAB>B|I|O]
//
// where B and I mark the first and following tokens of a multi-word unit, or
// the ten CoNLL-X columns, of which FORM and POSTAG are used.
package conll

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/OFFIS-RIT/depparse/pkg/common"
	"github.com/OFFIS-RIT/depparse/pkg/units"
)

const (
	FieldSeparator = "\t"
	NumFields      = 10
	Empty          = "_"

	mwuBegin   = "B"
	mwuInside  = "I"
	mwuOutside = "O"
)

var ErrFormat = errors.New("malformed conll input")

// Row is one output line.
type Row struct {
	ID      int
	Form    string
	CPosTag string
	PosTag  string
	Feats   string
	Head    int
	DepRel  string
}

func (r Row) String() string {
	head := Empty
	if r.Head >= 0 {
		head = strconv.Itoa(r.Head)
	}
	fields := []string{
		strconv.Itoa(r.ID),
		r.Form,
		Empty,
		orEmpty(r.CPosTag),
		orEmpty(r.PosTag),
		orEmpty(r.Feats),
		head,
		orEmpty(r.DepRel),
		Empty,
		Empty,
	}
	return strings.Join(fields, FieldSeparator)
}

func orEmpty(s string) string {
	if s == "" {
		return Empty
	}
	return s
}

type sentenceReader struct {
	sent *common.Sentence
	open int
	doc  *common.Document
}

func (r *sentenceReader) flush() {
	if r.sent == nil {
		return
	}
	r.closeSpan()
	r.doc.Sentences = append(r.doc.Sentences, r.sent)
	r.sent = nil
}

func (r *sentenceReader) closeSpan() {
	if r.open < 0 {
		return
	}
	end := len(r.sent.Tokens) - 1
	// a single token is no multi-word unit
	if end > r.open {
		r.sent.MWUs = append(r.sent.MWUs, common.Span{Start: r.open, End: end})
	}
	r.open = -1
}

// Read reads all sentences from in into a new document with id docID.
func Read(in io.Reader, docID string) (*common.Document, error) {
	r := &sentenceReader{open: -1, doc: &common.Document{ID: docID}}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			r.flush()
			continue
		}
		if strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Split(text, FieldSeparator)
		var word, tag, mark string
		switch {
		case len(fields) == NumFields:
			word, tag = fields[1], fields[4]
		case len(fields) == 2 || len(fields) == 3:
			word, tag = fields[0], fields[1]
			if len(fields) == 3 {
				mark = fields[2]
			}
		default:
			return nil, fmt.Errorf("%w: line %d has %d fields", ErrFormat, line, len(fields))
		}
		if strings.TrimSpace(word) == "" || strings.TrimSpace(tag) == "" {
			return nil, fmt.Errorf("%w: line %d has an empty word or tag", ErrFormat, line)
		}
		if strings.ContainsRune(text, 0) {
			return nil, fmt.Errorf("%w: line %d contains a NUL character", ErrFormat, line)
		}

		if r.sent == nil {
			id := fmt.Sprintf("%s.s.%d", docID, len(r.doc.Sentences)+1)
			r.sent = &common.Sentence{ID: id}
		}

		switch mark {
		case mwuBegin:
			r.closeSpan()
			r.open = len(r.sent.Tokens)
		case mwuInside:
			if r.open < 0 {
				return nil, fmt.Errorf("%w: line %d continues a multi-word unit that was never started", ErrFormat, line)
			}
		case "", mwuOutside:
			r.closeSpan()
		default:
			return nil, fmt.Errorf("%w: line %d has unknown multi-word mark %q", ErrFormat, line, mark)
		}

		r.sent.Tokens = append(r.sent.Tokens, common.Token{
			ID:   fmt.Sprintf("%s.w.%d", r.sent.ID, len(r.sent.Tokens)+1),
			Word: word,
			Tag:  tag,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}
	r.flush()

	return r.doc, nil
}

// Rows converts a sentence into output rows. Parsed sentences give one row
// per unit; sentences that were skipped give one row per token without a
// head.
func Rows(sent *common.Sentence) []Row {
	if len(sent.Units) == 0 {
		rows := make([]Row, len(sent.Tokens))
		for i, tok := range sent.Tokens {
			head, mods := units.SplitTag(tok.Tag)
			rows[i] = Row{ID: i + 1, Form: tok.Word, CPosTag: head, PosTag: tok.Tag, Feats: mods, Head: -1}
		}
		return rows
	}

	rows := make([]Row, len(sent.Units))
	for i, u := range sent.Units {
		head, mods := unitTags(sent, u)
		rows[i] = Row{
			ID:      i + 1,
			Form:    u.Word,
			CPosTag: head,
			PosTag:  u.Tag,
			Feats:   mods,
			Head:    u.ParseIndex,
			DepRel:  u.ParseRole,
		}
	}
	return rows
}

// unitTags returns the coarse tag and features of u. A multi-word unit joins
// the heads of its members with "_" and lists their features together.
func unitTags(sent *common.Sentence, u common.Unit) (string, string) {
	if len(u.Parts) < 2 {
		return units.SplitTag(u.Tag)
	}

	heads := make([]string, 0, len(u.Parts))
	var feats []string
	for _, pos := range u.Parts {
		if pos < 0 || pos >= len(sent.Tokens) {
			return units.SplitTag(u.Tag)
		}
		head, mods := units.SplitTag(sent.Tokens[pos].Tag)
		heads = append(heads, head)
		if mods != "" {
			feats = append(feats, mods)
		}
	}
	return strings.Join(heads, "_"), strings.Join(feats, "|")
}

// Write writes every sentence of doc followed by a blank line.
func Write(out io.Writer, doc *common.Document) error {
	w := bufio.NewWriter(out)
	for _, sent := range doc.Sentences {
		for _, row := range Rows(sent) {
			if _, err := w.WriteString(row.String() + "\n"); err != nil {
				return err
			}
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
