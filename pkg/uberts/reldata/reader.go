// Package reldata reads and writes relation data files.
//
// A file is a sequence of lines, each a command followed by
// whitespace-separated tokens:
//
//	def lemma <tokenIndex:int> <word>
//	startdoc doc42
//	schema tagOpt NN
//	x lemma 0 John
//	y pos 0 NN
//
// "def" declares a relation, "startdoc" opens a document, "schema" adds a
// fact that survives the engine's Reset, "x" an observed fact and "y" a gold
// label. Tokens holding whitespace are written as Go-quoted strings, refs as
// &"key". Schema lines before the first startdoc form the file header and are
// returned by Reader.Shared instead of any document; observed and gold lines
// there belong to a document with an empty ID. "#" starts a comment outside
// quotes.
package reldata

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// Commands.
const (
	CmdDef      = "def"
	CmdStartDoc = "startdoc"
	CmdSchema   = "schema"
	CmdObserved = "x"
	CmdGold     = "y"
)

// Item is one fact line.
type Item struct {
	Command  string
	Relation string
	Args     []string
	Line     int
}

// String renders the item as a data line.
func (it Item) String() string {
	return strings.Join(append([]string{it.Command, it.Relation}, it.Args...), " ")
}

// Doc is one document: its ID and the fact lines that followed its startdoc.
type Doc struct {
	ID    string
	Line  int
	Items []Item
}

// Lines returns the items with the given command.
func (d *Doc) Lines(command string) []Item {
	var out []Item
	for _, it := range d.Items {
		if it.Command == command {
			out = append(out, it)
		}
	}
	return out
}

// Counts returns the number of items per relation.
func (d *Doc) Counts() map[string]int {
	out := map[string]int{}
	for _, it := range d.Items {
		out[it.Relation]++
	}
	return out
}

// Sink receives a document's facts. *uberts.Engine satisfies it.
type Sink interface {
	AddFact(f *fact.Fact) error
	AddSchemaFact(f *fact.Fact) error
	AddGoldLabel(f *fact.Fact)
}

// Load builds every item's fact against s and hands it to sink in file
// order.
func (d *Doc) Load(s *schema.Schema, sink Sink) error {
	for _, it := range d.Items {
		f, err := fact.FromStrings(s, it.Relation, it.Args)
		if err != nil {
			return fmt.Errorf("doc %q line %d: %w", d.ID, it.Line, err)
		}
		switch it.Command {
		case CmdSchema:
			err = sink.AddSchemaFact(f)
		case CmdObserved:
			err = sink.AddFact(f)
		case CmdGold:
			sink.AddGoldLabel(f)
		}
		if err != nil {
			return fmt.Errorf("doc %q line %d: %w", d.ID, it.Line, err)
		}
	}
	return nil
}

// Reader iterates over the documents of a relation data file.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	dedup   bool
	defs    []string
	pending *Doc
	done    bool

	started    bool
	shared     []Item
	sharedSeen map[string]bool
}

// NewReader creates a reader. With dedup, repeated lines within a document
// are dropped.
func NewReader(r io.Reader, dedup bool) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Reader{scanner: sc, dedup: dedup}
}

// Defs returns the def lines read so far.
func (r *Reader) Defs() []string { return r.defs }

// Shared returns the header schema lines read so far as a document with an
// empty ID. Load it into every engine before the engine's own document.
func (r *Reader) Shared() *Doc {
	return &Doc{Items: append([]Item(nil), r.shared...)}
}

// ApplyDefs registers the def lines read so far with s.
func (r *Reader) ApplyDefs(s *schema.Schema) error {
	for _, d := range r.defs {
		if _, err := s.ParseDef(d); err != nil {
			return err
		}
	}
	return nil
}

// Next returns the next document, or io.EOF when there are none left.
func (r *Reader) Next() (*Doc, error) {
	if r.done {
		return nil, io.EOF
	}
	doc := r.pending
	r.pending = nil
	var seen map[string]bool
	if r.dedup {
		seen = map[string]bool{}
	}

	for r.scanner.Scan() {
		r.line++
		text, err := stripComment(r.scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		if text == "" {
			continue
		}
		toks, err := tokenize(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}

		switch toks[0] {
		case CmdDef:
			r.defs = append(r.defs, text)
		case CmdStartDoc:
			if len(toks) != 2 {
				return nil, fmt.Errorf("line %d: startdoc takes one id: %w", r.line, internalerr.ErrParse)
			}
			r.started = true
			next := &Doc{ID: toks[1], Line: r.line}
			if doc != nil {
				r.pending = next
				return doc, nil
			}
			doc = next
		case CmdSchema, CmdObserved, CmdGold:
			if len(toks) < 2 {
				return nil, fmt.Errorf("line %d: %s needs a relation: %w", r.line, toks[0], internalerr.ErrParse)
			}
			it := Item{Command: toks[0], Relation: toks[1], Args: toks[2:], Line: r.line}
			if !r.started && it.Command == CmdSchema {
				r.addShared(text, it)
				continue
			}
			if doc == nil {
				doc = &Doc{Line: r.line}
			}
			if seen != nil {
				if seen[text] {
					continue
				}
				seen[text] = true
			}
			doc.Items = append(doc.Items, it)
		default:
			return nil, fmt.Errorf("line %d: unknown command %q: %w", r.line, toks[0], internalerr.ErrParse)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	r.done = true
	if doc == nil {
		return nil, io.EOF
	}
	return doc, nil
}

func (r *Reader) addShared(text string, it Item) {
	if r.dedup {
		if r.sharedSeen == nil {
			r.sharedSeen = map[string]bool{}
		}
		if r.sharedSeen[text] {
			return
		}
		r.sharedSeen[text] = true
	}
	r.shared = append(r.shared, it)
}

// ReadAll reads every remaining document.
func (r *Reader) ReadAll() ([]*Doc, error) {
	var docs []*Doc
	for {
		d, err := r.Next()
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
}

// stripComment drops a trailing "# ..." that is not inside quotes.
func stripComment(line string) (string, error) {
	inQuote, escaped := false, false
	for i, c := range line {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == '#' && !inQuote:
			return strings.TrimSpace(line[:i]), nil
		}
	}
	if inQuote {
		return "", fmt.Errorf("unterminated quote: %w", internalerr.ErrParse)
	}
	return strings.TrimSpace(line), nil
}

// tokenize splits on whitespace outside quotes. Quoted tokens keep their
// quotes so schema.ParseValue can tell "12" from 12.
func tokenize(line string) ([]string, error) {
	var toks []string
	var b strings.Builder
	inQuote, escaped := false, false
	flush := func() {
		if b.Len() > 0 {
			toks = append(toks, b.String())
			b.Reset()
		}
	}
	for _, c := range line {
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case !inQuote && (c == ' ' || c == '\t'):
			flush()
			continue
		}
		b.WriteRune(c)
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote: %w", internalerr.ErrParse)
	}
	flush()
	return toks, nil
}
