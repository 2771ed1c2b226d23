// Package fact implements typed hyperedges and the append-only fact store.
package fact

import (
	"fmt"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// Fact is a relation applied to an ordered tuple of nodes.
//
// Identity is structural: two facts with the same relation and the same
// argument nodes share a Key, whatever their Score.
type Fact struct {
	rel  *schema.Relation
	args []*schema.Node
	key  string

	// Score is the provenance score of the hypothesis that produced the fact.
	Score float64

	seq int
}

// New builds a fact, checking arity and argument types against the relation.
func New(rel *schema.Relation, args ...*schema.Node) (*Fact, error) {
	if rel == nil {
		return nil, fmt.Errorf("nil relation: %w", internalerr.ErrUnknownRelation)
	}
	if len(args) != rel.Arity() {
		return nil, fmt.Errorf("%s takes %d args, got %d: %w",
			rel.Name(), rel.Arity(), len(args), internalerr.ErrInvalidInput)
	}
	for i, a := range args {
		if a == nil {
			return nil, fmt.Errorf("%s arg %d is nil: %w", rel.Name(), i, internalerr.ErrInvalidInput)
		}
		if a.Type() != rel.Type(i) {
			return nil, fmt.Errorf("%s arg %d: node %s has type %s, want %s: %w",
				rel.Name(), i, a.Literal(), a.Type().Name, rel.Type(i).Name, internalerr.ErrInvalidValue)
		}
	}
	f := &Fact{rel: rel, args: append([]*schema.Node(nil), args...)}
	f.key = encodeKey(rel, f.args)
	return f, nil
}

// Parse builds a fact from "rel(v1, v2, ...)" using the schema's relation
// definitions to read each value.
func Parse(s *schema.Schema, text string) (*Fact, error) {
	text = strings.TrimSpace(text)
	open := strings.IndexByte(text, '(')
	if open <= 0 || !strings.HasSuffix(text, ")") {
		return nil, fmt.Errorf("expected rel(args): %q: %w", text, internalerr.ErrParse)
	}
	var parts []string
	if inner := strings.TrimSpace(text[open+1 : len(text)-1]); inner != "" {
		parts = splitArgs(inner)
	}
	return FromStrings(s, strings.TrimSpace(text[:open]), parts)
}

// FromStrings builds a fact of the named relation from argument texts, each
// read with schema.ParseValue against its slot's type.
func FromStrings(s *schema.Schema, name string, parts []string) (*Fact, error) {
	rel, ok := s.Relation(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, internalerr.ErrUnknownRelation)
	}
	if len(parts) != rel.Arity() {
		return nil, fmt.Errorf("%s takes %d args, got %d: %w",
			name, rel.Arity(), len(parts), internalerr.ErrInvalidInput)
	}
	args := make([]*schema.Node, len(parts))
	for i, p := range parts {
		n, err := s.ParseNode(rel.Type(i), p)
		if err != nil {
			return nil, fmt.Errorf("%s arg %d: %w", name, i, err)
		}
		args[i] = n
	}
	return New(rel, args...)
}

// splitArgs splits on commas outside double quotes.
func splitArgs(s string) []string {
	var parts []string
	var b strings.Builder
	inQuote, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			parts = append(parts, strings.TrimSpace(b.String()))
			b.Reset()
			continue
		}
		b.WriteRune(r)
	}
	return append(parts, strings.TrimSpace(b.String()))
}

func encodeKey(rel *schema.Relation, args []*schema.Node) string {
	var b strings.Builder
	b.WriteString(rel.Name())
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.Literal())
	}
	b.WriteByte(')')
	return b.String()
}

func (f *Fact) Relation() *schema.Relation { return f.rel }

// Arity is the number of arguments.
func (f *Fact) Arity() int { return len(f.args) }

// Arg returns argument i.
func (f *Fact) Arg(i int) *schema.Node { return f.args[i] }

// Args returns a copy of the argument tuple.
func (f *Fact) Args() []*schema.Node {
	return append([]*schema.Node(nil), f.args...)
}

// Key is the structural identity of the fact.
func (f *Fact) Key() string { return f.key }

// Seq is the 1-based commit position in the owning store, or 0 when the fact
// has not been committed.
func (f *Fact) Seq() int { return f.seq }

// Witness interns the node that refers to this fact.
func (f *Fact) Witness(s *schema.Schema) (*schema.Node, error) {
	return s.Node(f.rel.Witness(), schema.Ref(f.key))
}

// String renders the fact as "rel(v1, v2)".
func (f *Fact) String() string {
	var b strings.Builder
	b.WriteString(f.rel.Name())
	b.WriteByte('(')
	for i, a := range f.args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Values returns the rendered argument values, as written in data files.
func (f *Fact) Values() []string {
	out := make([]string, len(f.args))
	for i, a := range f.args {
		out[i] = a.String()
	}
	return out
}
