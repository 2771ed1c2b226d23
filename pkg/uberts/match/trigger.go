package match

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/rules"
)

// TriggerKey is the canonical shape of a rule head: the relation name with
// variables renumbered by first occurrence and literals in rule syntax,
// e.g. pair($0,$1), verb($0) or f($0,"NIL"). Integer-valued literals are
// written bare even in string slots, so f(i, 5) and f(i, "5") agree.
//
// Generators and constraints are registered against trigger keys.
type TriggerKey string

func triggerOf(rel string, head []pattern) TriggerKey {
	var b strings.Builder
	b.WriteString(rel)
	b.WriteByte('(')
	renum := map[int]int{}
	for i, p := range head {
		if i > 0 {
			b.WriteByte(',')
		}
		if p.kind == patLit {
			b.WriteString(canonicalLiteral(p.lit.Literal()))
			continue
		}
		if p.kind != patSlot {
			b.WriteString(p.String())
			continue
		}
		k, ok := renum[p.slot]
		if !ok {
			k = len(renum)
			renum[p.slot] = k
		}
		b.WriteString("$" + strconv.Itoa(k))
	}
	b.WriteByte(')')
	return TriggerKey(b.String())
}

// ParseTrigger canonicalises a head shape written as rule text, so that
// "pair(a, b)", "pair(x,y)" and "pair($0, $1)" give the same key.
func ParseTrigger(text string) (TriggerKey, error) {
	sh, err := ParseShape(text)
	if err != nil {
		return "", err
	}
	return sh.Key(), nil
}

// Shape is a parsed trigger key.
type Shape struct {
	Rel  string
	Args []ShapeArg
}

// ShapeArg is either a variable number or a literal in rule syntax.
type ShapeArg struct {
	Var int
	Lit string
}

// IsVar reports whether the argument is a variable.
func (a ShapeArg) IsVar() bool { return a.Lit == "" }

// ParseShape parses trigger text. Variables may be written as $N or as
// plain identifiers.
func ParseShape(text string) (Shape, error) {
	p, err := rules.ParsePredicate(dollarVars(strings.TrimSpace(text)))
	if err != nil {
		return Shape{}, fmt.Errorf("trigger %q: %w", text, err)
	}
	if p.Witness != "" {
		return Shape{}, fmt.Errorf("trigger %q cannot bind a witness: %w", text, internalerr.ErrParse)
	}
	sh := Shape{Rel: p.Rel}
	vars := map[string]int{}
	for _, a := range p.Args {
		switch a.Kind {
		case rules.ArgLiteral:
			sh.Args = append(sh.Args, ShapeArg{Lit: canonicalLiteral(a.Text)})
		case rules.ArgAnon:
			return Shape{}, fmt.Errorf("trigger %q: anonymous argument: %w", text, internalerr.ErrParse)
		default:
			k, ok := vars[a.Name]
			if !ok {
				k = len(vars)
				vars[a.Name] = k
			}
			sh.Args = append(sh.Args, ShapeArg{Var: k})
		}
	}
	return sh, nil
}

// dollarVars rewrites $N outside quotes to the identifier vN.
func dollarVars(s string) string {
	var b strings.Builder
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inQuote && i+1 < len(s):
			b.WriteByte(c)
			i++
			c = s[i]
		case c == '"':
			inQuote = !inQuote
		case c == '$' && !inQuote:
			c = 'v'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// canonicalLiteral renders a literal independently of its slot's kind:
// integers bare, whether written 5 or "5", and other strings quoted. A slot
// has a single kind, so this never merges two distinct nodes of one slot.
func canonicalLiteral(text string) string {
	if s, err := strconv.Unquote(text); err == nil {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(i, 10) == s {
			return s
		}
		return strconv.Quote(s)
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return text
}

// Key renders the shape as a TriggerKey.
func (s Shape) Key() TriggerKey {
	var b strings.Builder
	b.WriteString(s.Rel)
	b.WriteByte('(')
	for i, a := range s.Args {
		if i > 0 {
			b.WriteByte(',')
		}
		if a.IsVar() {
			b.WriteString("$" + strconv.Itoa(a.Var))
		} else {
			b.WriteString(a.Lit)
		}
	}
	b.WriteByte(')')
	return TriggerKey(b.String())
}

// Covers reports whether f has this shape: same relation and arity, equal
// literals, and equal nodes wherever a variable repeats.
func (s Shape) Covers(f *fact.Fact) bool {
	if f.Relation().Name() != s.Rel || f.Arity() != len(s.Args) {
		return false
	}
	bound := map[int]int{}
	for i, a := range s.Args {
		if !a.IsVar() {
			if canonicalLiteral(f.Arg(i).Literal()) != a.Lit {
				return false
			}
			continue
		}
		if j, ok := bound[a.Var]; ok {
			if f.Arg(j) != f.Arg(i) {
				return false
			}
			continue
		}
		bound[a.Var] = i
	}
	return true
}
