// Package rules parses rule text and infers relation signatures from it.
//
// A rule is a conjunction of body predicates and one head:
//
//	lemma(i, l) & pos(i, p) => pair(l, p)
//	event'(e, i, "loves") & lemma(i, l) => verb(i)   # e is the witness of the event fact
//
// Arguments are variables, the anonymous variable _, quoted strings or
// integers.
package rules

import (
	"strings"
)

// ArgKind tells how a predicate argument is matched.
type ArgKind uint8

const (
	ArgVar ArgKind = iota
	ArgAnon
	ArgLiteral
)

// Arg is one predicate argument.
type Arg struct {
	Kind ArgKind
	// Name is the variable name for ArgVar.
	Name string
	// Text is the literal as written (quotes kept) for ArgLiteral.
	Text string
}

// Quoted reports whether a literal was written as a quoted string.
func (a Arg) Quoted() bool {
	return a.Kind == ArgLiteral && strings.HasPrefix(a.Text, `"`)
}

func (a Arg) String() string {
	switch a.Kind {
	case ArgAnon:
		return "_"
	case ArgLiteral:
		return a.Text
	}
	return a.Name
}

// Predicate is one relation occurrence in a rule.
type Predicate struct {
	Rel  string
	Args []Arg
	// Witness is the variable bound to the matched fact itself, written with
	// a prime: rel'(w, a, b). Empty when absent.
	Witness string
}

func (p Predicate) String() string {
	var b strings.Builder
	b.WriteString(p.Rel)
	args := p.Args
	if p.Witness != "" {
		b.WriteByte('\'')
		args = append([]Arg{{Kind: ArgVar, Name: p.Witness}}, args...)
	}
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Vars returns the named variables of p in order of first occurrence,
// witness first.
func (p Predicate) Vars() []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	add(p.Witness)
	for _, a := range p.Args {
		if a.Kind == ArgVar {
			add(a.Name)
		}
	}
	return out
}

// Rule is body => head.
type Rule struct {
	Body []Predicate
	Head Predicate
	// Comment is the trailing # comment, if any.
	Comment string
	// Line is the 1-based source line, or 0 for rules not read from a file.
	Line int
}

func (r *Rule) String() string {
	var b strings.Builder
	for i, p := range r.Body {
		if i > 0 {
			b.WriteString(" & ")
		}
		b.WriteString(p.String())
	}
	b.WriteString(" => ")
	b.WriteString(r.Head.String())
	return b.String()
}

// BodyVars returns the variables bound anywhere in the body.
func (r *Rule) BodyVars() map[string]bool {
	out := map[string]bool{}
	for _, v := range r.BodyVarsOrdered() {
		out[v] = true
	}
	return out
}

// BodyVarsOrdered returns the body variables in order of first occurrence.
func (r *Rule) BodyVarsOrdered() []string {
	var out []string
	seen := map[string]bool{}
	for _, p := range r.Body {
		for _, v := range p.Vars() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}
