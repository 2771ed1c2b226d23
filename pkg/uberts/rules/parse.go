package rules

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
)

// Program is a parsed grammar file: relation declarations and rules.
type Program struct {
	Defs  []Def
	Rules []*Rule
}

// Def is a "def name <type>..." line kept verbatim for the schema.
type Def struct {
	Text string
	Line int
}

// Parse reads a grammar. Each non-empty line is a def, a rule or a comment.
func Parse(r io.Reader) (*Program, error) {
	prog := &Program{}
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "def ") {
			text, _ := splitComment(line)
			prog.Defs = append(prog.Defs, Def{Text: text, Line: lineNum})
			continue
		}

		rule, err := ParseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		rule.Line = lineNum
		prog.Rules = append(prog.Rules, rule)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return prog, nil
}

// ParseRules parses rule-only text. def lines are rejected since they need a
// schema to land in; use Parse for full grammars.
func ParseRules(text string) ([]*Rule, error) {
	prog, err := Parse(strings.NewReader(text))
	if err != nil {
		return nil, err
	}
	if len(prog.Defs) > 0 {
		return nil, fmt.Errorf("line %d: unexpected def in rule text: %w", prog.Defs[0].Line, internalerr.ErrParse)
	}
	return prog.Rules, nil
}

// ParseRule parses "p(a, b) & q(b) => h(a)" with an optional trailing
// "# comment".
func ParseRule(text string) (*Rule, error) {
	text, comment := splitComment(text)

	parts := splitTop(text, "=>")
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected exactly one '=>' in %q: %w", text, internalerr.ErrParse)
	}

	rule := &Rule{Comment: comment}
	for _, conj := range splitTop(parts[0], "&") {
		p, err := ParsePredicate(conj)
		if err != nil {
			return nil, err
		}
		rule.Body = append(rule.Body, p)
	}
	if len(rule.Body) == 0 {
		return nil, fmt.Errorf("empty body in %q: %w", text, internalerr.ErrParse)
	}

	head, err := ParsePredicate(parts[1])
	if err != nil {
		return nil, err
	}
	if head.Witness != "" {
		return nil, fmt.Errorf("head %s cannot bind a witness: %w", head, internalerr.ErrParse)
	}
	rule.Head = head

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// Validate checks that every head variable is bound by the body.
func (r *Rule) Validate() error {
	bound := r.BodyVars()
	for _, a := range r.Head.Args {
		switch {
		case a.Kind == ArgAnon:
			return fmt.Errorf("%s: anonymous variable in head: %w", r, internalerr.ErrUnboundVariable)
		case a.Kind == ArgVar && !bound[a.Name]:
			return fmt.Errorf("%s: head variable %s not bound by body: %w", r, a.Name, internalerr.ErrUnboundVariable)
		}
	}
	return nil
}

// ParsePredicate parses "rel(a, b)" or the primed form "rel'(w, a, b)".
func ParsePredicate(text string) (Predicate, error) {
	text = strings.TrimSpace(text)
	open := strings.IndexByte(text, '(')
	if open <= 0 || !strings.HasSuffix(text, ")") {
		return Predicate{}, fmt.Errorf("expected rel(args): %q: %w", text, internalerr.ErrParse)
	}

	name := strings.TrimSpace(text[:open])
	primed := strings.HasSuffix(name, "'")
	name = strings.TrimSpace(strings.TrimSuffix(name, "'"))
	if !isIdent(name) {
		return Predicate{}, fmt.Errorf("bad relation name %q: %w", name, internalerr.ErrParse)
	}

	p := Predicate{Rel: name}
	inner := strings.TrimSpace(text[open+1 : len(text)-1])
	if inner != "" {
		for _, raw := range splitTop(inner, ",") {
			a, err := parseArg(raw)
			if err != nil {
				return Predicate{}, fmt.Errorf("%s: %w", name, err)
			}
			p.Args = append(p.Args, a)
		}
	}

	if primed {
		if len(p.Args) == 0 || p.Args[0].Kind != ArgVar {
			return Predicate{}, fmt.Errorf("%s': first argument must name the witness: %w", name, internalerr.ErrParse)
		}
		p.Witness = p.Args[0].Name
		p.Args = p.Args[1:]
	}
	return p, nil
}

func parseArg(raw string) (Arg, error) {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return Arg{}, fmt.Errorf("empty argument: %w", internalerr.ErrParse)
	case s == "_":
		return Arg{Kind: ArgAnon}, nil
	case s[0] == '"':
		if _, err := strconv.Unquote(s); err != nil {
			return Arg{}, fmt.Errorf("bad string literal %s: %w", s, internalerr.ErrParse)
		}
		return Arg{Kind: ArgLiteral, Text: s}, nil
	case isInt(s):
		return Arg{Kind: ArgLiteral, Text: s}, nil
	case isIdent(s):
		return Arg{Kind: ArgVar, Name: s}, nil
	}
	return Arg{}, fmt.Errorf("bad argument %q: %w", s, internalerr.ErrParse)
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || r == '-') {
			continue
		}
		return false
	}
	return true
}

func isInt(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

// splitComment cuts a trailing # comment that is not inside quotes.
func splitComment(s string) (text, comment string) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if inQuote {
				i++
			}
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:])
			}
		}
	}
	return strings.TrimSpace(s), ""
}

// splitTop splits s on sep where sep is outside quotes and parentheses.
func splitTop(s, sep string) []string {
	var parts []string
	depth, inQuote, start := 0, false, 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && inQuote:
			i++
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, strings.TrimSpace(s[start:i]))
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}
