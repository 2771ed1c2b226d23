package uberts

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/match"
	"github.com/cognicore/uberts/pkg/uberts/rules"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// NoPredictTag in a rule's trailing comment keeps the rule out of the
// matching network. Its relations still take part in type inference.
const NoPredictTag = "nopredict"

// Grammar is a compiled rule set and the schema it was typed against. It
// does not change after compilation and is shared by every Engine built on
// it, including engines running concurrently on different documents.
type Grammar struct {
	Schema  *schema.Schema
	Network *match.Network
	// Rules are the rules in the network, in source order.
	Rules []*rules.Rule
	// Skipped are the rules tagged nopredict.
	Skipped []*rules.Rule
}

// NewGrammar compiles grammar text: def lines, rules and # comments.
func NewGrammar(text string) (*Grammar, error) {
	return ParseGrammar(strings.NewReader(text))
}

// LoadGrammar compiles the grammar file at path.
func LoadGrammar(path string) (*Grammar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	g, err := ParseGrammar(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// ParseGrammar reads and compiles a grammar.
func ParseGrammar(r io.Reader) (*Grammar, error) {
	prog, err := rules.Parse(r)
	if err != nil {
		return nil, err
	}
	s := schema.New()
	for _, d := range prog.Defs {
		if _, err := s.ParseDef(d.Text); err != nil {
			return nil, fmt.Errorf("line %d: %w", d.Line, err)
		}
	}
	return Compile(s, prog.Rules)
}

// Compile types rs against s and builds the matching network.
func Compile(s *schema.Schema, rs []*rules.Rule) (*Grammar, error) {
	if err := rules.Infer(s, rs); err != nil {
		return nil, err
	}
	g := &Grammar{Schema: s}
	for _, r := range rs {
		if strings.Contains(strings.ToLower(r.Comment), NoPredictTag) {
			g.Skipped = append(g.Skipped, r)
			continue
		}
		g.Rules = append(g.Rules, r)
	}
	net, err := match.Compile(s, g.Rules)
	if err != nil {
		return nil, err
	}
	g.Network = net
	return g, nil
}

// Relation looks up a relation by name.
func (g *Grammar) Relation(name string) (*schema.Relation, bool) {
	return g.Schema.Relation(name)
}
