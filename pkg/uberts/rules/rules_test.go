package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

func TestParseRule(t *testing.T) {
	r, err := ParseRule(`lemma(i, l) & pos(i, "NNS") & ner(i, _) => pair(l, i)  # plural nouns`)
	require.NoError(t, err)

	require.Len(t, r.Body, 3)
	assert.Equal(t, "lemma", r.Body[0].Rel)
	assert.Equal(t, []string{"i", "l"}, r.Body[0].Vars())
	assert.Equal(t, ArgLiteral, r.Body[1].Args[1].Kind)
	assert.True(t, r.Body[1].Args[1].Quoted())
	assert.Equal(t, ArgAnon, r.Body[2].Args[1].Kind)
	assert.Equal(t, "pair", r.Head.Rel)
	assert.Equal(t, "plural nouns", r.Comment)
	assert.Equal(t, `lemma(i, l) & pos(i, "NNS") & ner(i, _) => pair(l, i)`, r.String())
}

func TestParseRuleQuotedSeparators(t *testing.T) {
	r, err := ParseRule(`lemma(i, "a & b, #c => d") => hit(i)`)
	require.NoError(t, err)
	require.Len(t, r.Body, 1)
	assert.Equal(t, `"a & b, #c => d"`, r.Body[0].Args[1].Text)
	assert.Empty(t, r.Comment)
}

func TestParsePrimed(t *testing.T) {
	p, err := ParsePredicate("event'(e, i, \"loves\")")
	require.NoError(t, err)
	assert.Equal(t, "e", p.Witness)
	assert.Len(t, p.Args, 2)
	assert.Equal(t, []string{"e", "i"}, p.Vars())
	assert.Equal(t, `event'(e, i, "loves")`, p.String())

	_, err = ParseRule("a(x) => b'(w, x)")
	assert.ErrorIs(t, err, internalerr.ErrParse)
}

func TestParseRuleErrors(t *testing.T) {
	cases := map[string]error{
		"lemma(i, l)":                     internalerr.ErrParse,
		"lemma(i, l) => a(i) => b(i)":     internalerr.ErrParse,
		"lemma(i l) => a(i)":              internalerr.ErrParse,
		"lemma(i, l) => a(x)":             internalerr.ErrUnboundVariable,
		"lemma(i, l) => a(_)":             internalerr.ErrUnboundVariable,
		"=> a(1)":                         internalerr.ErrParse,
		`lemma(i, "unterminated) => a(i)`: internalerr.ErrParse,
	}
	for text, want := range cases {
		_, err := ParseRule(text)
		assert.ErrorIs(t, err, want, text)
	}
}

func TestParseProgram(t *testing.T) {
	src := `
# toy grammar
def lemma <tokenIndex:int> <word>

lemma(i, "loves") => verb(i)
lemma(i, w) & verb(i) => action(w)
`
	prog, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, prog.Defs, 1)
	assert.Equal(t, 3, prog.Defs[0].Line)
	require.Len(t, prog.Rules, 2)
	assert.Equal(t, 5, prog.Rules[0].Line)

	_, err = ParseRules(src)
	assert.ErrorIs(t, err, internalerr.ErrParse)

	_, err = Parse(strings.NewReader("a(x) => b(x)\nbroken\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func declared(t *testing.T, defs ...string) *schema.Schema {
	t.Helper()
	s := schema.New()
	for _, d := range defs {
		_, err := s.ParseDef(d)
		require.NoError(t, err)
	}
	return s
}

func TestInferChainsAcrossRules(t *testing.T) {
	s := declared(t,
		"def lemma <tokenIndex:int> <word>",
		"def pos <tokenIndex:int> <tag>",
	)
	// The second rule reads pair before any rule types it; the first rule
	// defines it. action then picks its type up through pair.
	rs, err := ParseRules(`
pair(w, p) => action(w)
lemma(i, l) & pos(i, p) => pair(l, p)
`)
	require.NoError(t, err)
	require.NoError(t, Infer(s, rs))

	pair, ok := s.Relation("pair")
	require.True(t, ok)
	assert.Equal(t, "def pair <word> <tag>", pair.Definition())

	action, ok := s.Relation("action")
	require.True(t, ok)
	assert.Equal(t, "word", action.Type(0).Name)
}

func TestInferWitness(t *testing.T) {
	s := declared(t, "def event <tokenIndex:int> <word>")
	rs, err := ParseRules(`event'(e, i, _) => mention(e, i)`)
	require.NoError(t, err)
	require.NoError(t, Infer(s, rs))

	mention, ok := s.Relation("mention")
	require.True(t, ok)
	assert.Equal(t, "witness-event", mention.Type(0).Name)
	assert.Equal(t, schema.KindRef, mention.Type(0).Kind)
}

func TestInferErrors(t *testing.T) {
	defs := []string{
		"def lemma <tokenIndex:int> <word>",
		"def pos <tokenIndex:int> <tag>",
	}
	cases := []struct {
		name  string
		rules string
		want  error
	}{
		{"arity vs def", "lemma(i) => a(i)", internalerr.ErrSignatureConflict},
		{"arity across rules", "lemma(i, w) => a(i)\npos(i, p) => a(i, p)", internalerr.ErrSignatureConflict},
		{"type conflict in rule", "lemma(i, w) & pos(w, p) => a(p)", internalerr.ErrTypeConflict},
		{"type conflict across rules", "lemma(i, w) => a(w)\npos(i, p) => a(p)", internalerr.ErrTypeConflict},
		{"unresolved", "lemma(i, w) => a(i, \"x\")", internalerr.ErrUnresolvedType},
		{"string literal in int slot", `lemma("zero", w) => a(w)`, internalerr.ErrTypeConflict},
		{"literal through inferred slot", "lemma(i, w) => b(i)\nb(\"x\") & lemma(j, _) => c(j)", internalerr.ErrTypeConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := declared(t, defs...)
			rs, err := ParseRules(tc.rules)
			require.NoError(t, err)
			assert.ErrorIs(t, Infer(s, rs), tc.want)
		})
	}
}
