package uberts

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/learn"
	"github.com/cognicore/uberts/pkg/uberts/match"
	"github.com/cognicore/uberts/pkg/uberts/transition"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustGrammar(t *testing.T, text string) *Grammar {
	t.Helper()
	g, err := NewGrammar(text)
	require.NoError(t, err)
	return g
}

func add(t *testing.T, e *Engine, texts ...string) {
	t.Helper()
	for _, text := range texts {
		f, err := e.ParseFact(text)
		require.NoError(t, err)
		require.NoError(t, e.AddFact(f))
	}
}

func strs(fs []*fact.Fact) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.String()
	}
	return out
}

func TestEndToEndVerb(t *testing.T) {
	g := mustGrammar(t, `
def lemma <tokenIndex:int> <word>
lemma(i, "loves") => verb(i)
`)
	e := New(g, Options{Logger: quiet()})
	add(t, e, `lemma(0, "John")`, `lemma(1, "loves")`, `lemma(2, "Mary")`)

	out, err := e.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, Done, out)
	assert.Equal(t, []string{"verb(1)"}, strs(e.Facts("verb")))
}

func TestAddFactIdempotent(t *testing.T) {
	g := mustGrammar(t, "def lemma <tokenIndex:int> <word>\nlemma(i, w) => tok(i)\n")
	e := New(g, Options{Logger: quiet()})
	add(t, e, "lemma(0, John)")
	n, pending := e.Store().Len(), e.Agenda().Len()

	add(t, e, "lemma(0, John)")
	assert.Equal(t, n, e.Store().Len())
	assert.Equal(t, pending, e.Agenda().Len())
}

const posGrammar = `
def lemma <tokenIndex:int> <word>
def tagOpt <tag>
lemma(i, w) & tagOpt(t) => pos(i, t)
pos(i, t) & lemma(i, w) => tagged(w, t)
`

var tagScores = map[string]float64{
	"NN|John": 2, "VB|John": 1, "JJ|John": 0.5,
	"NN|loves": 1, "VB|loves": 3, "JJ|loves": 1,
	"NN|blue": 1, "VB|blue": 1, "JJ|blue": 1,
}

func posRegistry(t *testing.T) *transition.Registry {
	t.Helper()
	r := transition.NewRegistry()
	require.NoError(t, r.Register("pos(i, t)", transition.Scored(func(m *match.Match) (float64, bool, error) {
		w, _ := m.Binding("w")
		tag, _ := m.Binding("t")
		return tagScores[tag.String()+"|"+w.String()], true, nil
	})))
	require.NoError(t, r.RegisterGlobalConstraint("pos(i, t)", transition.ByArgs(0), transition.AtMostOne()))
	return r
}

func newPosEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	opts.Logger = quiet()
	if opts.Registry == nil {
		opts.Registry = posRegistry(t)
	}
	e := New(mustGrammar(t, posGrammar), opts)
	for _, tag := range []string{"NN", "VB", "JJ"} {
		f, err := e.ParseFact("tagOpt(" + tag + ")")
		require.NoError(t, err)
		require.NoError(t, e.AddSchemaFact(f))
	}
	add(t, e, "lemma(0, John)", "lemma(1, loves)", "lemma(2, blue)")
	return e
}

func TestAtMostOnePerToken(t *testing.T) {
	e := newPosEngine(t, Options{})
	out, err := e.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, Done, out)

	// Best tag per token; ties resolve to the earliest proposal (NN).
	assert.ElementsMatch(t, []string{"pos(0, NN)", "pos(1, VB)", "pos(2, NN)"}, strs(e.Facts("pos")))
	assert.ElementsMatch(t, []string{"tagged(John, NN)", "tagged(loves, VB)", "tagged(blue, NN)"}, strs(e.Facts("tagged")))

	vetoed := 0
	for _, s := range e.Trajectory() {
		if !s.Committed {
			vetoed++
			assert.NotEmpty(t, s.Reason)
		}
	}
	assert.Equal(t, 6, vetoed)
}

func TestDeterministic(t *testing.T) {
	run := func() []string {
		e := newPosEngine(t, Options{})
		_, err := e.Decode(0)
		require.NoError(t, err)
		return strs(e.Store().All())
	}
	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestBudgetExceeded(t *testing.T) {
	// Each item fact's witness seeds a new item, so decoding never runs dry.
	g := mustGrammar(t, `
def item <witness-item:ref>
item'(w, x) => item(w)
`)
	e := New(g, Options{Logger: quiet(), Budget: 5})
	add(t, e, `item(&"seed")`)

	out, err := e.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, BudgetExceeded, out)
	assert.Equal(t, 6, e.Store().Len())

	out, err = e.Decode(3)
	require.NoError(t, err)
	assert.Equal(t, BudgetExceeded, out)
	assert.Equal(t, 9, e.Store().Len())
}

func TestEmptyAgendaBeatsBudget(t *testing.T) {
	g := mustGrammar(t, "def lemma <tokenIndex:int> <word>\nlemma(i, \"loves\") => verb(i)\n")
	e := New(g, Options{Logger: quiet()})
	add(t, e, `lemma(1, "loves")`)

	out, err := e.Decode(1)
	require.NoError(t, err)
	assert.Equal(t, Done, out)
}

func TestGeneratorErrorAborts(t *testing.T) {
	g := mustGrammar(t, `
def lemma <tokenIndex:int> <word>
lemma(i, "loves") => verb(i)
verb(i) => event(i)
`)
	boom := errors.New("scorer unavailable")
	r := transition.NewRegistry()
	require.NoError(t, r.Register("event(i)", transition.GeneratorFunc(func(*match.Match) ([]transition.Candidate, error) {
		return nil, boom
	})))
	e := New(g, Options{Logger: quiet(), Registry: r})
	add(t, e, `lemma(1, "loves")`)

	_, err := e.Decode(0)
	require.Error(t, err)
	assert.ErrorIs(t, err, internalerr.ErrGenerator)
	assert.Contains(t, err.Error(), "scorer unavailable")
}

func TestThreshold(t *testing.T) {
	cutoff := 1.0
	e := newPosEngine(t, Options{Threshold: &cutoff})
	_, err := e.Decode(0)
	require.NoError(t, err)
	// Only candidates scoring above 1 survive; tagged uses the default
	// generator (score 0) and is pruned as well.
	assert.ElementsMatch(t, []string{"pos(0, NN)", "pos(1, VB)"}, strs(e.Facts("pos")))
	assert.Empty(t, e.Facts("tagged"))
}

func TestTrainSignals(t *testing.T) {
	var signals []learn.Signal
	e := newPosEngine(t, Options{
		Mode:    ModeTrain,
		Learner: learn.LearnerFunc(func(s learn.Signal) error { signals = append(signals, s); return nil }),
	})
	var gold []*fact.Fact
	for _, text := range []string{"pos(0, NN)", "pos(1, VB)", "pos(2, JJ)"} {
		f, err := e.ParseFact(text)
		require.NoError(t, err)
		gold = append(gold, f)
	}
	require.NoError(t, e.SetGoldLabels("pos", gold))

	_, err := e.Decode(0)
	require.NoError(t, err)

	// Only supervised relations produce signals: 9 pos decisions.
	require.Len(t, signals, 9)
	wrong := 0
	for _, s := range signals {
		if !s.Correct() {
			wrong++
		}
	}
	// pos(2, NN) committed but not gold; pos(2, JJ) gold but vetoed.
	assert.Equal(t, 2, wrong)

	perf, err := e.Performance("pos")
	require.NoError(t, err)
	assert.Equal(t, 2, perf.TP)
	assert.Equal(t, 1, perf.FP)
	assert.Equal(t, 1, perf.FN)
}

func TestOracleCommitsOnlyGold(t *testing.T) {
	e := newPosEngine(t, Options{Mode: ModeOracle})
	var gold []*fact.Fact
	for _, text := range []string{"pos(0, VB)", "pos(2, JJ)"} {
		f, err := e.ParseFact(text)
		require.NoError(t, err)
		gold = append(gold, f)
	}
	require.NoError(t, e.SetGoldLabels("pos", gold))

	_, err := e.Decode(0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pos(0, VB)", "pos(2, JJ)"}, strs(e.Facts("pos")))

	perf, err := e.Performance("pos")
	require.NoError(t, err)
	assert.Equal(t, 2, perf.TP)
	assert.Zero(t, perf.FP+perf.FN)
}

func TestPerceptronLearnsFromTraining(t *testing.T) {
	p := learn.NewPerceptron(learn.RuleFeatures, 1)
	r := transition.NewRegistry()
	require.NoError(t, r.Register("pos(i, t)", p))
	require.NoError(t, r.RegisterGlobalConstraint("pos(i, t)", transition.ByArgs(0), transition.AtMostOne()))

	goldTexts := []string{"pos(0, VB)", "pos(1, VB)", "pos(2, VB)"}
	for epoch := 0; epoch < 3; epoch++ {
		e := newPosEngine(t, Options{Mode: ModeTrain, Registry: r, Learner: p})
		var gold []*fact.Fact
		for _, text := range goldTexts {
			f, err := e.ParseFact(text)
			require.NoError(t, err)
			gold = append(gold, f)
		}
		require.NoError(t, e.SetGoldLabels("pos", gold))
		_, err := e.Decode(0)
		require.NoError(t, err)
	}
	assert.Greater(t, p.Updates(), 0)
	assert.Greater(t, p.Weight("r0:t=VB"), 0.0)

	e := newPosEngine(t, Options{Registry: r})
	_, err := e.Decode(0)
	require.NoError(t, err)
	assert.ElementsMatch(t, goldTexts, strs(e.Facts("pos")))
}

func TestResetKeepsSchemaFacts(t *testing.T) {
	e := newPosEngine(t, Options{})
	_, err := e.Decode(0)
	require.NoError(t, err)
	require.NotEmpty(t, e.Trajectory())

	require.NoError(t, e.Reset())
	assert.Equal(t, 3, e.Store().Len(), "tagOpt facts survive")
	assert.Empty(t, e.Trajectory())
	assert.Equal(t, 0, e.Agenda().Len())

	add(t, e, "lemma(0, loves)")
	_, err = e.Decode(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"pos(0, VB)"}, strs(e.Facts("pos")))
}

func TestGrammarErrors(t *testing.T) {
	_, err := NewGrammar("def lemma <tokenIndex:int> <word>\nlemma(i, w) & lemma(w, i) => x(i)\n")
	assert.ErrorIs(t, err, internalerr.ErrTypeConflict)

	_, err = NewGrammar("def a <t>\ndef a <t> <t>\n")
	assert.ErrorIs(t, err, internalerr.ErrSignatureConflict)

	_, err = NewGrammar("a(x) => b(y)\n")
	assert.ErrorIs(t, err, internalerr.ErrUnboundVariable)

	_, err = NewGrammar("a(x) => b(x)\n")
	assert.ErrorIs(t, err, internalerr.ErrUnresolvedType)

	_, err = NewGrammar("a(x) b(x)\n")
	assert.ErrorIs(t, err, internalerr.ErrParse)
}

func TestNoPredictRules(t *testing.T) {
	g := mustGrammar(t, `
def lemma <tokenIndex:int> <word>
lemma(i, "loves") => verb(i)
lemma(i, w) => tok(i)  # helper, NOPREDICT
`)
	require.Len(t, g.Rules, 1)
	require.Len(t, g.Skipped, 1)
	_, ok := g.Relation("tok")
	assert.True(t, ok, "skipped rules are still typed")

	e := New(g, Options{Logger: quiet()})
	add(t, e, `lemma(1, "loves")`)
	_, err := e.Decode(0)
	require.NoError(t, err)
	assert.Empty(t, e.Facts("tok"))
}

func TestSetGoldLabelsErrors(t *testing.T) {
	e := newPosEngine(t, Options{})
	assert.ErrorIs(t, e.SetGoldLabels("nope", nil), internalerr.ErrUnknownRelation)

	f, err := e.ParseFact("lemma(0, John)")
	require.NoError(t, err)
	assert.ErrorIs(t, e.SetGoldLabels("pos", []*fact.Fact{f}), internalerr.ErrInvalidInput)
}
