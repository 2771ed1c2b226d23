package agenda

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/schema"
	"github.com/cognicore/uberts/pkg/uberts/transition"
)

func candidate(t *testing.T, s *schema.Schema, text string, score float64) transition.Candidate {
	t.Helper()
	f, err := fact.Parse(s, text)
	require.NoError(t, err)
	return transition.Candidate{Fact: f, Score: score}
}

func newSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	_, err := s.ParseDef("def verb <tokenIndex:int>")
	require.NoError(t, err)
	return s
}

func drain(a *Agenda) []string {
	var out []string
	for {
		c, ok := a.Pop()
		if !ok {
			return out
		}
		out = append(out, c.Fact.String())
	}
}

func TestOrdering(t *testing.T) {
	s := newSchema(t)
	a := New()
	a.Push(candidate(t, s, "verb(1)", 0.5))
	a.Push(candidate(t, s, "verb(2)", 2))
	a.Push(candidate(t, s, "verb(3)", -1))
	a.Push(candidate(t, s, "verb(4)", 1))

	top, ok := a.Peek()
	require.True(t, ok)
	assert.Equal(t, "verb(2)", top.Fact.String())
	assert.Equal(t, []string{"verb(2)", "verb(4)", "verb(1)", "verb(3)"}, drain(a))
}

func TestTiesKeepGenerationOrder(t *testing.T) {
	s := newSchema(t)
	a := New()
	for _, text := range []string{"verb(5)", "verb(1)", "verb(9)", "verb(3)"} {
		a.Push(candidate(t, s, text, 1))
	}
	a.Push(candidate(t, s, "verb(7)", 3))

	items := a.Items()
	require.Len(t, items, 5)
	assert.Equal(t, "verb(7)", items[0].Fact.String())
	assert.Equal(t, []string{"verb(7)", "verb(5)", "verb(1)", "verb(9)", "verb(3)"}, drain(a))
}

func TestDedupFirstProposalWins(t *testing.T) {
	s := newSchema(t)
	a := New()
	require.True(t, a.Push(candidate(t, s, "verb(1)", 1)))
	assert.False(t, a.Push(candidate(t, s, "verb(1)", 10)))
	assert.Equal(t, 1, a.Len())
	assert.True(t, a.Contains(`verb(1)`))

	c, ok := a.Pop()
	require.True(t, ok)
	assert.Equal(t, 1.0, c.Score)
	assert.False(t, a.Contains(`verb(1)`))

	// Once popped the fact may be proposed again.
	assert.True(t, a.Push(candidate(t, s, "verb(1)", 2)))
}

func TestReset(t *testing.T) {
	s := newSchema(t)
	a := New()
	a.Push(candidate(t, s, "verb(1)", 1))
	a.Reset()
	assert.Equal(t, 0, a.Len())
	_, ok := a.Pop()
	assert.False(t, ok)
	assert.True(t, a.Push(candidate(t, s, "verb(1)", 1)))
}

func TestSelectFiltersBeforeOrdering(t *testing.T) {
	s := newSchema(t)
	a := New()
	for i, score := range []float64{1, 4, 2, 4, 3} {
		a.Push(candidate(t, s, fmt.Sprintf("verb(%d)", i), score))
	}

	calls := 0
	odd := func(c transition.Candidate) bool {
		calls++
		return c.Fact.Arg(0).Value().Int()%2 == 1
	}
	var got []string
	for _, c := range a.Select(odd) {
		got = append(got, c.Fact.String())
	}
	assert.Equal(t, []string{"verb(1)", "verb(3)"}, got)
	assert.Equal(t, 5, calls, "keep sees each queued candidate once")
	assert.Equal(t, 5, a.Len(), "selecting leaves the agenda intact")

	assert.Empty(t, a.Select(func(transition.Candidate) bool { return false }))
	assert.Len(t, a.Select(nil), 5)
}
