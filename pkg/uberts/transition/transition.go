// Package transition turns rule matches into scored candidate facts and
// holds the global constraints that decide which candidates may commit.
package transition

import (
	"fmt"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/match"
)

// Candidate is a proposed fact that has not been committed.
type Candidate struct {
	Fact  *fact.Fact
	Score float64
	// Match is the rule match the candidate came from; nil for candidates
	// proposed directly.
	Match *match.Match
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s @ %.4g", c.Fact, c.Score)
}

// Generator scores complete matches. It may return no candidates to drop a
// match. An error aborts the decode run.
type Generator interface {
	Generate(m *match.Match) ([]Candidate, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(m *match.Match) ([]Candidate, error)

func (f GeneratorFunc) Generate(m *match.Match) ([]Candidate, error) { return f(m) }

// Constant proposes every match's head with a fixed score.
func Constant(score float64) Generator {
	return GeneratorFunc(func(m *match.Match) ([]Candidate, error) {
		return []Candidate{{Fact: m.Head, Score: score, Match: m}}, nil
	})
}

// ScoreFunc scores a match. Returning keep=false prunes it.
type ScoreFunc func(m *match.Match) (score float64, keep bool, err error)

// Scored proposes each match's head with the score fn gives it.
func Scored(fn ScoreFunc) Generator {
	return GeneratorFunc(func(m *match.Match) ([]Candidate, error) {
		score, keep, err := fn(m)
		if err != nil || !keep {
			return nil, err
		}
		return []Candidate{{Fact: m.Head, Score: score, Match: m}}, nil
	})
}
