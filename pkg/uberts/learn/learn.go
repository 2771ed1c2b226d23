// Package learn defines training signals and an online perceptron scorer.
package learn

import (
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/cognicore/uberts/pkg/uberts/match"
	"github.com/cognicore/uberts/pkg/uberts/transition"
)

// Signal reports what the decoder did with one candidate and whether the
// candidate was gold.
type Signal struct {
	Candidate transition.Candidate
	Gold      bool
	Committed bool
}

// Correct reports whether the decision agreed with the gold labels.
func (s Signal) Correct() bool { return s.Gold == s.Committed }

// Learner receives signals during training decodes.
type Learner interface {
	Observe(s Signal) error
}

// LearnerFunc adapts a function to Learner.
type LearnerFunc func(s Signal) error

func (f LearnerFunc) Observe(s Signal) error { return f(s) }

// FeatureFunc names the active binary features of a match.
type FeatureFunc func(m *match.Match) []string

// Perceptron scores matches by summing feature weights and updates the
// weights on wrong decisions. Safe for concurrent use.
type Perceptron struct {
	features FeatureFunc
	rate     float64

	mu      sync.RWMutex
	weights map[string]float64
	updates int
}

// NewPerceptron creates a perceptron with all weights zero. A rate of zero
// means 1.
func NewPerceptron(features FeatureFunc, rate float64) *Perceptron {
	if rate == 0 {
		rate = 1
	}
	return &Perceptron{features: features, rate: rate, weights: map[string]float64{}}
}

// Score sums the weights of m's features.
func (p *Perceptron) Score(m *match.Match) float64 {
	feats := p.features(m)
	p.mu.RLock()
	defer p.mu.RUnlock()
	var s float64
	for _, f := range feats {
		s += p.weights[f]
	}
	return s
}

// Generate proposes m's head with its perceptron score.
func (p *Perceptron) Generate(m *match.Match) ([]transition.Candidate, error) {
	return []transition.Candidate{{Fact: m.Head, Score: p.Score(m), Match: m}}, nil
}

// Observe promotes the features of gold candidates that were not committed
// and demotes those of committed candidates that were not gold. Candidates
// without a match carry no features and are ignored.
func (p *Perceptron) Observe(s Signal) error {
	if s.Correct() || s.Candidate.Match == nil {
		return nil
	}
	delta := p.rate
	if s.Committed {
		delta = -p.rate
	}
	feats := p.features(s.Candidate.Match)

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range feats {
		p.weights[f] += delta
	}
	p.updates++
	return nil
}

// Weight returns the current weight of a feature.
func (p *Perceptron) Weight(feature string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.weights[feature]
}

// Weights returns a copy of the non-zero weights.
func (p *Perceptron) Weights() map[string]float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]float64, len(p.weights))
	for k, v := range p.weights {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

// Updates is the number of mistake-driven updates so far.
func (p *Perceptron) Updates() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updates
}

// TopFeatures returns up to n features with the largest absolute weight.
func (p *Perceptron) TopFeatures(n int) []string {
	w := p.Weights()
	out := make([]string, 0, len(w))
	for k := range w {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(w[out[i]]), math.Abs(w[out[j]])
		if ai != aj {
			return ai > aj
		}
		return out[i] < out[j]
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RuleFeatures is a FeatureFunc firing one feature per rule, one per rule
// and bound value, and one per pair of bound values, e.g. "r0",
// "r0:l=John" and "r0:i=0,l=John".
func RuleFeatures(m *match.Match) []string {
	r := "r" + strconv.Itoa(m.Terminal.Index())
	feats := []string{r}
	var binds []string
	for _, v := range m.Terminal.Rule.BodyVarsOrdered() {
		if n, ok := m.Binding(v); ok {
			binds = append(binds, v+"="+n.String())
		}
	}
	for _, b := range binds {
		feats = append(feats, r+":"+b)
	}
	for i := range binds {
		for j := i + 1; j < len(binds); j++ {
			feats = append(feats, r+":"+binds[i]+","+binds[j])
		}
	}
	return feats
}
