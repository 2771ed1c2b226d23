// Package labels holds gold facts and compares them with predictions.
package labels

import (
	"fmt"
	"sort"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// Perf holds set-comparison counts.
type Perf struct {
	TP int `json:"tp"`
	FP int `json:"fp"`
	FN int `json:"fn"`
}

// Add sums two counts.
func (p Perf) Add(o Perf) Perf {
	return Perf{TP: p.TP + o.TP, FP: p.FP + o.FP, FN: p.FN + o.FN}
}

// Precision is TP/(TP+FP), or 1 when nothing was predicted.
func (p Perf) Precision() float64 {
	if p.TP+p.FP == 0 {
		return 1
	}
	return float64(p.TP) / float64(p.TP+p.FP)
}

// Recall is TP/(TP+FN), or 1 when nothing was gold.
func (p Perf) Recall() float64 {
	if p.TP+p.FN == 0 {
		return 1
	}
	return float64(p.TP) / float64(p.TP+p.FN)
}

func (p Perf) F1() float64 {
	pr, rc := p.Precision(), p.Recall()
	if pr+rc == 0 {
		return 0
	}
	return 2 * pr * rc / (pr + rc)
}

func (p Perf) String() string {
	return fmt.Sprintf("tp=%d fp=%d fn=%d p=%.3f r=%.3f f1=%.3f",
		p.TP, p.FP, p.FN, p.Precision(), p.Recall(), p.F1())
}

// GroupFunc maps a fact to the group its counts go to.
type GroupFunc func(f *fact.Fact) string

// Compare counts gold against predicted by fact identity, split by group.
// Scores are ignored. Each fact's membership and group key are computed
// once. A nil group puts everything under "".
func Compare(gold, pred []*fact.Fact, group GroupFunc) map[string]Perf {
	if group == nil {
		group = func(*fact.Fact) string { return "" }
	}
	goldKeys := keySet(gold)
	predKeys := keySet(pred)

	out := map[string]Perf{}
	for key, f := range predKeys {
		g := group(f)
		p := out[g]
		if _, ok := goldKeys[key]; ok {
			p.TP++
		} else {
			p.FP++
		}
		out[g] = p
	}
	for key, f := range goldKeys {
		if _, ok := predKeys[key]; ok {
			continue
		}
		g := group(f)
		p := out[g]
		p.FN++
		out[g] = p
	}
	return out
}

// Evaluate is Compare without grouping.
func Evaluate(gold, pred []*fact.Fact) Perf {
	return Compare(gold, pred, nil)[""]
}

// FalseNegatives returns gold facts missing from pred, in gold order.
func FalseNegatives(gold, pred []*fact.Fact) []*fact.Fact {
	return missing(gold, keySet(pred))
}

// FalsePositives returns predicted facts absent from gold, in pred order.
func FalsePositives(gold, pred []*fact.Fact) []*fact.Fact {
	return missing(pred, keySet(gold))
}

func missing(from []*fact.Fact, in map[string]*fact.Fact) []*fact.Fact {
	var out []*fact.Fact
	seen := map[string]bool{}
	for _, f := range from {
		if _, ok := in[f.Key()]; !ok && !seen[f.Key()] {
			seen[f.Key()] = true
			out = append(out, f)
		}
	}
	return out
}

func keySet(fs []*fact.Fact) map[string]*fact.Fact {
	m := make(map[string]*fact.Fact, len(fs))
	for _, f := range fs {
		if _, ok := m[f.Key()]; !ok {
			m[f.Key()] = f
		}
	}
	return m
}

// Gold is the gold label set of one run, by relation.
type Gold struct {
	byRel map[*schema.Relation][]*fact.Fact
	keys  map[string]bool
}

// NewGold creates an empty gold set.
func NewGold() *Gold {
	return &Gold{byRel: map[*schema.Relation][]*fact.Fact{}, keys: map[string]bool{}}
}

// Set replaces the gold facts of rel. Facts of other relations are
// ignored.
func (g *Gold) Set(rel *schema.Relation, facts []*fact.Fact) {
	for _, f := range g.byRel[rel] {
		delete(g.keys, f.Key())
	}
	var kept []*fact.Fact
	for _, f := range facts {
		if f.Relation() != rel || g.keys[f.Key()] {
			continue
		}
		g.keys[f.Key()] = true
		kept = append(kept, f)
	}
	g.byRel[rel] = kept
}

// Add appends one gold fact.
func (g *Gold) Add(f *fact.Fact) {
	if g.keys[f.Key()] {
		return
	}
	g.keys[f.Key()] = true
	g.byRel[f.Relation()] = append(g.byRel[f.Relation()], f)
}

// Contains reports whether f is gold.
func (g *Gold) Contains(f *fact.Fact) bool { return g.keys[f.Key()] }

// Has reports whether any gold was given for rel. Relations without gold
// are not supervised.
func (g *Gold) Has(rel *schema.Relation) bool {
	_, ok := g.byRel[rel]
	return ok
}

// Facts returns the gold facts of rel.
func (g *Gold) Facts(rel *schema.Relation) []*fact.Fact { return g.byRel[rel] }

// Relations returns the supervised relations sorted by name.
func (g *Gold) Relations() []*schema.Relation {
	out := make([]*schema.Relation, 0, len(g.byRel))
	for r := range g.byRel {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len is the total number of gold facts.
func (g *Gold) Len() int { return len(g.keys) }

// Reset drops all gold.
func (g *Gold) Reset() {
	g.byRel = map[*schema.Relation][]*fact.Fact{}
	g.keys = map[string]bool{}
}
