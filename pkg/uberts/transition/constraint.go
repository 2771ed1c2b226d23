package transition

import (
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/fact"
)

// Group is what a constraint sees: the committed facts and pending
// candidates that share the candidate's group key.
type Group struct {
	Key       string
	Committed []*fact.Fact

	pending func() []Candidate
}

// Pending returns the not-yet-committed candidates in the group, best first.
func (g Group) Pending() []Candidate {
	if g.pending == nil {
		return nil
	}
	return g.pending()
}

// Constraint decides whether a candidate may commit given its group.
type Constraint interface {
	Allow(c Candidate, g Group) bool
}

// ConstraintFunc adapts a function to Constraint.
type ConstraintFunc func(c Candidate, g Group) bool

func (f ConstraintFunc) Allow(c Candidate, g Group) bool { return f(c, g) }

// AtMostOne allows a commit only while the group has no committed fact.
// Since the agenda pops the best candidate first, the survivor of each
// group is its highest-scoring feasible candidate.
func AtMostOne() Constraint { return AtMostK(1) }

// AtMostK allows at most k committed facts per group.
func AtMostK(k int) Constraint {
	return ConstraintFunc(func(_ Candidate, g Group) bool {
		return len(g.Committed) < k
	})
}

// GroupKey computes the group a fact belongs to.
type GroupKey interface {
	Key(f *fact.Fact) string
}

// GroupKeyFunc adapts a function to GroupKey.
type GroupKeyFunc func(f *fact.Fact) string

func (g GroupKeyFunc) Key(f *fact.Fact) string { return g(f) }

// ArgsKey groups facts by the arguments at its positions. Facts sharing a
// key share the node at the first position, so Registry.Check only scans
// the committed facts indexed under that node.
type ArgsKey []int

// ByArgs groups facts by the arguments at the given positions.
func ByArgs(positions ...int) ArgsKey { return ArgsKey(positions) }

func (k ArgsKey) Key(f *fact.Fact) string {
	parts := make([]string, len(k))
	for i, p := range k {
		if p >= 0 && p < f.Arity() {
			parts[i] = f.Arg(p).Literal()
		}
	}
	return strings.Join(parts, ",")
}

// committed returns a superset of the facts of f's relation that can share
// f's key, in commit order.
func (k ArgsKey) committed(st *fact.Store, f *fact.Fact) []*fact.Fact {
	if len(k) == 0 || k[0] < 0 || k[0] >= f.Arity() {
		return st.ByRelation(f.Relation())
	}
	return st.ByArg(f.Relation(), k[0], f.Arg(k[0]))
}

// ByRelation puts every fact of a trigger in one group.
func ByRelation() GroupKeyFunc {
	return func(f *fact.Fact) string { return f.Relation().Name() }
}
