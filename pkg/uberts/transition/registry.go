package transition

import (
	"fmt"
	"sort"

	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/match"
)

type boundConstraint struct {
	name     string
	shape    match.Shape
	groupKey GroupKey
	c        Constraint
}

// committed returns the committed facts in f's group, in commit order.
func (bc boundConstraint) committed(st *fact.Store, f *fact.Fact, key string) []*fact.Fact {
	var scan []*fact.Fact
	if ak, ok := bc.groupKey.(ArgsKey); ok {
		scan = ak.committed(st, f)
	} else {
		scan = st.ByRelation(f.Relation())
	}
	var out []*fact.Fact
	for _, g := range scan {
		if bc.shape.Covers(g) && bc.groupKey.Key(g) == key {
			out = append(out, g)
		}
	}
	return out
}

// Registry maps trigger keys to generators and constraints. It is filled
// at setup and only read while decoding.
type Registry struct {
	gens        map[match.TriggerKey][]Generator
	constraints []boundConstraint
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{gens: map[match.TriggerKey][]Generator{}}
}

// Register attaches g to every rule whose head has the given shape, e.g.
// "pair(l, p)" or "pair($0,$1)".
func (r *Registry) Register(key string, g Generator) error {
	if g == nil {
		return fmt.Errorf("nil generator for %s: %w", key, internalerr.ErrInvalidInput)
	}
	tk, err := match.ParseTrigger(key)
	if err != nil {
		return err
	}
	r.gens[tk] = append(r.gens[tk], g)
	return nil
}

// RegisterGlobalConstraint attaches c to every fact of the given shape,
// grouped by groupKey. A nil groupKey groups by relation.
func (r *Registry) RegisterGlobalConstraint(key string, groupKey GroupKey, c Constraint) error {
	if c == nil {
		return fmt.Errorf("nil constraint for %s: %w", key, internalerr.ErrInvalidInput)
	}
	sh, err := match.ParseShape(key)
	if err != nil {
		return err
	}
	if fn, ok := groupKey.(GroupKeyFunc); groupKey == nil || ok && fn == nil {
		groupKey = ByRelation()
	}
	r.constraints = append(r.constraints, boundConstraint{
		name:     fmt.Sprintf("%s#%d", sh.Key(), len(r.constraints)),
		shape:    sh,
		groupKey: groupKey,
		c:        c,
	})
	return nil
}

// Generators returns the generators registered for key, in registration
// order.
func (r *Registry) Generators(key match.TriggerKey) []Generator { return r.gens[key] }

// Keys returns the trigger keys that have generators, sorted.
func (r *Registry) Keys() []match.TriggerKey {
	out := make([]match.TriggerKey, 0, len(r.gens))
	for k := range r.gens {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ConstraintCount is the number of registered constraints.
func (r *Registry) ConstraintCount() int { return len(r.constraints) }

// PendingFunc returns the queued candidates that keep accepts, best first.
// *agenda.Agenda's Select satisfies it.
type PendingFunc func(keep func(Candidate) bool) []Candidate

// Check runs every constraint whose shape covers c.Fact. It returns the
// name of the first constraint that vetoes c, or "" when all allow it.
//
// pending supplies the agenda's other candidates and is only called if a
// constraint asks for them.
func (r *Registry) Check(c Candidate, st *fact.Store, pending PendingFunc) (vetoedBy string) {
	self := c.Fact.Key()
	for _, bc := range r.constraints {
		bc := bc
		if !bc.shape.Covers(c.Fact) {
			continue
		}
		key := bc.groupKey.Key(c.Fact)
		g := Group{Key: key, Committed: bc.committed(st, c.Fact, key)}
		if pending != nil {
			g.pending = func() []Candidate {
				return pending(func(p Candidate) bool {
					return p.Fact.Key() != self && bc.shape.Covers(p.Fact) && bc.groupKey.Key(p.Fact) == key
				})
			}
		}
		if !bc.c.Allow(c, g) {
			return bc.name
		}
	}
	return ""
}

// Validate reports trigger keys with generators that no rule of net
// produces. Such generators never run.
func (r *Registry) Validate(net *match.Network) []match.TriggerKey {
	known := map[match.TriggerKey]bool{}
	for _, k := range net.Triggers() {
		known[k] = true
	}
	var unused []match.TriggerKey
	for _, k := range r.Keys() {
		if !known[k] {
			unused = append(unused, k)
		}
	}
	return unused
}
