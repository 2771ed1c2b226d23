package match

import (
	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// Match is a complete binding of one rule body.
type Match struct {
	Terminal *Terminal
	// Facts are the body facts in body order.
	Facts []*fact.Fact
	// Head is the instantiated rule head.
	Head *fact.Fact

	env []*schema.Node
}

// Trigger is the head shape of the matched rule.
func (m *Match) Trigger() TriggerKey { return m.Terminal.Trigger }

// Binding returns the node bound to a rule variable.
func (m *Match) Binding(name string) (*schema.Node, bool) {
	k, ok := m.Terminal.vars[name]
	if !ok || k >= len(m.env) {
		return nil, false
	}
	return m.env[k], true
}

// Stats counts the work done by one Match call.
type Stats struct {
	NodesVisited int
	FactsScanned int
	Matches      int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.NodesVisited += o.NodesVisited
	s.FactsScanned += o.FactsScanned
	s.Matches += o.Matches
}

// Match runs the network for f, which must already be committed to st.
//
// For every trie node of f's relation, f is bound at that node, the nodes
// above it are joined against facts committed before f, and the nodes below
// it against every committed fact including f. A tuple of body facts is
// therefore found only when its last-committed fact arrives, and only at the
// first position that fact occupies, so each complete match is emitted
// exactly once whatever the commit order.
//
// emit is called synchronously; an error from emit stops matching and is
// returned.
func (n *Network) Match(st *fact.Store, f *fact.Fact, emit func(*Match) error) (Stats, error) {
	r := &run{net: n, st: st, f: f, seq: f.Seq(), emit: emit}
	for _, nd := range n.byRel[f.Relation()] {
		if err := r.at(nd); err != nil {
			return r.stats, err
		}
	}
	return r.stats, nil
}

type run struct {
	net   *Network
	st    *fact.Store
	f     *fact.Fact
	seq   int
	emit  func(*Match) error
	stats Stats

	env   []*schema.Node
	facts []*fact.Fact
}

func (r *run) at(nd *node) error {
	r.stats.NodesVisited++
	r.stats.FactsScanned++
	r.env = make([]*schema.Node, nd.width)
	r.facts = make([]*fact.Fact, nd.height)

	if _, ok := r.unify(nd, r.f); !ok {
		return nil
	}
	r.facts[nd.depth-1] = r.f
	return r.up(nd.parent, nd)
}

// up joins the ancestors of start, nearest first, against facts committed
// strictly before the triggering fact.
func (r *run) up(nd, start *node) error {
	if nd == nil {
		return r.down(start)
	}
	r.stats.NodesVisited++
	for _, g := range r.candidates(nd) {
		if g.Seq() >= r.seq {
			break
		}
		r.stats.FactsScanned++
		set, ok := r.unify(nd, g)
		if !ok {
			continue
		}
		r.facts[nd.depth-1] = g
		err := r.up(nd.parent, start)
		r.undo(set)
		if err != nil {
			return err
		}
	}
	return nil
}

// down emits the terminals of nd and extends into its children against
// every fact committed so far.
func (r *run) down(nd *node) error {
	for _, t := range nd.terms {
		if err := r.fire(nd, t); err != nil {
			return err
		}
	}
	for _, c := range nd.children {
		r.stats.NodesVisited++
		for _, g := range r.candidates(c) {
			if g.Seq() > r.seq {
				break
			}
			r.stats.FactsScanned++
			set, ok := r.unify(c, g)
			if !ok {
				continue
			}
			r.facts[c.depth-1] = g
			err := r.down(c)
			r.undo(set)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) fire(nd *node, t *Terminal) error {
	args := make([]*schema.Node, len(t.head))
	for i, p := range t.head {
		if p.kind == patLit {
			args[i] = p.lit
		} else {
			args[i] = r.env[p.slot]
		}
	}
	head, err := fact.New(t.rel, args...)
	if err != nil {
		return err
	}
	r.stats.Matches++
	m := &Match{
		Terminal: t,
		Facts:    append([]*fact.Fact(nil), r.facts[:nd.depth]...),
		Head:     head,
		env:      append([]*schema.Node(nil), r.env[:nd.nslots]...),
	}
	return r.emit(m)
}

// candidates picks the narrowest index for nd given the current bindings.
// Results are in commit order.
func (r *run) candidates(nd *node) []*fact.Fact {
	for i, p := range nd.args {
		switch p.kind {
		case patLit:
			return r.st.ByArg(nd.rel, i, p.lit)
		case patSlot:
			if v := r.env[p.slot]; v != nil {
				return r.st.ByArg(nd.rel, i, v)
			}
		}
	}
	if nd.witness.kind == patSlot {
		if v := r.env[nd.witness.slot]; v != nil {
			if g, ok := r.st.Get(v.Value().Str()); ok && g.Relation() == nd.rel {
				return []*fact.Fact{g}
			}
			return nil
		}
	}
	return r.st.ByRelation(nd.rel)
}

// unify binds g at nd. It returns the slots it newly set so the caller can
// undo them.
func (r *run) unify(nd *node, g *fact.Fact) ([]int, bool) {
	var set []int
	bind := func(slot int, v *schema.Node) bool {
		if cur := r.env[slot]; cur != nil {
			return cur == v
		}
		r.env[slot] = v
		set = append(set, slot)
		return true
	}
	for i, p := range nd.args {
		switch p.kind {
		case patLit:
			if g.Arg(i) != p.lit {
				r.undo(set)
				return nil, false
			}
		case patSlot:
			if !bind(p.slot, g.Arg(i)) {
				r.undo(set)
				return nil, false
			}
		}
	}
	if nd.witness.kind == patSlot {
		w, err := g.Witness(r.net.schema)
		if err != nil || !bind(nd.witness.slot, w) {
			r.undo(set)
			return nil, false
		}
	}
	return set, true
}

func (r *run) undo(set []int) {
	for _, k := range set {
		r.env[k] = nil
	}
}

// maxSlots is the largest slot count of any path through nd.
func maxSlots(nd *node) int {
	m := nd.nslots
	for _, c := range nd.children {
		if s := maxSlots(c); s > m {
			m = s
		}
	}
	return m
}

func depthBelow(nd *node) int {
	m := nd.depth
	for _, c := range nd.children {
		if d := depthBelow(c); d > m {
			m = d
		}
	}
	return m
}
