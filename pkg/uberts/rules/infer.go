package rules

import (
	"fmt"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

// Infer assigns a node type to every argument slot of every relation the
// rules mention and registers undeclared relations in s.
//
// Variables and (relation, position) slots are unified across the whole
// rule set, so the head of one rule can take its types from the body of
// another. Declared relations seed the unification. A relation used with two
// arities fails with ErrSignatureConflict, two types meeting in one class
// with ErrTypeConflict, and a slot nothing constrains with ErrUnresolvedType.
func Infer(s *schema.Schema, rules []*Rule) error {
	inf := &inferrer{
		s:      s,
		parent: map[term]term{},
		typ:    map[term]*schema.NodeType{},
		arity:  map[string]int{},
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for i, r := range rules {
		preds := append(append([]Predicate(nil), r.Body...), r.Head)
		for _, p := range preds {
			if err := inf.predicate(i, r, p); err != nil {
				return err
			}
		}
	}
	if err := inf.declare(); err != nil {
		return err
	}
	return checkLiterals(s, rules)
}

// term is a union-find element: either a variable of one rule or an
// argument slot of a relation.
type term struct {
	rule int
	name string // variable name, or relation name for slots
	pos  int    // -1 for variables
}

type inferrer struct {
	s      *schema.Schema
	parent map[term]term
	typ    map[term]*schema.NodeType // keyed by class root
	arity  map[string]int
	order  []string // undeclared relations in first-reference order
}

func (inf *inferrer) find(t term) term {
	p, ok := inf.parent[t]
	if !ok {
		inf.parent[t] = t
		return t
	}
	if p == t {
		return t
	}
	root := inf.find(p)
	inf.parent[t] = root
	return root
}

func (inf *inferrer) union(a, b term) error {
	ra, rb := inf.find(a), inf.find(b)
	if ra == rb {
		return nil
	}
	ta, tb := inf.typ[ra], inf.typ[rb]
	if ta != nil && tb != nil && ta != tb {
		return fmt.Errorf("%s meets %s: %w", ta.Name, tb.Name, internalerr.ErrTypeConflict)
	}
	inf.parent[rb] = ra
	if ta == nil {
		inf.typ[ra] = tb
	}
	delete(inf.typ, rb)
	return nil
}

func (inf *inferrer) assign(t term, nt *schema.NodeType) error {
	r := inf.find(t)
	if cur := inf.typ[r]; cur != nil && cur != nt {
		return fmt.Errorf("%s meets %s: %w", cur.Name, nt.Name, internalerr.ErrTypeConflict)
	}
	inf.typ[r] = nt
	return nil
}

func slot(rel string, pos int) term { return term{rule: -1, name: rel, pos: pos} }

func (inf *inferrer) predicate(ri int, r *Rule, p Predicate) error {
	rel, declared := inf.s.Relation(p.Rel)
	switch {
	case declared:
		if rel.Arity() != len(p.Args) {
			return fmt.Errorf("%s: %s has arity %d, used with %d: %w",
				r, p.Rel, rel.Arity(), len(p.Args), internalerr.ErrSignatureConflict)
		}
	default:
		n, seen := inf.arity[p.Rel]
		if !seen {
			inf.arity[p.Rel] = len(p.Args)
			inf.order = append(inf.order, p.Rel)
		} else if n != len(p.Args) {
			return fmt.Errorf("%s: %s used with arity %d and %d: %w",
				r, p.Rel, n, len(p.Args), internalerr.ErrSignatureConflict)
		}
	}

	for i, a := range p.Args {
		st := slot(p.Rel, i)
		if declared {
			if err := inf.assign(st, rel.Type(i)); err != nil {
				return fmt.Errorf("%s: %s arg %d: %w", r, p.Rel, i, err)
			}
		}
		if a.Kind != ArgVar {
			inf.find(st)
			continue
		}
		if err := inf.union(st, term{rule: ri, name: a.Name, pos: -1}); err != nil {
			return fmt.Errorf("%s: variable %s: %w", r, a.Name, err)
		}
	}

	if p.Witness != "" {
		wt, err := inf.s.DefineType(schema.WitnessPrefix+p.Rel, schema.KindRef)
		if err != nil {
			return fmt.Errorf("%s: %w", r, err)
		}
		if err := inf.assign(term{rule: ri, name: p.Witness, pos: -1}, wt); err != nil {
			return fmt.Errorf("%s: witness %s: %w", r, p.Witness, err)
		}
	}
	return nil
}

// declare registers every relation that had no def line.
func (inf *inferrer) declare() error {
	for _, name := range inf.order {
		types := make([]*schema.NodeType, inf.arity[name])
		for i := range types {
			nt := inf.typ[inf.find(slot(name, i))]
			if nt == nil {
				return fmt.Errorf("%s arg %d: %w", name, i, internalerr.ErrUnresolvedType)
			}
			types[i] = nt
		}
		if _, err := inf.s.Define(name, types...); err != nil {
			return err
		}
	}
	return nil
}

// checkLiterals makes sure every literal reads as its slot's type.
func checkLiterals(s *schema.Schema, rules []*Rule) error {
	for _, r := range rules {
		for _, p := range append(append([]Predicate(nil), r.Body...), r.Head) {
			rel, ok := s.Relation(p.Rel)
			if !ok {
				return fmt.Errorf("%s: %w", p.Rel, internalerr.ErrUnknownRelation)
			}
			for i, a := range p.Args {
				if a.Kind != ArgLiteral {
					continue
				}
				nt := rel.Type(i)
				if nt.Kind == schema.KindInt && a.Quoted() {
					return fmt.Errorf("%s: %s arg %d: string %s in int slot: %w",
						r, p.Rel, i, a.Text, internalerr.ErrTypeConflict)
				}
				if _, err := schema.ParseValue(nt.Kind, a.Text); err != nil {
					return fmt.Errorf("%s: %s arg %d: %w", r, p.Rel, i, internalerr.ErrTypeConflict)
				}
			}
		}
	}
	return nil
}
