package fact

import (
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

type argKey struct {
	rel  *schema.Relation
	pos  int
	node *schema.Node
}

// Store is the append-only set of committed facts for one run.
//
// Facts are indexed by relation, by node (any position) and by
// (relation, position, node). All slices are kept in commit order.
// A Store is not safe for concurrent use.
type Store struct {
	byKey  map[string]*Fact
	all    []*Fact
	byRel  map[*schema.Relation][]*Fact
	byNode map[*schema.Node][]*Fact
	byArg  map[argKey][]*Fact
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{}
	s.Reset()
	return s
}

// Add commits f. It returns false and leaves the store untouched when a fact
// with the same key is already present.
//
// The stored fact carries its commit sequence number; if f was already
// committed to a different store, a copy is stored instead.
func (s *Store) Add(f *Fact) bool {
	if _, ok := s.byKey[f.key]; ok {
		return false
	}
	if f.seq != 0 {
		c := *f
		f = &c
	}
	f.seq = len(s.all) + 1

	s.byKey[f.key] = f
	s.all = append(s.all, f)
	s.byRel[f.rel] = append(s.byRel[f.rel], f)

	seen := make(map[*schema.Node]bool, len(f.args))
	for i, n := range f.args {
		k := argKey{rel: f.rel, pos: i, node: n}
		s.byArg[k] = append(s.byArg[k], f)
		if !seen[n] {
			seen[n] = true
			s.byNode[n] = append(s.byNode[n], f)
		}
	}
	return true
}

// Contains reports whether a fact with f's key has been committed.
func (s *Store) Contains(f *Fact) bool {
	_, ok := s.byKey[f.key]
	return ok
}

// Get returns the committed fact with the given key.
func (s *Store) Get(key string) (*Fact, bool) {
	f, ok := s.byKey[key]
	return f, ok
}

// ByRelation returns the facts of rel in commit order. The slice must not be
// modified.
func (s *Store) ByRelation(rel *schema.Relation) []*Fact { return s.byRel[rel] }

// ByNode returns the facts mentioning n in any position, in commit order.
func (s *Store) ByNode(n *schema.Node) []*Fact { return s.byNode[n] }

// ByArg returns the facts of rel whose argument pos is n, in commit order.
func (s *Store) ByArg(rel *schema.Relation, pos int, n *schema.Node) []*Fact {
	return s.byArg[argKey{rel: rel, pos: pos, node: n}]
}

// All returns every committed fact in commit order.
func (s *Store) All() []*Fact { return s.all }

func (s *Store) Len() int { return len(s.all) }

// Reset drops every fact. It is the only way to remove facts.
func (s *Store) Reset() {
	s.byKey = make(map[string]*Fact)
	s.all = nil
	s.byRel = make(map[*schema.Relation][]*Fact)
	s.byNode = make(map[*schema.Node][]*Fact)
	s.byArg = make(map[argKey][]*Fact)
}
