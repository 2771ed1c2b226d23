// Package schema holds node types, interned nodes and relation signatures.
//
// A Schema is built once per grammar and shared by every decode run that uses
// the grammar. Interning is guarded by a mutex so runs on different documents
// may proceed in parallel.
package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
)

// WitnessPrefix names the node type holding references to facts of a relation.
const WitnessPrefix = "witness-"

// NodeType is a named type with a fixed value kind.
type NodeType struct {
	Name string
	Kind Kind
}

func (t *NodeType) String() string {
	if t.Kind == KindString {
		return t.Name
	}
	return t.Name + ":" + t.Kind.String()
}

// Node is an interned (type, value) pair. Two nodes are equal iff they are
// the same pointer.
type Node struct {
	id    uint32
	typ   *NodeType
	value Value
}

func (n *Node) ID() uint32      { return n.id }
func (n *Node) Type() *NodeType { return n.typ }
func (n *Node) Value() Value    { return n.value }
func (n *Node) String() string  { return n.value.String() }
func (n *Node) Literal() string { return n.value.Literal() }

// Relation is a name plus an ordered argument signature.
type Relation struct {
	name    string
	types   []*NodeType
	witness *NodeType
}

func (r *Relation) Name() string { return r.name }
func (r *Relation) Arity() int   { return len(r.types) }

// Type returns the node type of argument i.
func (r *Relation) Type(i int) *NodeType { return r.types[i] }

// Types returns a copy of the signature.
func (r *Relation) Types() []*NodeType {
	out := make([]*NodeType, len(r.types))
	copy(out, r.types)
	return out
}

// Witness is the node type used to refer to facts of this relation.
func (r *Relation) Witness() *NodeType { return r.witness }

// Definition renders the relation as a def line, e.g.
// "def lemma <tokenIndex:int> <word>".
func (r *Relation) Definition() string {
	var b strings.Builder
	b.WriteString("def ")
	b.WriteString(r.name)
	for _, t := range r.types {
		b.WriteString(" <")
		b.WriteString(t.String())
		b.WriteByte('>')
	}
	return b.String()
}

func (r *Relation) String() string { return r.Definition() }

type nodeKey struct {
	typ *NodeType
	val Value
}

// Schema is the registry of node types, relations and interned nodes.
type Schema struct {
	mu        sync.RWMutex
	types     map[string]*NodeType
	relations map[string]*Relation
	relOrder  []*Relation
	nodes     map[nodeKey]*Node
	nextID    uint32
}

// New creates an empty schema.
func New() *Schema {
	return &Schema{
		types:     make(map[string]*NodeType),
		relations: make(map[string]*Relation),
		nodes:     make(map[nodeKey]*Node),
	}
}

// DefineType registers a node type. Redefining a type with the same kind
// returns the existing type.
func (s *Schema) DefineType(name string, kind Kind) (*NodeType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defineTypeLocked(name, kind)
}

func (s *Schema) defineTypeLocked(name string, kind Kind) (*NodeType, error) {
	if name == "" {
		return nil, fmt.Errorf("empty type name: %w", internalerr.ErrInvalidInput)
	}
	if t, ok := s.types[name]; ok {
		if t.Kind != kind {
			return nil, fmt.Errorf("type %s is %s, redeclared as %s: %w",
				name, t.Kind, kind, internalerr.ErrTypeConflict)
		}
		return t, nil
	}
	t := &NodeType{Name: name, Kind: kind}
	s.types[name] = t
	return t, nil
}

// Type looks up a node type by name.
func (s *Schema) Type(name string) (*NodeType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.types[name]
	return t, ok
}

// Define registers a relation. Defining the same name twice is allowed only
// with an identical signature.
func (s *Schema) Define(name string, types ...*NodeType) (*Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		return nil, fmt.Errorf("empty relation name: %w", internalerr.ErrInvalidInput)
	}
	for i, t := range types {
		if t == nil {
			return nil, fmt.Errorf("relation %s: nil type for arg %d: %w", name, i, internalerr.ErrInvalidInput)
		}
	}

	if r, ok := s.relations[name]; ok {
		if !sameSignature(r.types, types) {
			return nil, fmt.Errorf("%s vs %s: %w",
				r.Definition(), (&Relation{name: name, types: types}).Definition(),
				internalerr.ErrSignatureConflict)
		}
		return r, nil
	}

	witness, err := s.defineTypeLocked(WitnessPrefix+name, KindRef)
	if err != nil {
		return nil, err
	}
	r := &Relation{name: name, types: append([]*NodeType(nil), types...), witness: witness}
	s.relations[name] = r
	s.relOrder = append(s.relOrder, r)
	return r, nil
}

func sameSignature(a, b []*NodeType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Relation looks up a relation by name.
func (s *Schema) Relation(name string) (*Relation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.relations[name]
	return r, ok
}

// Relations returns all relations in definition order.
func (s *Schema) Relations() []*Relation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Relation, len(s.relOrder))
	copy(out, s.relOrder)
	return out
}

// ParseDef parses "def name <type1> <type2:int> ..." and registers the
// relation. Argument brackets are optional.
func (s *Schema) ParseDef(line string) (*Relation, error) {
	toks := strings.Fields(line)
	if len(toks) < 2 || toks[0] != "def" {
		return nil, fmt.Errorf("expected 'def name <type>...': %q: %w", line, internalerr.ErrParse)
	}
	types := make([]*NodeType, 0, len(toks)-2)
	for _, tok := range toks[2:] {
		tok = strings.TrimSuffix(strings.TrimPrefix(tok, "<"), ">")
		name, kindName, _ := strings.Cut(tok, ":")
		kind, err := ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("def %s: %w", toks[1], err)
		}
		t, err := s.DefineType(name, kind)
		if err != nil {
			return nil, fmt.Errorf("def %s: %w", toks[1], err)
		}
		types = append(types, t)
	}
	return s.Define(toks[1], types...)
}

// Node interns (t, v). The value's kind must match the type's kind.
func (s *Schema) Node(t *NodeType, v Value) (*Node, error) {
	if t == nil {
		return nil, fmt.Errorf("nil node type: %w", internalerr.ErrInvalidInput)
	}
	if v.Kind() != t.Kind {
		return nil, fmt.Errorf("value %s is %s but type %s wants %s: %w",
			v.Literal(), v.Kind(), t.Name, t.Kind, internalerr.ErrInvalidValue)
	}
	key := nodeKey{typ: t, val: v}

	s.mu.RLock()
	n, ok := s.nodes[key]
	s.mu.RUnlock()
	if ok {
		return n, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[key]; ok {
		return n, nil
	}
	s.nextID++
	n = &Node{id: s.nextID, typ: t, value: v}
	s.nodes[key] = n
	return n, nil
}

// ParseNode reads text according to the type's kind and interns the result.
func (s *Schema) ParseNode(t *NodeType, text string) (*Node, error) {
	if t == nil {
		return nil, fmt.Errorf("nil node type: %w", internalerr.ErrInvalidInput)
	}
	v, err := ParseValue(t.Kind, text)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", t.Name, err)
	}
	return s.Node(t, v)
}

// LookupNode returns the interned node without creating it.
func (s *Schema) LookupNode(t *NodeType, v Value) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeKey{typ: t, val: v}]
	return n, ok
}

// NodeCount reports how many nodes have been interned.
func (s *Schema) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
