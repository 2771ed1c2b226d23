// Package match compiles rules into a shared trie and runs it incrementally
// as facts are committed.
//
// Each trie node stands for one body predicate of one or more rules, keyed by
// its relation and argument pattern. Variables are renamed to numbered slots
// in order of first occurrence, so two rules whose bodies start the same way
// walk the same nodes. Rule heads hang off the node of their last body
// predicate as terminals.
package match

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/rules"
	"github.com/cognicore/uberts/pkg/uberts/schema"
)

type patKind uint8

const (
	patAnon patKind = iota
	patSlot
	patLit
)

// pattern is a normalised argument: a slot, a literal node or nothing.
type pattern struct {
	kind patKind
	slot int
	lit  *schema.Node
}

func (p pattern) String() string {
	switch p.kind {
	case patSlot:
		return "$" + strconv.Itoa(p.slot)
	case patLit:
		return p.lit.Literal()
	}
	return "_"
}

type node struct {
	id       int
	rel      *schema.Relation
	args     []pattern
	witness  pattern
	key      string
	parent   *node
	depth    int
	nslots   int
	width    int // max nslots below
	height   int // max depth below
	children []*node
	byKey    map[string]*node
	terms    []*Terminal
}

// Terminal is a compiled rule head attached to the node of the rule's last
// body predicate.
type Terminal struct {
	Rule    *rules.Rule
	Trigger TriggerKey

	index int
	rel   *schema.Relation
	head  []pattern
	vars  map[string]int
}

// Index is the rule's position in the compiled rule set.
func (t *Terminal) Index() int { return t.index }

// Network is the compiled matcher. It is immutable after Compile and may be
// shared by concurrent runs, each with its own fact store.
type Network struct {
	schema    *schema.Schema
	roots     []*node
	rootByKey map[string]*node
	byRel     map[*schema.Relation][]*node
	nodes     []*node
	terminals []*Terminal
}

// Compile infers relation types for rs, registers them in s and builds the
// shared trie. Body predicates are taken in source order.
func Compile(s *schema.Schema, rs []*rules.Rule) (*Network, error) {
	if err := rules.Infer(s, rs); err != nil {
		return nil, err
	}
	n := &Network{
		schema:    s,
		rootByKey: map[string]*node{},
		byRel:     map[*schema.Relation][]*node{},
	}
	for i, r := range rs {
		if err := n.add(i, r); err != nil {
			if r.Line > 0 {
				return nil, fmt.Errorf("line %d: %w", r.Line, err)
			}
			return nil, err
		}
	}
	for _, nd := range n.nodes {
		nd.width, nd.height = maxSlots(nd), depthBelow(nd)
	}
	return n, nil
}

func (n *Network) add(index int, r *rules.Rule) error {
	slots := map[string]int{}
	norm := func(rel *schema.Relation, pos int, a rules.Arg) (pattern, error) {
		switch a.Kind {
		case rules.ArgAnon:
			return pattern{kind: patAnon}, nil
		case rules.ArgLiteral:
			lit, err := n.schema.ParseNode(rel.Type(pos), a.Text)
			if err != nil {
				return pattern{}, err
			}
			return pattern{kind: patLit, lit: lit}, nil
		}
		k, ok := slots[a.Name]
		if !ok {
			k = len(slots)
			slots[a.Name] = k
		}
		return pattern{kind: patSlot, slot: k}, nil
	}

	var cur *node
	for _, p := range r.Body {
		rel, ok := n.schema.Relation(p.Rel)
		if !ok {
			return fmt.Errorf("%s: %w", p.Rel, internalerr.ErrUnknownRelation)
		}
		var wit pattern
		if p.Witness != "" {
			wit, _ = norm(rel, -1, rules.Arg{Kind: rules.ArgVar, Name: p.Witness})
		}
		args := make([]pattern, len(p.Args))
		for i, a := range p.Args {
			pat, err := norm(rel, i, a)
			if err != nil {
				return fmt.Errorf("%s: %w", r, err)
			}
			args[i] = pat
		}
		cur = n.child(cur, rel, args, wit, len(slots))
	}

	hrel, ok := n.schema.Relation(r.Head.Rel)
	if !ok {
		return fmt.Errorf("%s: %w", r.Head.Rel, internalerr.ErrUnknownRelation)
	}
	t := &Terminal{Rule: r, index: index, rel: hrel, vars: slots}
	for i, a := range r.Head.Args {
		pat, err := norm(hrel, i, a)
		if err != nil {
			return fmt.Errorf("%s: %w", r, err)
		}
		t.head = append(t.head, pat)
	}
	t.Trigger = triggerOf(hrel.Name(), t.head)
	cur.terms = append(cur.terms, t)
	n.terminals = append(n.terminals, t)
	return nil
}

// child returns the child of parent with the given pattern, creating it
// when no rule has walked this prefix yet.
func (n *Network) child(parent *node, rel *schema.Relation, args []pattern, wit pattern, nslots int) *node {
	key := nodeKey(rel, args, wit)
	index := n.rootByKey
	if parent != nil {
		index = parent.byKey
	}
	if c, ok := index[key]; ok {
		return c
	}
	c := &node{
		id:      len(n.nodes),
		rel:     rel,
		args:    args,
		witness: wit,
		key:     key,
		parent:  parent,
		depth:   1,
		nslots:  nslots,
		byKey:   map[string]*node{},
	}
	if parent != nil {
		c.depth = parent.depth + 1
		parent.children = append(parent.children, c)
	} else {
		n.roots = append(n.roots, c)
	}
	index[key] = c
	n.nodes = append(n.nodes, c)
	n.byRel[rel] = append(n.byRel[rel], c)
	return c
}

func nodeKey(rel *schema.Relation, args []pattern, wit pattern) string {
	var b strings.Builder
	b.WriteString(rel.Name())
	if wit.kind == patSlot {
		b.WriteByte('\'')
		b.WriteString(wit.String())
	}
	b.WriteByte('(')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

// NodeCount is the number of trie nodes.
func (n *Network) NodeCount() int { return len(n.nodes) }

// Terminals returns the compiled rule heads in rule order.
func (n *Network) Terminals() []*Terminal { return n.terminals }

// Triggers returns the distinct trigger keys of all rules, sorted.
func (n *Network) Triggers() []TriggerKey {
	seen := map[TriggerKey]bool{}
	var out []TriggerKey
	for _, t := range n.terminals {
		if !seen[t.Trigger] {
			seen[t.Trigger] = true
			out = append(out, t.Trigger)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Schema returns the schema the network was compiled against.
func (n *Network) Schema() *schema.Schema { return n.schema }

// Dump renders the trie, one node per line, indented by depth.
func (n *Network) Dump() string {
	var b strings.Builder
	var walk func(nd *node)
	walk = func(nd *node) {
		fmt.Fprintf(&b, "%s%s", strings.Repeat("  ", nd.depth-1), nd.key)
		for _, t := range nd.terms {
			fmt.Fprintf(&b, " => %s", t.Trigger)
		}
		b.WriteByte('\n')
		for _, c := range nd.children {
			walk(c)
		}
	}
	for _, r := range n.roots {
		walk(r)
	}
	return b.String()
}
