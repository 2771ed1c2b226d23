// Package agenda is the priority queue of pending candidates.
package agenda

import (
	"container/heap"
	"sort"

	"github.com/cognicore/uberts/pkg/uberts/transition"
)

type item struct {
	c   transition.Candidate
	seq int
}

// before orders by score, highest first, then by generation order.
func (a item) before(b item) bool {
	if a.c.Score != b.c.Score {
		return a.c.Score > b.c.Score
	}
	return a.seq < b.seq
}

type itemHeap []item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return h[i].before(h[j]) }
func (h itemHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)        { *h = append(*h, x.(item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

// Agenda holds at most one candidate per fact key. The first proposal of a
// fact keeps its place; later proposals of the same fact are dropped.
type Agenda struct {
	h    itemHeap
	keys map[string]bool
	next int
}

// New creates an empty agenda.
func New() *Agenda {
	return &Agenda{keys: map[string]bool{}}
}

// Push queues c. It returns false if a candidate for the same fact is
// already queued.
func (a *Agenda) Push(c transition.Candidate) bool {
	k := c.Fact.Key()
	if a.keys[k] {
		return false
	}
	a.keys[k] = true
	a.next++
	heap.Push(&a.h, item{c: c, seq: a.next})
	return true
}

// Pop removes and returns the best candidate.
func (a *Agenda) Pop() (transition.Candidate, bool) {
	if len(a.h) == 0 {
		return transition.Candidate{}, false
	}
	it := heap.Pop(&a.h).(item)
	delete(a.keys, it.c.Fact.Key())
	return it.c, true
}

// Peek returns the best candidate without removing it.
func (a *Agenda) Peek() (transition.Candidate, bool) {
	if len(a.h) == 0 {
		return transition.Candidate{}, false
	}
	return a.h[0].c, true
}

// Contains reports whether a candidate for the fact key is queued.
func (a *Agenda) Contains(key string) bool { return a.keys[key] }

func (a *Agenda) Len() int { return len(a.h) }

// Items returns the queued candidates, best first.
func (a *Agenda) Items() []transition.Candidate { return a.Select(nil) }

// Select returns the queued candidates keep accepts, best first. A nil keep
// accepts all. Only the accepted candidates are sorted.
func (a *Agenda) Select(keep func(transition.Candidate) bool) []transition.Candidate {
	var items itemHeap
	for _, it := range a.h {
		if keep == nil || keep(it.c) {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].before(items[j]) })
	out := make([]transition.Candidate, len(items))
	for i, it := range items {
		out[i] = it.c
	}
	return out
}

// Reset drops every candidate and restarts generation order.
func (a *Agenda) Reset() {
	a.h = nil
	a.keys = map[string]bool{}
	a.next = 0
}
