// Package runstore records the results of decode runs: which facts each
// document ended with and how they compared against gold labels.
package runstore

import (
	"context"
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/uberts/pkg/uberts/labels"
)

// Store is the interface for persisting and querying decode runs
type Store interface {
	Close() error

	// SaveRun inserts a run or replaces the run with the same ID.
	SaveRun(ctx context.Context, r Run) error
	// GetRun returns the run with the given ID, or false if there is none.
	GetRun(ctx context.Context, id string) (Run, bool, error)
	// ListRuns returns matching runs ordered by ID, oldest first.
	ListRuns(ctx context.Context, f Filter) ([]Run, error)
}

// Run is one decode of one document.
type Run struct {
	ID        string        `json:"id"`
	DocID     string        `json:"doc_id"`
	Mode      string        `json:"mode"`
	Outcome   string        `json:"outcome"`
	Epoch     int           `json:"epoch"`
	Commits   int           `json:"commits"`
	Steps     int           `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	// Error is set when the run aborted.
	Error string                 `json:"error,omitempty"`
	Facts []Fact                 `json:"facts,omitempty"`
	Perf  map[string]labels.Perf `json:"perf,omitempty"`
}

// Fact is a committed fact as recorded with a run.
type Fact struct {
	Relation string   `json:"relation"`
	Args     []string `json:"args"`
	Score    float64  `json:"score"`
	Gold     bool     `json:"gold,omitempty"`
}

// Filter narrows ListRuns. Zero fields match everything.
type Filter struct {
	DocID string
	Mode  string
	Limit int
}

// Match reports whether r passes the filter's field conditions.
func (f Filter) Match(r Run) bool {
	if f.DocID != "" && r.DocID != f.DocID {
		return false
	}
	if f.Mode != "" && r.Mode != f.Mode {
		return false
	}
	return true
}

// Apply filters, sorts by ID and truncates runs to the limit.
func (f Filter) Apply(runs []Run) []Run {
	out := runs[:0]
	for _, r := range runs {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// TotalPerf sums the per-relation performance of a run.
func (r Run) TotalPerf() labels.Perf {
	var p labels.Perf
	for _, v := range r.Perf {
		p = p.Add(v)
	}
	return p
}

// IDSource issues run IDs as monotonic ULIDs, so IDs sort in creation
// order. It is safe for concurrent use.
type IDSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewIDSource creates an ID source.
func NewIDSource() *IDSource {
	return &IDSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// New returns a fresh ID.
func (s *IDSource) New() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}

// Clone deep-copies a run so stores never share slices with callers.
func Clone(r Run) Run {
	if r.Facts != nil {
		facts := make([]Fact, len(r.Facts))
		for i, f := range r.Facts {
			f.Args = append([]string(nil), f.Args...)
			facts[i] = f
		}
		r.Facts = facts
	}
	if r.Perf != nil {
		perf := make(map[string]labels.Perf, len(r.Perf))
		for k, v := range r.Perf {
			perf[k] = v
		}
		r.Perf = perf
	}
	return r
}
