// Package pipeline decodes many documents against one grammar, one Engine
// per document, and records each run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/uberts/pkg/uberts"
	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/labels"
	"github.com/cognicore/uberts/pkg/uberts/metrics"
	"github.com/cognicore/uberts/pkg/uberts/reldata"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
)

// Options configures a Pipeline.
type Options struct {
	// Engine is the template for every document's engine. Its Logger is
	// tagged with the document and run IDs.
	Engine uberts.Options

	// Workers bounds how many documents decode at once. Values below 1 mean
	// 1. Training with a shared learner and more than one worker makes
	// update order, and so the learned weights, nondeterministic.
	Workers int

	// Shared, if set, is loaded into every document's engine before the
	// document itself. Reader.Shared supplies a file's header schema lines.
	Shared *reldata.Doc

	// Store, if set, receives every run.
	Store runstore.Store

	// Exporter, if set, receives each document's decoded facts after the
	// whole batch finishes, in document order.
	Exporter *reldata.Exporter

	// ContinueOnError records a failed document and goes on with the rest
	// instead of cancelling the batch.
	ContinueOnError bool

	IDs    *runstore.IDSource
	Logger *slog.Logger
}

// Result is the outcome of one document.
type Result struct {
	Run runstore.Run
	// Decoded are the facts Decode committed, in commit order.
	Decoded []*fact.Fact
	Gold    []*fact.Fact
	Err     error
}

// Pipeline runs batches of documents.
type Pipeline struct {
	g    *uberts.Grammar
	opts Options
	log  *slog.Logger
}

// New creates a pipeline over g.
func New(g *uberts.Grammar, opts Options) *Pipeline {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.IDs == nil {
		opts.IDs = runstore.NewIDSource()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}
	return &Pipeline{g: g, opts: opts, log: opts.Logger}
}

// Run decodes docs as epoch 0.
func (p *Pipeline) Run(ctx context.Context, docs []*reldata.Doc) ([]Result, error) {
	return p.RunEpoch(ctx, docs, 0)
}

// RunEpoch decodes every document and returns results in document order.
// Unless ContinueOnError is set, the first failure cancels the remaining
// documents and is returned.
func (p *Pipeline) RunEpoch(ctx context.Context, docs []*reldata.Doc, epoch int) ([]Result, error) {
	results := make([]Result, len(docs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			res := p.decode(gCtx, doc, epoch)
			results[i] = res
			if res.Err != nil && !p.opts.ContinueOnError {
				return fmt.Errorf("doc %q: %w", doc.ID, res.Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.log.Info("batch finished", "epoch", epoch, "docs", len(docs), "failed", failed)

	if p.opts.Exporter != nil {
		for i, r := range results {
			if r.Err != nil {
				continue
			}
			if err := p.opts.Exporter.Export(ctx, docs[i].ID, r.Decoded, r.Gold); err != nil {
				return results, fmt.Errorf("export doc %q: %w", docs[i].ID, err)
			}
		}
	}
	return results, nil
}

// Train runs epochs passes over docs. onEpoch, if set, sees each epoch's
// results before the next begins.
func (p *Pipeline) Train(ctx context.Context, docs []*reldata.Doc, epochs int, onEpoch func(epoch int, rs []Result)) error {
	for ep := 0; ep < epochs; ep++ {
		rs, err := p.RunEpoch(ctx, docs, ep)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", ep, err)
		}
		if onEpoch != nil {
			onEpoch(ep, rs)
		}
	}
	return nil
}

func (p *Pipeline) decode(ctx context.Context, doc *reldata.Doc, epoch int) Result {
	id := p.opts.IDs.New()
	opts := p.opts.Engine
	opts.Logger = opts.Logger.With("doc", doc.ID, "run", id)

	e := uberts.New(p.g, opts)
	start := time.Now()
	outcome, err := uberts.Running, p.load(e, doc)
	if err == nil {
		outcome, err = e.Decode(0)
	}

	res := Result{Run: Capture(e, id, doc.ID, outcome, err)}
	res.Run.Epoch = epoch
	res.Run.StartedAt = start.UTC()
	res.Run.Duration = time.Since(start)
	res.Err = err
	metrics.RecordDocument(err == nil)

	if err == nil {
		res.Decoded = Decoded(e)
		for _, rel := range e.Gold().Relations() {
			res.Gold = append(res.Gold, e.Gold().Facts(rel)...)
		}
	} else {
		opts.Logger.Error("document failed", "error", err)
	}

	if p.opts.Store != nil {
		if serr := p.opts.Store.SaveRun(ctx, res.Run); serr != nil && res.Err == nil {
			res.Err = fmt.Errorf("save run: %w", serr)
		}
	}
	return res
}

func (p *Pipeline) load(e *uberts.Engine, doc *reldata.Doc) error {
	if p.opts.Shared != nil {
		if err := p.opts.Shared.Load(p.g.Schema, e); err != nil {
			return fmt.Errorf("shared schema: %w", err)
		}
	}
	return doc.Load(p.g.Schema, e)
}

// Capture summarises an engine's state as a run record.
func Capture(e *uberts.Engine, id, docID string, outcome uberts.Outcome, err error) runstore.Run {
	r := runstore.Run{
		ID:      id,
		DocID:   docID,
		Mode:    e.Mode().String(),
		Outcome: outcome.String(),
		Perf:    e.PerformanceAll(),
	}
	if err != nil {
		r.Outcome = "error"
		r.Error = err.Error()
	}
	for _, s := range e.Trajectory() {
		r.Steps++
		if s.Committed {
			r.Commits++
		}
	}
	for _, f := range e.Store().All() {
		r.Facts = append(r.Facts, runstore.Fact{
			Relation: f.Relation().Name(),
			Args:     f.Values(),
			Score:    f.Score,
			Gold:     e.Gold().Contains(f),
		})
	}
	return r
}

// Decoded returns the facts committed by decoding, as opposed to observed
// or schema facts, in commit order.
func Decoded(e *uberts.Engine) []*fact.Fact {
	var out []*fact.Fact
	for _, s := range e.Trajectory() {
		if !s.Committed {
			continue
		}
		if f, ok := e.Store().Get(s.Candidate.Fact.Key()); ok {
			out = append(out, f)
		}
	}
	return out
}

// Summary adds up per-relation performance across results.
func Summary(rs []Result) map[string]labels.Perf {
	out := map[string]labels.Perf{}
	for _, r := range rs {
		for rel, p := range r.Run.Perf {
			out[rel] = out[rel].Add(p)
		}
	}
	return out
}
