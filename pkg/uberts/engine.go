// Package uberts is an incremental, rule-driven inference engine.
//
// A Grammar declares relations and rules. An Engine holds the facts of one
// document: observed facts are committed directly, every commit runs the
// matching network, generators score the resulting matches into
// candidates, and Decode commits the best feasible candidate until the
// agenda runs dry or the step budget is spent.
package uberts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cognicore/uberts/pkg/uberts/agenda"
	"github.com/cognicore/uberts/pkg/uberts/fact"
	"github.com/cognicore/uberts/pkg/uberts/internalerr"
	"github.com/cognicore/uberts/pkg/uberts/labels"
	"github.com/cognicore/uberts/pkg/uberts/learn"
	"github.com/cognicore/uberts/pkg/uberts/match"
	"github.com/cognicore/uberts/pkg/uberts/metrics"
	"github.com/cognicore/uberts/pkg/uberts/transition"
)

// DefaultBudget caps commits per Decode call when no budget is given.
const DefaultBudget = 100000

// Options configures an Engine.
type Options struct {
	// Logger receives debug lines per decision and one info line per decode.
	// Nil means slog.Default().
	Logger *slog.Logger

	// Registry holds generators and global constraints. Nil means an empty
	// registry.
	Registry *transition.Registry

	// DefaultGenerator scores matches of rules with no registered generator.
	// Nil means transition.Constant(0), so every rule proposes its head.
	DefaultGenerator transition.Generator

	Mode Mode

	// Threshold, when set, prunes candidates scoring at or below it in
	// ModeGreedy and ModeTrain.
	Threshold *float64

	// Budget caps commits per Decode call. Zero means DefaultBudget.
	Budget int

	// Learner receives a signal per decision in ModeTrain and
	// ModeExhaustive.
	Learner learn.Learner
}

// Step is one agenda decision.
type Step struct {
	Candidate transition.Candidate
	// Gold is whether the candidate is in the gold set. Only meaningful when
	// Supervised is true.
	Gold       bool
	Supervised bool
	Committed  bool
	// Reason names why an uncommitted candidate was rejected: "threshold",
	// "oracle" or the vetoing constraint.
	Reason string
}

// Engine runs decoding for one document at a time. It is not safe for
// concurrent use; run one Engine per goroutine over a shared Grammar.
type Engine struct {
	g      *Grammar
	reg    *transition.Registry
	defGen transition.Generator
	opts   Options
	log    *slog.Logger
	store  *fact.Store
	agenda *agenda.Agenda
	gold   *labels.Gold
	schema []*fact.Fact
	steps  []Step
	stats  match.Stats
}

// New creates an engine over g.
func New(g *Grammar, opts Options) *Engine {
	e := &Engine{
		g:      g,
		reg:    opts.Registry,
		defGen: opts.DefaultGenerator,
		opts:   opts,
		log:    opts.Logger,
		store:  fact.NewStore(),
		agenda: agenda.New(),
		gold:   labels.NewGold(),
	}
	if e.reg == nil {
		e.reg = transition.NewRegistry()
	}
	if e.defGen == nil {
		e.defGen = transition.Constant(0)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.opts.Budget <= 0 {
		e.opts.Budget = DefaultBudget
	}
	for _, k := range e.reg.Validate(g.Network) {
		e.log.Warn("generator registered for a head no rule produces", "trigger", string(k))
	}
	return e
}

// Grammar returns the grammar the engine runs.
func (e *Engine) Grammar() *Grammar { return e.g }

// Store returns the committed facts.
func (e *Engine) Store() *fact.Store { return e.store }

// Agenda returns the pending candidates.
func (e *Engine) Agenda() *agenda.Agenda { return e.agenda }

// Mode returns the decode mode.
func (e *Engine) Mode() Mode { return e.opts.Mode }

// Stats returns the matcher work accumulated since the last Reset.
func (e *Engine) Stats() match.Stats { return e.stats }

// ParseFact reads "rel(v1, v2)" against the grammar's schema.
func (e *Engine) ParseFact(text string) (*fact.Fact, error) {
	return fact.Parse(e.g.Schema, text)
}

// AddFact commits an observed fact and runs the matcher on it. Adding a fact
// that is already present is a no-op.
func (e *Engine) AddFact(f *fact.Fact) error {
	_, err := e.commit(f)
	return err
}

// AddSchemaFact commits a fact that belongs to every document, such as a
// label inventory. Schema facts are re-committed after Reset.
func (e *Engine) AddSchemaFact(f *fact.Fact) error {
	added, err := e.commit(f)
	if added {
		e.schema = append(e.schema, f)
	}
	return err
}

// Propose queues a candidate that did not come from a rule match. It
// returns false if the fact is already committed or queued.
func (e *Engine) Propose(c transition.Candidate) bool {
	if e.store.Contains(c.Fact) {
		return false
	}
	return e.agenda.Push(c)
}

// Commit commits c's fact directly, bypassing agenda order and constraints.
func (e *Engine) Commit(c transition.Candidate) error {
	f := c.Fact
	if f.Score != c.Score {
		cp := *f
		cp.Score = c.Score
		f = &cp
	}
	_, err := e.commit(f)
	return err
}

func (e *Engine) commit(f *fact.Fact) (bool, error) {
	if !e.store.Add(f) {
		return false, nil
	}
	f, _ = e.store.Get(f.Key())
	metrics.RecordCommit(f.Relation().Name(), e.opts.Mode.String())

	stats, err := e.g.Network.Match(e.store, f, e.propose)
	e.stats.Add(stats)
	metrics.RecordMatchWork(stats.Matches, stats.FactsScanned)
	return true, err
}

// propose runs the generators for one match and queues their candidates.
func (e *Engine) propose(m *match.Match) error {
	gens := e.reg.Generators(m.Trigger())
	if len(gens) == 0 {
		gens = []transition.Generator{e.defGen}
	}
	for _, g := range gens {
		cs, err := g.Generate(m)
		if err != nil {
			return fmt.Errorf("%s from %s: %v: %w", m.Head, m.Terminal.Rule, err, internalerr.ErrGenerator)
		}
		for _, c := range cs {
			if c.Fact == nil {
				continue
			}
			if c.Match == nil {
				c.Match = m
			}
			e.Propose(c)
		}
	}
	return nil
}

// Decode commits candidates until the agenda is empty (Done) or budget
// commits have been made (BudgetExceeded). A budget of zero uses the
// engine's configured budget. A generator or learner error aborts the run.
func (e *Engine) Decode(budget int) (Outcome, error) {
	if budget <= 0 {
		budget = e.opts.Budget
	}
	mode := e.opts.Mode
	start := time.Now()
	commits := 0

	outcome, err := func() (Outcome, error) {
		for {
			if e.agenda.Len() == 0 {
				return Done, nil
			}
			if commits >= budget {
				return BudgetExceeded, nil
			}
			c, _ := e.agenda.Pop()
			if e.store.Contains(c.Fact) {
				continue
			}

			step := Step{Candidate: c}
			if e.gold.Has(c.Fact.Relation()) {
				step.Supervised = true
				step.Gold = e.gold.Contains(c.Fact)
			}
			step.Reason = e.reject(c, step)

			if step.Reason == "" {
				cf := *c.Fact
				cf.Score = c.Score
				if _, err := e.commit(&cf); err != nil {
					return Running, err
				}
				step.Committed = true
				commits++
				e.log.Debug("commit", "fact", cf.String(), "score", c.Score, "gold", step.Gold)
			} else {
				metrics.RecordVeto(vetoKind(step.Reason))
				e.log.Debug("reject", "fact", c.Fact.String(), "score", c.Score, "reason", step.Reason)
			}
			e.steps = append(e.steps, step)

			if err := e.signal(step); err != nil {
				return Running, err
			}
		}
	}()

	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordDecode(mode.String(), "error", commits, elapsed.Seconds())
		e.log.Error("decode aborted", "mode", mode.String(), "commits", commits, "error", err)
		return outcome, err
	}
	metrics.RecordDecode(mode.String(), outcome.String(), commits, elapsed.Seconds())
	e.log.Info("decode finished",
		"mode", mode.String(),
		"outcome", outcome.String(),
		"commits", commits,
		"facts", e.store.Len(),
		"pending", e.agenda.Len(),
		"elapsed", elapsed)
	return outcome, nil
}

// reject returns why c may not commit now, or "".
func (e *Engine) reject(c transition.Candidate, step Step) string {
	switch e.opts.Mode {
	case ModeOracle:
		if step.Supervised && !step.Gold {
			return "oracle"
		}
	case ModeGreedy, ModeTrain:
		if t := e.opts.Threshold; t != nil && c.Score <= *t {
			return "threshold"
		}
	}
	return e.reg.Check(c, e.store, e.agenda.Select)
}

func vetoKind(reason string) string {
	switch reason {
	case "threshold", "oracle":
		return reason
	}
	return "constraint"
}

func (e *Engine) signal(s Step) error {
	if e.opts.Learner == nil || !s.Supervised {
		return nil
	}
	if e.opts.Mode != ModeTrain && e.opts.Mode != ModeExhaustive {
		return nil
	}
	if err := e.opts.Learner.Observe(learn.Signal{
		Candidate: s.Candidate,
		Gold:      s.Gold,
		Committed: s.Committed,
	}); err != nil {
		return fmt.Errorf("learner: %w", err)
	}
	return nil
}

// Reset clears facts, agenda, gold labels and trajectory for a new
// document, then re-commits the schema facts. The grammar and registry are
// kept.
func (e *Engine) Reset() error {
	e.store.Reset()
	e.agenda.Reset()
	e.gold.Reset()
	e.steps = nil
	e.stats = match.Stats{}
	for _, f := range e.schema {
		if _, err := e.commit(f); err != nil {
			return err
		}
	}
	return nil
}

// SetGoldLabels replaces the gold facts of a relation. Supplying gold for
// a relation, even an empty set, makes it supervised.
func (e *Engine) SetGoldLabels(relation string, facts []*fact.Fact) error {
	rel, ok := e.g.Schema.Relation(relation)
	if !ok {
		return fmt.Errorf("%s: %w", relation, internalerr.ErrUnknownRelation)
	}
	for _, f := range facts {
		if f.Relation() != rel {
			return fmt.Errorf("gold fact %s is not a %s: %w", f, relation, internalerr.ErrInvalidInput)
		}
	}
	e.gold.Set(rel, facts)
	return nil
}

// AddGoldLabel adds one gold fact.
func (e *Engine) AddGoldLabel(f *fact.Fact) { e.gold.Add(f) }

// Gold returns the gold labels of the current document.
func (e *Engine) Gold() *labels.Gold { return e.gold }

// Performance compares the committed facts of a relation with its gold.
func (e *Engine) Performance(relation string) (labels.Perf, error) {
	by, err := e.PerformanceBy(relation, nil)
	if err != nil {
		return labels.Perf{}, err
	}
	return by[""], nil
}

// PerformanceBy is Performance split by group.
func (e *Engine) PerformanceBy(relation string, group labels.GroupFunc) (map[string]labels.Perf, error) {
	rel, ok := e.g.Schema.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%s: %w", relation, internalerr.ErrUnknownRelation)
	}
	return labels.Compare(e.gold.Facts(rel), e.store.ByRelation(rel), group), nil
}

// PerformanceAll reports every supervised relation.
func (e *Engine) PerformanceAll() map[string]labels.Perf {
	out := map[string]labels.Perf{}
	for _, rel := range e.gold.Relations() {
		out[rel.Name()] = labels.Evaluate(e.gold.Facts(rel), e.store.ByRelation(rel))
	}
	return out
}

// Trajectory returns the decisions made since the last Reset.
func (e *Engine) Trajectory() []Step {
	return append([]Step(nil), e.steps...)
}

// Facts returns the committed facts of a relation in commit order.
func (e *Engine) Facts(relation string) []*fact.Fact {
	rel, ok := e.g.Schema.Relation(relation)
	if !ok {
		return nil
	}
	return e.store.ByRelation(rel)
}
