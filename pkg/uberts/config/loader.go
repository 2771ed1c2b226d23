package config

import (
	"fmt"
	"os"

	"github.com/cognicore/uberts/pkg/uberts"
	"github.com/cognicore/uberts/pkg/uberts/learn"
	"github.com/cognicore/uberts/pkg/uberts/reldata"
	"github.com/cognicore/uberts/pkg/uberts/transition"
)

// Loader loads the grammar and data files and constructs components
type Loader struct {
	GrammarPath string
	DataPath    string
	Dedup       bool
}

// Components holds everything a run needs besides the engine options
type Components struct {
	Grammar *uberts.Grammar
	Docs    []*reldata.Doc
	// Shared holds the data file's header schema lines.
	Shared *reldata.Doc
}

// NewLoader builds a loader from a configuration.
func NewLoader(c *Config) *Loader {
	return &Loader{GrammarPath: c.Grammar, DataPath: c.Data, Dedup: c.Dedup}
}

// Load compiles the grammar, then reads the data file and registers its def
// lines with the grammar's schema.
func (l *Loader) Load() (*Components, error) {
	if l.GrammarPath == "" {
		return nil, fmt.Errorf("no grammar configured")
	}
	g, err := uberts.LoadGrammar(l.GrammarPath)
	if err != nil {
		return nil, fmt.Errorf("load grammar: %w", err)
	}
	comp := &Components{Grammar: g}

	if l.DataPath == "" {
		return comp, nil
	}
	f, err := os.Open(l.DataPath)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	defer f.Close()

	r := reldata.NewReader(f, l.Dedup)
	docs, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("load data: %s: %w", l.DataPath, err)
	}
	if err := r.ApplyDefs(g.Schema); err != nil {
		return nil, fmt.Errorf("load data: %s: %w", l.DataPath, err)
	}
	comp.Docs = docs
	comp.Shared = r.Shared()
	return comp, nil
}

// Registry builds the generators and constraints the configuration
// declares. Perceptron generators share p, which may be nil when none are
// declared.
func (c *Config) Registry(p *learn.Perceptron) (*transition.Registry, error) {
	reg := transition.NewRegistry()
	for _, g := range c.Generators {
		var gen transition.Generator
		switch g.Kind {
		case "perceptron":
			if p == nil {
				return nil, fmt.Errorf("generator %s: no perceptron", g.Trigger)
			}
			gen = p
		default:
			gen = transition.Constant(g.Score)
		}
		if err := reg.Register(g.Trigger, gen); err != nil {
			return nil, fmt.Errorf("generator %s: %w", g.Trigger, err)
		}
	}
	for _, cs := range c.Constraints {
		var group transition.GroupKey
		if len(cs.Group) > 0 {
			group = transition.ByArgs(cs.Group...)
		}
		if err := reg.RegisterGlobalConstraint(cs.Trigger, group, transition.AtMostK(cs.Max)); err != nil {
			return nil, fmt.Errorf("constraint %s: %w", cs.Trigger, err)
		}
	}
	return reg, nil
}

// UsesPerceptron reports whether any generator is a perceptron.
func (c *Config) UsesPerceptron() bool {
	for _, g := range c.Generators {
		if g.Kind == "perceptron" {
			return true
		}
	}
	return false
}

// Options translates the decode settings into engine options.
func (c *Config) Options() (uberts.Options, error) {
	mode, err := uberts.ParseMode(c.Mode)
	if err != nil {
		return uberts.Options{}, err
	}
	return uberts.Options{Mode: mode, Threshold: c.Threshold, Budget: c.Budget}, nil
}
