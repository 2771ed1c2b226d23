package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cognicore/uberts/pkg/uberts"
	"github.com/cognicore/uberts/pkg/uberts/config"
	"github.com/cognicore/uberts/pkg/uberts/labels"
	"github.com/cognicore/uberts/pkg/uberts/learn"
	"github.com/cognicore/uberts/pkg/uberts/pipeline"
	"github.com/cognicore/uberts/pkg/uberts/reldata"
	"github.com/cognicore/uberts/pkg/uberts/runstore"
	"github.com/cognicore/uberts/pkg/uberts/transition"
)

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Grammar = args[0]
	}
	if cfg.Grammar == "" {
		return fmt.Errorf("no grammar given")
	}
	g, err := uberts.LoadGrammar(cfg.Grammar)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d relations, %d rules (%d nopredict), %d network nodes\n",
		cfg.Grammar, len(g.Schema.Relations()), len(g.Rules), len(g.Skipped), g.Network.NodeCount())
	for _, rel := range g.Schema.Relations() {
		fmt.Fprintf(out, "  %s\n", rel.Definition())
	}
	fmt.Fprintln(out, "triggers:")
	for _, k := range g.Network.Triggers() {
		fmt.Fprintf(out, "  %s\n", k)
	}

	if len(cfg.Generators) > 0 || len(cfg.Constraints) > 0 {
		reg, err := cfg.Registry(learn.NewPerceptron(learn.RuleFeatures, cfg.LearningRate))
		if err != nil {
			return err
		}
		for _, k := range reg.Validate(g.Network) {
			fmt.Fprintf(out, "warning: generator for %s never fires\n", k)
		}
	}

	if dump, _ := cmd.Flags().GetBool("dump"); dump {
		fmt.Fprintln(out, g.Network.Dump())
	}
	return nil
}

// session is what decode and train share: configuration, logger, loaded
// inputs and an open run store.
type session struct {
	cfg   *config.Config
	log   *slog.Logger
	comp  *config.Components
	store runstore.Store
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := cfg.Log.Logger(os.Stderr)
	if cfg.Data == "" {
		return nil, fmt.Errorf("no data file given")
	}

	comp, err := config.NewLoader(cfg).Load()
	if err != nil {
		return nil, err
	}
	log.Info("loaded",
		"grammar", cfg.Grammar,
		"rules", len(comp.Grammar.Rules),
		"docs", len(comp.Docs))

	st, err := openStore(cmd.Context(), cfg.Store, log)
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return &session{cfg: cfg, log: log, comp: comp, store: st}, nil
}

func (s *session) pipeline(opts uberts.Options, workers int) *pipeline.Pipeline {
	var exp *reldata.Exporter
	if s.cfg.Output != "" {
		exp = &reldata.Exporter{Writer: &reldata.FileWriter{Path: s.cfg.Output}, Scores: true}
	}
	return pipeline.New(s.comp.Grammar, pipeline.Options{
		Engine:          opts,
		Workers:         workers,
		Shared:          s.comp.Shared,
		Store:           s.store,
		Exporter:        exp,
		ContinueOnError: true,
		Logger:          s.log,
	})
}

func runDecode(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	addr, _ := cmd.Flags().GetString("metrics-addr")
	serveMetrics(ctx, addr, s.log)

	opts, err := s.cfg.Options()
	if err != nil {
		return err
	}
	if opts.Mode == uberts.ModeTrain {
		return fmt.Errorf("use the train command for mode train")
	}
	var perc *learn.Perceptron
	if s.cfg.UsesPerceptron() {
		perc = learn.NewPerceptron(learn.RuleFeatures, s.cfg.LearningRate)
	}
	if opts.Registry, err = s.cfg.Registry(perc); err != nil {
		return err
	}

	start := time.Now()
	rs, err := s.pipeline(opts, s.cfg.Workers).Run(ctx, s.comp.Docs)
	if err != nil {
		return err
	}
	printResults(cmd.OutOrStdout(), rs)
	s.log.Info("decode finished", "docs", len(rs), "elapsed", time.Since(start))
	return nil
}

func runTrain(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.store.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	addr, _ := cmd.Flags().GetString("metrics-addr")
	serveMetrics(ctx, addr, s.log)

	opts, err := s.cfg.Options()
	if err != nil {
		return err
	}
	opts.Mode = uberts.ModeTrain

	perc := learn.NewPerceptron(learn.RuleFeatures, s.cfg.LearningRate)
	if opts.Registry, err = s.cfg.Registry(perc); err != nil {
		return err
	}
	if !s.cfg.UsesPerceptron() {
		// Without declared perceptron generators, learn every rule head.
		if err := registerAll(opts.Registry, s.comp.Grammar, perc); err != nil {
			return err
		}
	}
	opts.Learner = perc

	// One worker keeps perceptron updates in document order.
	p := s.pipeline(opts, 1)
	out := cmd.OutOrStdout()
	err = p.Train(ctx, s.comp.Docs, s.cfg.Epochs, func(epoch int, rs []pipeline.Result) {
		total := labels.Perf{}
		for _, perf := range pipeline.Summary(rs) {
			total = total.Add(perf)
		}
		fmt.Fprintf(out, "epoch %d: %s updates=%d\n", epoch, total, perc.Updates())
	})
	if err != nil {
		return err
	}

	n, _ := cmd.Flags().GetInt("top")
	if n > 0 {
		fmt.Fprintln(out, "top features:")
		for _, f := range perc.TopFeatures(n) {
			fmt.Fprintf(out, "  %-40s %8.3f\n", f, perc.Weight(f))
		}
	}
	return nil
}

func registerAll(reg *transition.Registry, g *uberts.Grammar, gen transition.Generator) error {
	for _, k := range g.Network.Triggers() {
		if err := reg.Register(string(k), gen); err != nil {
			return err
		}
	}
	return nil
}

func printResults(w io.Writer, rs []pipeline.Result) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOC\tOUTCOME\tCOMMITS\tSTEPS\tDURATION")
	for _, r := range rs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", r.Run.DocID, r.Run.Outcome, r.Run.Commits, r.Run.Steps, r.Run.Duration.Round(time.Microsecond))
	}
	tw.Flush()

	summary := pipeline.Summary(rs)
	if len(summary) == 0 {
		return
	}
	rels := make([]string, 0, len(summary))
	for rel := range summary {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	fmt.Fprintln(w)
	for _, rel := range rels {
		fmt.Fprintf(w, "%-20s %s\n", rel, summary[rel])
	}
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver == "memory" {
		return fmt.Errorf("the memory store keeps no runs between invocations; use --store-driver sqlite or badger")
	}
	st, err := openStore(cmd.Context(), cfg.Store, cfg.Log.Logger(os.Stderr))
	if err != nil {
		return err
	}
	defer st.Close()

	var f runstore.Filter
	f.DocID, _ = cmd.Flags().GetString("doc")
	f.Mode, _ = cmd.Flags().GetString("run-mode")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	runs, err := st.ListRuns(cmd.Context(), f)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		for _, r := range runs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDOC\tMODE\tEPOCH\tOUTCOME\tCOMMITS\tPERF")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n", r.ID, r.DocID, r.Mode, r.Epoch, r.Outcome, r.Commits, r.TotalPerf())
	}
	return tw.Flush()
}
