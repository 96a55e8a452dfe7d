package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/comparables"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/presets"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/valuation"
	"github.com/opensource-finance/kestrel/internal/worker"
)

type runOptions struct {
	input       string
	comparables string
	presetsFile string
	preset      string
	tenant      string
	output      string
	asOf        string
	workers     int
	topK        int
	timeout     time.Duration
	noRules     bool
}

// Report is the JSON document written by the run command.
type Report struct {
	Preset  string          `json:"preset"`
	AsOf    time.Time       `json:"asOf,omitempty"`
	Summary worker.Summary  `json:"summary"`
	Results []worker.Result `json:"results"`
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score and value every company in an input file",
		Long: `Score and value every company in an input file.

Each company runs in its own slot: a company that fails or times out is
reported in the results and never stops the rest of the batch. The command
exits with status 1 when any company did not complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "YAML or JSON file with a companies list")
	f.StringVarP(&opts.comparables, "comparables", "c", "", "YAML or JSON file with a comparables list")
	f.StringVar(&opts.presetsFile, "presets-file", "", "YAML file with additional scoring presets")
	f.StringVarP(&opts.preset, "preset", "p", domain.PresetDefault, "Scoring preset name")
	f.StringVar(&opts.tenant, "tenant", "batch", "Tenant the batch runs as")
	f.StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	f.StringVar(&opts.asOf, "as-of", "", "Reference date (YYYY-MM-DD) for staleness and deal age")
	f.IntVarP(&opts.workers, "workers", "w", worker.DefaultBatchWorkers, "Concurrent companies")
	f.IntVar(&opts.topK, "top-k", 0, "Comparables feeding the base valuation (0 uses the default)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Per-company timeout, 0 disables it")
	f.BoolVar(&opts.noRules, "no-rules", false, "Skip the default screening rules")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runBatch(ctx context.Context, stdout io.Writer, opts *runOptions) error {
	companies, err := loadCompanies(opts.input)
	if err != nil {
		return err
	}

	var pool []domain.Comparable
	if opts.comparables != "" {
		if pool, err = loadComparables(opts.comparables); err != nil {
			return err
		}
	}

	store := presets.NewStore()
	if opts.presetsFile != "" {
		if err := store.LoadFile(opts.tenant, opts.presetsFile); err != nil {
			return err
		}
	}
	cfg, err := store.Get(opts.tenant, opts.preset)
	if err != nil {
		return err
	}
	if opts.asOf != "" {
		asOf, err := time.Parse(time.DateOnly, opts.asOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of %q: %w", opts.asOf, err)
		}
		cfg.Market.AsOf = asOf
	}

	var scoringOpts []scoring.Option
	if !opts.noRules {
		ruleEngine, err := rules.NewEngine(0)
		if err != nil {
			return err
		}
		if err := ruleEngine.LoadRules(rules.DefaultRules()); err != nil {
			return err
		}
		scoringOpts = append(scoringOpts, scoring.WithScreener(ruleEngine))
	}

	var valuationOpts []valuation.Option
	if opts.topK > 0 {
		valuationOpts = append(valuationOpts, valuation.WithTopK(opts.topK))
	}

	analyzer := pipeline.NewAnalyzer(
		scoring.NewEngine(scoringOpts...),
		valuation.NewEngine(valuationOpts...),
		pipeline.WithSearcher(comparables.NewMatcher(comparables.StaticSource(pool))),
	)

	batch := worker.NewBatch(analyzer,
		worker.WithWorkers(opts.workers),
		worker.WithCompanyTimeout(opts.timeout),
	)
	results := batch.Run(ctx, opts.tenant, companies, cfg)

	report := Report{
		Preset:  cfg.Name,
		AsOf:    cfg.Market.AsOf,
		Summary: worker.Summarize(results),
		Results: results,
	}
	if err := writeReport(stdout, opts.output, report); err != nil {
		return err
	}

	if s := report.Summary; s.Failed+s.Cancelled > 0 {
		return &BatchFailureError{Failed: s.Failed, Cancelled: s.Cancelled}
	}
	return nil
}

// createReport opens the report file; tests replace it.
var createReport = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

// writeReport encodes the report to stdout, or to path when set. A report
// file that fails to close is reported, since the encoder's last write may
// only reach disk on Close.
func writeReport(stdout io.Writer, path string, report Report) (err error) {
	if path == "" {
		return encodeReport(stdout, report)
	}

	f, err := createReport(path)
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing report %s: %w", path, cerr)
		}
	}()
	return encodeReport(f, report)
}

func encodeReport(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}
