package simulation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/horizon/internal/domain"
	"github.com/aristath/horizon/internal/modules/lifecycle"
)

// Options controls a Monte Carlo run.
type Options struct {
	// Trials is the number of independent paths to simulate.
	Trials int
	// Seed drives all randomness. The same seed, scenario and trial count
	// reproduce the run exactly, regardless of worker count.
	Seed uint64
	// Workers bounds the number of concurrent trials. Zero means GOMAXPROCS.
	Workers int
	// KeepPaths retains every trial's full month-by-month trace. Off, only
	// terminal values are kept, which bounds memory on large runs.
	KeepPaths bool
}

// TrialResult is the outcome of one trial. Err is set when the trial aborted
// on a runtime inconsistency; other trials are unaffected.
type TrialResult struct {
	Trial      int                  `json:"trial"`
	FinalValue float64              `json:"final_value"`
	FinalCash  float64              `json:"final_cash"`
	Months     []domain.MonthRecord `json:"months,omitempty"`
	Err        string               `json:"error,omitempty"`
}

// Summary aggregates the terminal wealth distribution across completed
// trials.
type Summary struct {
	Trials    int     `json:"trials"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Months    int     `json:"months"`
	Mean      float64 `json:"mean"`
	P5        float64 `json:"p5"`
	P50       float64 `json:"p50"`
	P95       float64 `json:"p95"`
}

// RunResult is the full outcome of a Monte Carlo run.
type RunResult struct {
	Summary Summary       `json:"summary"`
	Trials  []TrialResult `json:"trials"`
}

// Runner executes Monte Carlo trials of one validated scenario.
type Runner struct {
	scn      *domain.Scenario
	schedule *lifecycle.Schedule
	opts     Options
	log      zerolog.Logger
}

// NewRunner validates nothing: the scenario must already have passed
// configuration validation, which also built the schedule.
func NewRunner(scn *domain.Scenario, schedule *lifecycle.Schedule, opts Options, log zerolog.Logger) *Runner {
	if opts.Trials <= 0 {
		opts.Trials = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return &Runner{
		scn:      scn,
		schedule: schedule,
		opts:     opts,
		log:      log.With().Str("component", "runner").Logger(),
	}
}

// Run fans the trials out across the worker pool and aggregates the terminal
// distribution. Cancellation is honored at trial granularity: trials already
// running finish their path, pending ones are skipped, and ctx.Err() is
// returned.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	results := make([]TrialResult, r.opts.Trials)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for trial := 0; trial < r.opts.Trials; trial++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[trial] = r.runTrial(trial)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &RunResult{
		Summary: summarize(results, r.scn.Months),
		Trials:  results,
	}
	r.log.Info().
		Int("trials", res.Summary.Trials).
		Int("failed", res.Summary.Failed).
		Float64("median_final_value", res.Summary.P50).
		Msg("run complete")
	return res, nil
}

// runTrial simulates one full path. A runtime error aborts this trial only;
// it is recorded on the result instead of propagating.
func (r *Runner) runTrial(trial int) TrialResult {
	result := TrialResult{Trial: trial}

	// Two independent deterministic streams per trial: one for factor
	// shocks, one for event timing.
	factorSrc := rand.NewPCG(r.opts.Seed, uint64(trial)*2)
	eventRng := rand.New(rand.NewPCG(r.opts.Seed, uint64(trial)*2+1))

	stepper, err := NewStepper(r.scn, r.schedule, factorSrc, r.log)
	if err != nil {
		result.Err = err.Error()
		return result
	}
	state := NewTrialState(r.scn, eventRng)

	for month := 0; month < r.scn.Months; month++ {
		record, err := stepper.Step(month, state)
		if err != nil {
			r.log.Warn().Int("trial", trial).Err(err).Msg("trial aborted")
			result.Err = err.Error()
			result.Months = nil
			return result
		}
		if r.opts.KeepPaths {
			result.Months = append(result.Months, record)
		}
	}

	result.FinalValue = state.Portfolio.TotalValue() + state.Cash
	result.FinalCash = state.Cash
	return result
}

// summarize computes the terminal wealth distribution over completed trials.
func summarize(results []TrialResult, months int) Summary {
	s := Summary{Trials: len(results), Months: months}

	var finals []float64
	for _, tr := range results {
		if tr.Err != "" {
			s.Failed++
			continue
		}
		finals = append(finals, tr.FinalValue)
	}
	s.Completed = len(finals)
	if len(finals) == 0 {
		return s
	}

	sort.Float64s(finals)
	s.Mean = stat.Mean(finals, nil)
	s.P5 = stat.Quantile(0.05, stat.Empirical, finals, nil)
	s.P50 = stat.Quantile(0.50, stat.Empirical, finals, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, finals, nil)
	return s
}

// ErrNoCompletedTrials indicates every trial in a run aborted.
var ErrNoCompletedTrials = errors.New("no trial completed")

// Validate is a convenience wrapper for callers that only need the summary
// to be meaningful.
func (r *RunResult) Validate() error {
	if r.Summary.Completed == 0 {
		return fmt.Errorf("%d trials failed: %w", r.Summary.Failed, ErrNoCompletedTrials)
	}
	return nil
}
