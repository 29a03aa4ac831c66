// Package simulation runs Monte Carlo trials of the monthly household
// simulation: factor paths, ledger, cashflow planning and rebalancing wired
// into a single step loop.
package simulation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/domain"
	"github.com/aristath/horizon/internal/modules/cashflow"
	"github.com/aristath/horizon/internal/modules/factors"
	"github.com/aristath/horizon/internal/modules/ledger"
	"github.com/aristath/horizon/internal/modules/lifecycle"
	"github.com/aristath/horizon/internal/modules/rebalancing"
)

// TrialState is the mutable world of one Monte Carlo trial. It is owned
// exclusively by the goroutine running that trial.
type TrialState struct {
	Factors   []domain.EconomicFactor
	Portfolio domain.Portfolio
	Tax       domain.TaxContext
	Events    []domain.CashflowEvent
	Cash      float64
}

// Stepper advances one trial by one month at a time. The same stepper is
// shared across trials; per-trial randomness lives in the generator.
type Stepper struct {
	gen      *factors.Generator
	ledger   *ledger.Service
	planner  *cashflow.Planner
	engine   *rebalancing.Engine
	schedule *lifecycle.Schedule
	scn      *domain.Scenario
	log      zerolog.Logger
}

// NewStepper builds the per-trial step pipeline. src seeds the trial's factor
// shocks; the schedule and scenario are shared immutable state.
func NewStepper(
	scn *domain.Scenario,
	schedule *lifecycle.Schedule,
	src rand.Source,
	log zerolog.Logger,
) (*Stepper, error) {
	gen, err := factors.NewGenerator(scn.Factors, scn.Correlations, src, log)
	if err != nil {
		return nil, fmt.Errorf("building factor generator: %w", err)
	}
	return &Stepper{
		gen:      gen,
		ledger:   ledger.NewService(log),
		planner:  cashflow.NewPlanner(log),
		engine:   rebalancing.NewEngine(log),
		schedule: schedule,
		scn:      scn,
		log:      log.With().Str("component", "stepper").Logger(),
	}, nil
}

// NewTrialState clones the scenario's mutable parts for one trial and draws
// the trial's event timing.
func NewTrialState(scn *domain.Scenario, eventRng *rand.Rand) *TrialState {
	factorsCopy := make([]domain.EconomicFactor, len(scn.Factors))
	copy(factorsCopy, scn.Factors)

	return &TrialState{
		Factors:   factorsCopy,
		Portfolio: scn.Portfolio.Clone(),
		Tax:       scn.InitialTax,
		Events:    cashflow.ResolveEvents(scn.Events, eventRng),
		Cash:      scn.InitialCash,
	}
}

// Step runs one month in its fixed stage order: advance factors, revalue the
// portfolio, net cashflows, compute the month's orders, then apply them
// through the ledger. Orders are computed against the same prices they
// execute at, so a forced sale can never outgrow its class mid-month. The
// returned record is the committed outcome.
func (st *Stepper) Step(month int, state *TrialState) (domain.MonthRecord, error) {
	if err := st.gen.Advance(state.Factors); err != nil {
		return domain.MonthRecord{}, fmt.Errorf("month %d: %w", month, err)
	}
	levels := make(map[string]float64, len(state.Factors))
	for _, f := range state.Factors {
		levels[f.ID] = f.Level
	}

	ageMonths := st.scn.StartAgeMonths + month
	phase := st.schedule.At(ageMonths)

	st.ledger.Revalue(&state.Portfolio, levels)

	plan := st.planner.Plan(month, state.Cash, st.scn.Streams, state.Events, phase.Strategy)
	state.Cash += plan.NetCashflow

	freeCash := math.Max(0, state.Cash-plan.ReserveTarget-plan.AnticipatedOutflow)
	orders := st.engine.ComputeOrders(rebalancing.Inputs{
		ClassValues:       state.Portfolio.ValueByClass(),
		TotalValue:        state.Portfolio.TotalValue(),
		FreeCash:          freeCash,
		LiquidationDemand: plan.LiquidationDemand,
		Phase:             phase,
	})

	ledgerRes, err := st.ledger.ApplyMonth(month, &state.Portfolio, &state.Tax, phase.Tax, orders, levels)
	if err != nil {
		return domain.MonthRecord{}, fmt.Errorf("month %d: %w", month, err)
	}
	state.Cash += ledgerRes.CashDelta

	return domain.MonthRecord{
		Month:             month,
		AgeMonths:         ageMonths,
		FactorLevels:      levels,
		PortfolioValue:    state.Portfolio.TotalValue(),
		Cash:              state.Cash,
		TaxDue:            ledgerRes.TaxDue,
		LiquidationDemand: plan.LiquidationDemand,
		Orders:            orders,
		Transactions:      ledgerRes.Transactions,
	}, nil
}
