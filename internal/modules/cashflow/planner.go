// Package cashflow nets the household's recurring streams and one-off events
// and translates the liquidity policy into a concrete funding demand.
package cashflow

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/domain"
)

// Planner evaluates one month of household cashflows against the active
// strategy's liquidity policy.
type Planner struct {
	log zerolog.Logger
}

// NewPlanner creates a new cashflow planner.
func NewPlanner(log zerolog.Logger) *Planner {
	return &Planner{
		log: log.With().Str("service", "cashflow").Logger(),
	}
}

// MonthPlan is the liquidity picture of one month, before any trading.
type MonthPlan struct {
	// NetCashflow is the signed sum of this month's streams and events.
	NetCashflow float64
	// Expenses is the magnitude of this month's outflows.
	Expenses float64
	// ReserveTarget is the cash buffer the strategy wants to hold, expressed
	// from the current month's expense level.
	ReserveTarget float64
	// AnticipatedOutflow is the summed net outflow of the lookahead window
	// (months after the current one).
	AnticipatedOutflow float64
	// LiquidationDemand is the currency amount the portfolio must raise so
	// that cash covers the reserve target and the anticipated outflows.
	// Zero when cash already suffices.
	LiquidationDemand float64
}

// Plan nets the month's cashflows and computes the liquidation demand. cash
// is the balance before this month's flows are applied.
func (pl *Planner) Plan(
	month int,
	cash float64,
	streams []domain.CashflowStream,
	events []domain.CashflowEvent,
	strategy domain.StrategyProfile,
) MonthPlan {
	var plan MonthPlan

	for _, s := range streams {
		if !s.ActiveIn(month) {
			continue
		}
		plan.NetCashflow += s.Amount
		if s.Amount < 0 {
			plan.Expenses += -s.Amount
		}
	}
	for _, e := range events {
		if e.ResolvedMonth != month {
			continue
		}
		plan.NetCashflow += e.Amount
		if e.Amount < 0 {
			plan.Expenses += -e.Amount
		}
	}

	plan.ReserveTarget = strategy.CashReserveMonths * plan.Expenses

	// Known future outflows inside the lookahead window are funded ahead of
	// time instead of forcing a distressed sale when they land.
	for ahead := 1; ahead <= strategy.LookaheadMonths; ahead++ {
		if net := netAt(month+ahead, streams, events); net < 0 {
			plan.AnticipatedOutflow += -net
		}
	}

	after := cash + plan.NetCashflow
	plan.LiquidationDemand = math.Max(0, plan.ReserveTarget+plan.AnticipatedOutflow-after)

	return plan
}

// netAt returns the signed net cashflow of a single month.
func netAt(month int, streams []domain.CashflowStream, events []domain.CashflowEvent) float64 {
	net := 0.0
	for _, s := range streams {
		if s.ActiveIn(month) {
			net += s.Amount
		}
	}
	for _, e := range events {
		if e.ResolvedMonth == month {
			net += e.Amount
		}
	}
	return net
}

// ResolveEvents draws each event's effective month uniformly inside its
// offset tolerance and returns a copy with ResolvedMonth set. Events are
// drawn in id order so a trial's draws do not depend on configuration order.
func ResolveEvents(events []domain.CashflowEvent, rng *rand.Rand) []domain.CashflowEvent {
	resolved := make([]domain.CashflowEvent, len(events))
	copy(resolved, events)
	sort.Slice(resolved, func(a, b int) bool { return resolved[a].ID < resolved[b].ID })

	for i := range resolved {
		e := &resolved[i]
		lo := e.TargetMonth + e.EarliestOffset
		hi := e.TargetMonth + e.LatestOffset
		if hi < lo {
			lo, hi = hi, lo
		}
		e.ResolvedMonth = lo + rng.IntN(hi-lo+1)
	}
	return resolved
}
