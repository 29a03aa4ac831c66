// Package rebalancing turns the month's resolved allocation targets, drift
// and liquidity demand into class-level trade orders.
package rebalancing

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/domain"
	"github.com/aristath/horizon/internal/modules/lifecycle"
)

// weightTolerance is the allocation-weight noise floor below which a class is
// considered on target regardless of the strategy's drift threshold.
const weightTolerance = 1e-6

// Engine computes rebalancing orders. It is stateless; all inputs arrive per
// month.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a new rebalancing engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log: log.With().Str("service", "rebalancing").Logger(),
	}
}

// Inputs is the month's trading context.
type Inputs struct {
	// ClassValues is the current market value per asset class.
	ClassValues map[string]float64
	// TotalValue is the portfolio's total market value.
	TotalValue float64
	// FreeCash is the cash above the reserve target, available for buys.
	FreeCash float64
	// LiquidationDemand is the amount the cashflow planner needs raised. It
	// produces forced sells that bypass the drift and minimum-size guards.
	LiquidationDemand float64
	// Phase carries the resolved targets and strategy knobs.
	Phase lifecycle.ResolvedPhase
}

// ComputeOrders returns the month's class orders: forced sells covering the
// liquidation demand first, then drift-correcting sells and buys. Target
// weights apply to the investable base, portfolio value plus free cash, so
// surplus savings flow into the portfolio instead of piling up. Classes are
// visited in sorted id order so output is deterministic.
func (e *Engine) ComputeOrders(in Inputs) []domain.Order {
	targets := blendWeights(in.Phase)
	classes := classUnion(targets, in.ClassValues)
	strategy := in.Phase.Strategy
	base := in.TotalValue + in.FreeCash

	// Remaining sellable value per class, decremented as orders are emitted.
	remaining := make(map[string]float64, len(classes))
	for _, c := range classes {
		remaining[c] = in.ClassValues[c]
	}

	var orders []domain.Order
	orders = append(orders, e.forcedSells(in, base, targets, classes, remaining)...)

	for _, class := range classes {
		targetValue := targets[class] * base
		diff := targetValue - remaining[class]
		weightDiff := 0.0
		if base > 0 {
			weightDiff = math.Abs(diff) / base
		}
		if weightDiff < weightTolerance || weightDiff < strategy.DriftThreshold {
			continue
		}
		if math.Abs(diff) < strategy.MinTransactionAmount {
			continue
		}

		if diff < 0 {
			orders = append(orders, domain.Order{ClassID: class, Amount: diff})
			remaining[class] += diff
			continue
		}

		// Buys are funded from free cash only and go to the class's
		// active-savings asset downstream.
		amount := math.Min(diff, in.FreeCash)
		if amount < strategy.MinTransactionAmount {
			continue
		}
		orders = append(orders, domain.Order{ClassID: class, Amount: amount})
		in.FreeCash -= amount
	}

	return orders
}

// forcedSells raises the liquidation demand: over-target classes are drained
// first, largest excess first, then the rest contribute in id order. Forced
// orders ignore the drift threshold and the minimum transaction size.
func (e *Engine) forcedSells(
	in Inputs,
	base float64,
	targets map[string]float64,
	classes []string,
	remaining map[string]float64,
) []domain.Order {
	demand := in.LiquidationDemand
	if demand <= 0 {
		return nil
	}

	type excess struct {
		class  string
		amount float64
	}
	var over []excess
	for _, c := range classes {
		if e := remaining[c] - targets[c]*base; e > 0 {
			over = append(over, excess{class: c, amount: e})
		}
	}
	sort.Slice(over, func(a, b int) bool {
		if over[a].amount != over[b].amount {
			return over[a].amount > over[b].amount
		}
		return over[a].class < over[b].class
	})

	var orders []domain.Order
	sell := func(class, reason string, available float64) {
		if demand <= 0 || available <= 0 {
			return
		}
		amount := math.Min(demand, available)
		orders = append(orders, domain.Order{ClassID: class, Amount: -amount, Forced: true})
		remaining[class] -= amount
		demand -= amount
		e.log.Debug().Str("class", class).Str("source", reason).
			Float64("amount", amount).Msg("forced sell for liquidity")
	}

	for _, o := range over {
		sell(o.class, "over_target", o.amount)
	}
	for _, c := range classes {
		sell(c, "pro_rata", remaining[c])
	}

	if demand > 0 {
		e.log.Warn().Float64("uncovered", demand).
			Msg("liquidation demand exceeds portfolio value")
	}
	return orders
}

// blendWeights returns the month's effective target weights. Inside a glide
// path the active and next phase weights are blended linearly, with the blend
// fraction clamped to [0, 1].
func blendWeights(phase lifecycle.ResolvedPhase) map[string]float64 {
	if phase.NextWeights == nil || phase.GlidepathMonths <= 0 {
		return phase.Weights
	}

	t := float64(phase.MonthsIntoGlidepath) / float64(phase.GlidepathMonths)
	t = math.Max(0, math.Min(1, t))

	blended := make(map[string]float64, len(phase.Weights))
	for class, w := range phase.Weights {
		blended[class] = (1 - t) * w
	}
	for class, w := range phase.NextWeights {
		blended[class] += t * w
	}
	return blended
}

// classUnion returns the sorted union of target and held classes.
func classUnion(targets, values map[string]float64) []string {
	seen := make(map[string]bool, len(targets)+len(values))
	var classes []string
	for c := range targets {
		if !seen[c] {
			seen[c] = true
			classes = append(classes, c)
		}
	}
	for c := range values {
		if !seen[c] {
			seen[c] = true
			classes = append(classes, c)
		}
	}
	sort.Strings(classes)
	return classes
}
