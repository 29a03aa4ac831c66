package rebalancing

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/horizon/internal/domain"
	"github.com/aristath/horizon/internal/modules/lifecycle"
)

func driftedInputs() Inputs {
	return Inputs{
		ClassValues: map[string]float64{"stocks": 70000, "bonds": 30000},
		TotalValue:  100000,
		Phase: lifecycle.ResolvedPhase{
			Weights: map[string]float64{"stocks": 0.6, "bonds": 0.4},
			Strategy: domain.StrategyProfile{
				DriftThreshold:       0.05,
				MinTransactionAmount: 500,
			},
		},
	}
}

func ordersByClass(orders []domain.Order) map[string]domain.Order {
	m := make(map[string]domain.Order)
	for _, o := range orders {
		m[o.ClassID] = o
	}
	return m
}

func TestComputeOrdersSellsDriftedClass(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	orders := e.ComputeOrders(driftedInputs())
	require.Len(t, orders, 1)

	// Stocks are 10% over target; bonds would need cash to buy.
	assert.Equal(t, "stocks", orders[0].ClassID)
	assert.InDelta(t, -10000.0, orders[0].Amount, 1e-6)
	assert.False(t, orders[0].Forced)
}

func TestComputeOrdersWithinDriftThreshold(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := driftedInputs()
	in.ClassValues = map[string]float64{"stocks": 62000, "bonds": 38000}

	// 2% drift, 5% threshold: hold everything.
	assert.Empty(t, e.ComputeOrders(in))
}

func TestComputeOrdersMinTransactionGuard(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := driftedInputs()
	in.ClassValues = map[string]float64{"stocks": 60300, "bonds": 39700}
	in.Phase.Strategy.DriftThreshold = 0.001

	// 300 currency drift clears the threshold but not the minimum size.
	assert.Empty(t, e.ComputeOrders(in))
}

func TestComputeOrdersInvestsSurplusCash(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := Inputs{
		ClassValues: map[string]float64{"stocks": 50000, "bonds": 50000},
		TotalValue:  100000,
		FreeCash:    20000,
		Phase: lifecycle.ResolvedPhase{
			Weights: map[string]float64{"stocks": 0.6, "bonds": 0.4},
			Strategy: domain.StrategyProfile{
				DriftThreshold:       0.05,
				MinTransactionAmount: 500,
			},
		},
	}

	// Base 120000: stocks want 72000 (22000 short, capped by cash), bonds
	// want 48000 (2000 over, below threshold).
	orders := e.ComputeOrders(in)
	require.Len(t, orders, 1)
	assert.Equal(t, "stocks", orders[0].ClassID)
	assert.InDelta(t, 20000.0, orders[0].Amount, 1e-6)
}

func TestComputeOrdersSplitsCashAcrossClasses(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := Inputs{
		ClassValues: map[string]float64{"bonds": 0, "stocks": 0},
		TotalValue:  0,
		FreeCash:    10000,
		Phase: lifecycle.ResolvedPhase{
			Weights:  map[string]float64{"stocks": 0.6, "bonds": 0.4},
			Strategy: domain.StrategyProfile{DriftThreshold: 0.01, MinTransactionAmount: 100},
		},
	}

	m := ordersByClass(e.ComputeOrders(in))
	assert.InDelta(t, 4000.0, m["bonds"].Amount, 1e-6)
	assert.InDelta(t, 6000.0, m["stocks"].Amount, 1e-6)
}

func TestForcedSellsPreferOverTargetClasses(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := driftedInputs()
	in.LiquidationDemand = 8000

	orders := e.ComputeOrders(in)
	require.Len(t, orders, 1)

	// Stocks are 10000 over target and absorb the whole demand.
	assert.Equal(t, "stocks", orders[0].ClassID)
	assert.True(t, orders[0].Forced)
	assert.InDelta(t, -8000.0, orders[0].Amount, 1e-6)
}

func TestForcedSellsSpillBeyondExcess(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := driftedInputs()
	in.Phase.Strategy.DriftThreshold = 1 // isolate forced selling
	in.LiquidationDemand = 25000

	orders := e.ComputeOrders(in)
	require.Len(t, orders, 2)

	// 10000 of excess from stocks first, then the remainder in id order.
	assert.Equal(t, "stocks", orders[0].ClassID)
	assert.InDelta(t, -10000.0, orders[0].Amount, 1e-6)
	assert.Equal(t, "bonds", orders[1].ClassID)
	assert.InDelta(t, -15000.0, orders[1].Amount, 1e-6)
	assert.True(t, orders[1].Forced)
}

func TestForcedSellsNeverExceedHoldings(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := driftedInputs()
	in.Phase.Strategy.DriftThreshold = 1
	in.LiquidationDemand = 500000

	total := 0.0
	for _, o := range e.ComputeOrders(in) {
		assert.True(t, o.Forced)
		total += -o.Amount
	}
	assert.InDelta(t, 100000.0, total, 1e-6)
}

func TestForcedSellsBypassMinimumSize(t *testing.T) {
	e := NewEngine(zerolog.Nop())
	in := driftedInputs()
	in.Phase.Strategy.DriftThreshold = 1
	in.LiquidationDemand = 50

	orders := e.ComputeOrders(in)
	require.Len(t, orders, 1)
	assert.InDelta(t, -50.0, orders[0].Amount, 1e-6)
	assert.True(t, orders[0].Forced)
}

func TestBlendWeightsGlidepath(t *testing.T) {
	phase := lifecycle.ResolvedPhase{
		Weights:     map[string]float64{"stocks": 0.9, "bonds": 0.1},
		NextWeights: map[string]float64{"stocks": 0.4, "bonds": 0.6},
	}

	tests := []struct {
		name       string
		into       int
		span       int
		wantStocks float64
	}{
		{name: "at start", into: 0, span: 120, wantStocks: 0.9},
		{name: "midway", into: 60, span: 120, wantStocks: 0.65},
		{name: "at transition", into: 120, span: 120, wantStocks: 0.4},
		{name: "clamped past end", into: 200, span: 120, wantStocks: 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phase.MonthsIntoGlidepath = tt.into
			phase.GlidepathMonths = tt.span
			blended := blendWeights(phase)
			assert.InDelta(t, tt.wantStocks, blended["stocks"], 1e-9)
			assert.InDelta(t, 1.0, blended["stocks"]+blended["bonds"], 1e-9)
		})
	}
}

func TestBlendWeightsOutsideGlidepath(t *testing.T) {
	phase := lifecycle.ResolvedPhase{
		Weights: map[string]float64{"stocks": 0.9, "bonds": 0.1},
	}
	assert.InDelta(t, 0.9, blendWeights(phase)["stocks"], 1e-9)
}
