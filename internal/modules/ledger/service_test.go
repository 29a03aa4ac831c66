package ledger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/horizon/internal/domain"
)

func fundAsset(id string, taxType domain.TaxType) domain.Asset {
	return domain.Asset{
		ID:      id,
		ClassID: "stocks",
		TaxType: taxType,
		Price:   100,
	}
}

func TestSellLotsFIFO(t *testing.T) {
	a := fundAsset("etf_world", domain.TaxTypeEquityFund)
	a.Price = 100
	buyLot(&a, 0, 1000) // 10 units @ 100
	a.Price = 120
	buyLot(&a, 1, 1200) // 10 units @ 120

	a.Price = 150
	gain, tx, err := sellLots(&a, 2, 15)
	require.NoError(t, err)

	// Proceeds 15*150, basis 10*100 + 5*120.
	assert.InDelta(t, 650.0, gain, 1e-9)
	assert.Equal(t, domain.TransactionSell, tx.Kind)
	assert.InDelta(t, 5.0, a.Quantity, 1e-9)
	assert.Equal(t, 1, a.LotCursor)
	assert.InDelta(t, 5.0, a.LotConsumed, 1e-9)
}

func TestSellLotsSplitEqualsSingle(t *testing.T) {
	build := func() domain.Asset {
		a := fundAsset("etf_world", domain.TaxTypeEquityFund)
		a.Price = 100
		buyLot(&a, 0, 1000)
		a.Price = 120
		buyLot(&a, 1, 1200)
		a.Price = 150
		return a
	}

	single := build()
	gainSingle, _, err := sellLots(&single, 2, 20)
	require.NoError(t, err)

	split := build()
	gainA, _, err := sellLots(&split, 2, 15)
	require.NoError(t, err)
	gainB, _, err := sellLots(&split, 2, 5)
	require.NoError(t, err)

	assert.InDelta(t, gainSingle, gainA+gainB, 1e-9)
	assert.InDelta(t, single.Quantity, split.Quantity, 1e-9)
}

func TestSellLotsInsufficientQuantity(t *testing.T) {
	a := fundAsset("etf_world", domain.TaxTypeEquityFund)
	buyLot(&a, 0, 2000) // 20 units

	before := a
	_, _, err := sellLots(&a, 1, 25)
	require.ErrorIs(t, err, domain.ErrInsufficientLotQuantity)

	// Failed sale must leave the asset untouched.
	assert.Equal(t, before.Quantity, a.Quantity)
	assert.Len(t, a.Transactions, 1)
	assert.Equal(t, before.LotCursor, a.LotCursor)
}

func TestSellLotsNoCostBasis(t *testing.T) {
	a := fundAsset("legacy_holding", domain.TaxTypeEquityFund)
	a.Quantity = 5 // held units with no recorded buy lots

	_, _, err := sellLots(&a, 0, 5)
	require.ErrorIs(t, err, domain.ErrNoCostBasisAvailable)
	assert.Empty(t, a.Transactions)
}

func TestSettleCategorySeparation(t *testing.T) {
	profile := domain.TaxProfile{CapitalGainsRate: 0.26375}

	t.Run("equity loss offsets later equity gain", func(t *testing.T) {
		tax := domain.TaxContext{}
		due := settle(&tax, profile, []realization{{equity: true, taxable: -500}})
		assert.Zero(t, due)
		assert.InDelta(t, 500.0, tax.EquityLossCarryforward, 1e-9)

		due = settle(&tax, profile, []realization{{equity: true, taxable: 300}})
		assert.Zero(t, due)
		assert.InDelta(t, 200.0, tax.EquityLossCarryforward, 1e-9)
	})

	t.Run("general loss does not offset equity gain", func(t *testing.T) {
		tax := domain.TaxContext{GeneralLossCarryforward: 1000}
		due := settle(&tax, profile, []realization{{equity: true, taxable: 400}})
		assert.InDelta(t, 400*0.26375, due, 1e-9)
		assert.InDelta(t, 1000.0, tax.GeneralLossCarryforward, 1e-9)
	})

	t.Run("loss total is conserved", func(t *testing.T) {
		tax := domain.TaxContext{}
		settle(&tax, profile, []realization{
			{equity: true, taxable: -300},
			{equity: false, taxable: -200},
		})
		settle(&tax, profile, []realization{
			{equity: true, taxable: 100},
			{equity: false, taxable: 50},
		})
		total := tax.EquityLossCarryforward + tax.GeneralLossCarryforward
		assert.InDelta(t, 350.0, total, 1e-9)
	})
}

func TestSettleAllowance(t *testing.T) {
	profile := domain.TaxProfile{CapitalGainsRate: 0.25}
	tax := domain.TaxContext{AllowanceRemaining: 1000}

	due := settle(&tax, profile, []realization{{equity: false, taxable: 1500}})
	assert.InDelta(t, 500*0.25, due, 1e-9)
	assert.Zero(t, tax.AllowanceRemaining)
}

func TestApplyMonthSellWithPartialExemption(t *testing.T) {
	svc := NewService(zerolog.Nop())

	a := fundAsset("etf_world", domain.TaxTypeEquityFund)
	a.FactorID = "equity"
	a.Price = 100
	buyLot(&a, 0, 10000) // 100 units @ 100
	p := domain.Portfolio{Assets: []domain.Asset{a}}

	tax := domain.TaxContext{}
	profile := domain.TaxProfile{CapitalGainsRate: 0.25}
	orders := []domain.Order{{ClassID: "stocks", Amount: -6000}}

	// Factor level 150 revalues the asset to 150 before the sale.
	res, err := svc.ApplyMonth(5, &p, &tax, profile, orders, map[string]float64{"equity": 150})
	require.NoError(t, err)

	// 40 units sold, gain 40*(150-100) = 2000, 30% exempt, 25% rate.
	assert.InDelta(t, 2000*0.70*0.25, res.TaxDue, 1e-6)
	assert.InDelta(t, 6000-res.TaxDue, res.CashDelta, 1e-6)
	assert.InDelta(t, 60.0, p.Assets[0].Quantity, 1e-9)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, "etf_world", res.Transactions[0].AssetID)
}

func TestApplyMonthClassSellDrainsAscendingID(t *testing.T) {
	svc := NewService(zerolog.Nop())

	a := fundAsset("a_fund", domain.TaxTypeEquityFund)
	buyLot(&a, 0, 1000)
	b := fundAsset("b_fund", domain.TaxTypeEquityFund)
	buyLot(&b, 0, 1000)
	p := domain.Portfolio{Assets: []domain.Asset{b, a}} // deliberately unsorted

	tax := domain.TaxContext{AllowanceRemaining: 1e9}
	orders := []domain.Order{{ClassID: "stocks", Amount: -1500}}

	res, err := svc.ApplyMonth(1, &p, &tax, domain.TaxProfile{}, orders, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1500.0, res.CashDelta, 1e-6)

	// a_fund drained fully first, then b_fund partially.
	for i := range p.Assets {
		switch p.Assets[i].ID {
		case "a_fund":
			assert.Zero(t, p.Assets[i].Quantity)
		case "b_fund":
			assert.InDelta(t, 5.0, p.Assets[i].Quantity, 1e-9)
		}
	}
}

func TestApplyMonthClassSellExceedsHoldings(t *testing.T) {
	svc := NewService(zerolog.Nop())

	a := fundAsset("etf_world", domain.TaxTypeEquityFund)
	buyLot(&a, 0, 1000)
	p := domain.Portfolio{Assets: []domain.Asset{a}}

	tax := domain.TaxContext{}
	orders := []domain.Order{{ClassID: "stocks", Amount: -5000}}

	_, err := svc.ApplyMonth(1, &p, &tax, domain.TaxProfile{}, orders, nil)
	require.ErrorIs(t, err, domain.ErrInsufficientLotQuantity)
	// Pre-checked against the whole class, so nothing executed.
	assert.Len(t, p.Assets[0].Transactions, 1)
}

func TestApplyMonthBuyRoutesToActiveSavings(t *testing.T) {
	svc := NewService(zerolog.Nop())

	legacy := fundAsset("a_legacy", domain.TaxTypeEquityFund)
	active := fundAsset("b_active", domain.TaxTypeEquityFund)
	active.ActiveSavings = true
	p := domain.Portfolio{Assets: []domain.Asset{legacy, active}}

	tax := domain.TaxContext{}
	orders := []domain.Order{{ClassID: "stocks", Amount: 500}}

	res, err := svc.ApplyMonth(1, &p, &tax, domain.TaxProfile{}, orders, nil)
	require.NoError(t, err)
	assert.InDelta(t, -500.0, res.CashDelta, 1e-6)

	for i := range p.Assets {
		switch p.Assets[i].ID {
		case "a_legacy":
			assert.Empty(t, p.Assets[i].Transactions)
		case "b_active":
			require.Len(t, p.Assets[i].Transactions, 1)
			assert.Equal(t, domain.TransactionBuy, p.Assets[i].Transactions[0].Kind)
		}
	}
}

func TestApplyMonthDistributions(t *testing.T) {
	svc := NewService(zerolog.Nop())

	a := fundAsset("dist_fund", domain.TaxTypeBondFund)
	a.DistributionYield = 0.024 // 0.2% per month
	buyLot(&a, 0, 10000)        // 100 units @ 100
	p := domain.Portfolio{Assets: []domain.Asset{a}}

	tax := domain.TaxContext{AllowanceRemaining: 1000}
	res, err := svc.ApplyMonth(3, &p, &tax, domain.TaxProfile{CapitalGainsRate: 0.25}, nil, nil)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, res.CashDelta, 1e-6)
	assert.InDelta(t, 20.0, p.Assets[0].DistributionsYTD, 1e-6)
	assert.InDelta(t, 980.0, tax.AllowanceRemaining, 1e-6)
}

func TestApplyMonthJanuaryPrepayment(t *testing.T) {
	svc := NewService(zerolog.Nop())

	a := fundAsset("acc_fund", domain.TaxTypeEquityFund)
	buyLot(&a, 0, 100000) // value 100k
	p := domain.Portfolio{Assets: []domain.Asset{a}}

	tax := domain.TaxContext{}
	profile := domain.TaxProfile{
		CapitalGainsRate: 0.25,
		AnnualAllowance:  0,
		BaseRate:         0.02,
	}

	// Month 12 is a January: allowance resets and the prepayment is assessed.
	res, err := svc.ApplyMonth(12, &p, &tax, profile, nil, nil)
	require.NoError(t, err)

	// Base 100000*0.02*0.7 = 1400, 30% exempt, 25% rate.
	assert.InDelta(t, 1400*0.70*0.25, res.TaxDue, 1e-6)
	// Prepayment moves no cash besides the tax itself.
	assert.InDelta(t, -res.TaxDue, res.CashDelta, 1e-6)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, domain.TransactionPrepayment, res.Transactions[0].Kind)
	// Held quantity untouched.
	assert.InDelta(t, 1000.0, p.Assets[0].Quantity, 1e-9)
}

func TestApplyMonthAllowanceResetsInJanuary(t *testing.T) {
	svc := NewService(zerolog.Nop())
	p := domain.Portfolio{}
	tax := domain.TaxContext{AllowanceRemaining: 0}
	profile := domain.TaxProfile{AnnualAllowance: 1000}

	_, err := svc.ApplyMonth(24, &p, &tax, profile, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, tax.AllowanceRemaining, 1e-9)

	tax.AllowanceRemaining = 400
	_, err = svc.ApplyMonth(25, &p, &tax, profile, nil, nil)
	require.NoError(t, err)
	assert.InDelta(t, 400.0, tax.AllowanceRemaining, 1e-9)
}
