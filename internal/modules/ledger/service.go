// Package ledger values the portfolio, executes rebalancing orders against
// FIFO tax lots, and assesses the monthly tax consequences under the German
// partial-exemption regime.
package ledger

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/domain"
)

// amountEpsilon absorbs float64 noise when comparing currency amounts.
const amountEpsilon = 1e-6

// Service applies one month of portfolio activity at a time. It owns no
// state of its own; all mutable state lives in the trial's Portfolio and
// TaxContext.
type Service struct {
	log zerolog.Logger
}

// NewService creates a new ledger service.
func NewService(log zerolog.Logger) *Service {
	return &Service{
		log: log.With().Str("service", "ledger").Logger(),
	}
}

// MonthResult is the cash and tax outcome of one applied month.
type MonthResult struct {
	// CashDelta is the net cash effect: sell proceeds plus distributions,
	// minus buy costs, minus tax due.
	CashDelta float64
	// TaxDue is the tax settled this month.
	TaxDue float64
	// Transactions are the ledger entries appended this month, in execution
	// order.
	Transactions []domain.LoggedTransaction
}

// realization is one taxable result, already reduced by the partial
// exemption, tagged with its loss-offsetting category.
type realization struct {
	equity  bool
	taxable float64
}

// ApplyMonth runs the full monthly ledger sequence: revalue assets from
// factor levels, assess the January prepayment, execute the pending class
// orders against FIFO lots, pay distributions, then net the month's taxable
// results against the loss carryforwards and the annual allowance.
//
// A returned error means the trial is inconsistent and must be aborted; the
// ledger never clamps an oversized sale to what is available.
func (s *Service) ApplyMonth(
	month int,
	p *domain.Portfolio,
	tax *domain.TaxContext,
	profile domain.TaxProfile,
	orders []domain.Order,
	levels map[string]float64,
) (MonthResult, error) {
	var res MonthResult
	var realized []realization

	s.Revalue(p, levels)

	// Calendar year boundary: month 0 is a January.
	if month%12 == 0 {
		tax.AllowanceRemaining = profile.AnnualAllowance
		realized = append(realized, s.assessPrepayments(month, p, profile, &res)...)
	}

	sold, err := s.executeOrders(month, p, orders, &res)
	if err != nil {
		return MonthResult{}, err
	}
	realized = append(realized, sold...)

	realized = append(realized, s.payDistributions(month, p, &res)...)

	due := settle(tax, profile, realized)
	res.TaxDue = due
	res.CashDelta -= due

	return res, nil
}

// Revalue derives every asset's price from its linked factor level. Assets
// without a linked factor keep their last price. Revaluing twice with the
// same levels is a no-op, so callers may value the portfolio ahead of
// ApplyMonth to plan against current prices.
func (s *Service) Revalue(p *domain.Portfolio, levels map[string]float64) {
	for i := range p.Assets {
		a := &p.Assets[i]
		level, ok := levels[a.FactorID]
		if !ok {
			continue
		}
		scale := a.PriceScale
		if scale == 0 {
			scale = 1
		}
		a.Price = level * scale
	}
}

// executeOrders routes class-level orders to individual assets and executes
// them. Sells walk the class's assets in ascending id order; buys go to the
// class's active-savings asset. Order amounts are currency: negative sells,
// positive buys.
func (s *Service) executeOrders(
	month int,
	p *domain.Portfolio,
	orders []domain.Order,
	res *MonthResult,
) ([]realization, error) {
	var realized []realization

	for _, o := range orders {
		switch {
		case o.Amount < 0:
			sold, err := s.sellClass(month, p, o.ClassID, -o.Amount, res)
			if err != nil {
				return nil, err
			}
			realized = append(realized, sold...)
		case o.Amount > 0:
			s.buyClass(month, p, o.ClassID, o.Amount, res)
		}
	}
	return realized, nil
}

// sellClass liquidates the requested currency amount from a class, draining
// assets in ascending id order. Availability is checked against the whole
// class before the first lot is touched.
func (s *Service) sellClass(
	month int,
	p *domain.Portfolio,
	classID string,
	amount float64,
	res *MonthResult,
) ([]realization, error) {
	assets := s.classAssets(p, classID)

	sellable := 0.0
	for _, a := range assets {
		sellable += a.MarketValue()
	}
	if amount > sellable+amountEpsilon {
		return nil, fmt.Errorf("class %s: selling %.2f of %.2f available: %w",
			classID, amount, sellable, domain.ErrInsufficientLotQuantity)
	}

	var realized []realization
	need := amount
	for _, a := range assets {
		if need <= amountEpsilon {
			break
		}
		value := a.MarketValue()
		if value <= amountEpsilon {
			continue
		}

		var quantity float64
		if need >= value-amountEpsilon {
			quantity = a.Quantity // full drain, avoid float residue
		} else {
			quantity = need / a.Price
		}

		gain, tx, err := sellLots(a, month, quantity)
		if err != nil {
			return nil, err
		}
		res.CashDelta += tx.Value()
		res.Transactions = append(res.Transactions, domain.LoggedTransaction{AssetID: a.ID, Transaction: tx})
		realized = append(realized, realization{
			equity:  a.TaxType.IsEquityCategory(),
			taxable: gain * (1 - a.TaxType.PartialExemptionRate()),
		})
		need -= tx.Value()
	}
	return realized, nil
}

// buyClass routes a contribution to the class's active-savings asset. A class
// without one absorbs no new money; the cash simply stays uninvested.
func (s *Service) buyClass(month int, p *domain.Portfolio, classID string, amount float64, res *MonthResult) {
	for _, a := range s.classAssets(p, classID) {
		if !a.ActiveSavings || a.Price <= 0 {
			continue
		}
		tx := buyLot(a, month, amount)
		res.CashDelta -= tx.Value()
		res.Transactions = append(res.Transactions, domain.LoggedTransaction{AssetID: a.ID, Transaction: tx})
		return
	}
	s.log.Warn().Str("class", classID).Float64("amount", amount).
		Msg("buy order for class without active savings asset, skipping")
}

// classAssets returns pointers to the class's assets in ascending id order.
func (s *Service) classAssets(p *domain.Portfolio, classID string) []*domain.Asset {
	var assets []*domain.Asset
	for i := range p.Assets {
		if p.Assets[i].ClassID == classID {
			assets = append(assets, &p.Assets[i])
		}
	}
	sort.Slice(assets, func(a, b int) bool { return assets[a].ID < assets[b].ID })
	return assets
}

// payDistributions credits each distributing asset's monthly payout to cash
// and accrues it toward the year's prepayment offset.
func (s *Service) payDistributions(month int, p *domain.Portfolio, res *MonthResult) []realization {
	var realized []realization
	for i := range p.Assets {
		a := &p.Assets[i]
		if a.DistributionYield <= 0 {
			continue
		}
		amount := a.MarketValue() * a.DistributionYield / 12
		if amount <= amountEpsilon {
			continue
		}
		tx := domain.Transaction{Month: month, Kind: domain.TransactionDistribution, Amount: amount}
		a.Transactions = append(a.Transactions, tx)
		a.DistributionsYTD += amount
		res.CashDelta += amount
		res.Transactions = append(res.Transactions, domain.LoggedTransaction{AssetID: a.ID, Transaction: tx})
		realized = append(realized, realization{
			equity:  a.TaxType.IsEquityCategory(),
			taxable: amount * (1 - a.TaxType.PartialExemptionRate()),
		})
	}
	return realized
}

// assessPrepayments applies the January deemed-disposal assessment
// (Vorabpauschale): base yield on the holding's value, reduced by the prior
// year's actual distributions, floored at zero. The prepayment creates a
// taxable amount without consuming lots or moving quantity.
func (s *Service) assessPrepayments(
	month int,
	p *domain.Portfolio,
	profile domain.TaxProfile,
	res *MonthResult,
) []realization {
	if profile.BaseRate <= 0 {
		for i := range p.Assets {
			p.Assets[i].DistributionsYTD = 0
		}
		return nil
	}

	var realized []realization
	for i := range p.Assets {
		a := &p.Assets[i]
		// 70% of the base rate, per the statutory assessment formula.
		base := a.MarketValue() * profile.BaseRate * 0.7
		amount := math.Max(0, base-a.DistributionsYTD)
		a.DistributionsYTD = 0
		if amount <= amountEpsilon {
			continue
		}
		tx := domain.Transaction{Month: month, Kind: domain.TransactionPrepayment, Amount: amount}
		a.Transactions = append(a.Transactions, tx)
		res.Transactions = append(res.Transactions, domain.LoggedTransaction{AssetID: a.ID, Transaction: tx})
		realized = append(realized, realization{
			equity:  a.TaxType.IsEquityCategory(),
			taxable: amount * (1 - a.TaxType.PartialExemptionRate()),
		})
	}
	return realized
}

// settle nets the month's taxable results against the two loss-carryforward
// buckets and the remaining allowance, and returns the tax due.
//
// Equity losses offset only equity gains; general losses offset everything
// else. Losses never cross buckets and unused losses carry forward without
// expiry.
func settle(tax *domain.TaxContext, profile domain.TaxProfile, realized []realization) float64 {
	equityNet := 0.0
	generalNet := 0.0
	for _, r := range realized {
		if r.equity {
			equityNet += r.taxable
		} else {
			generalNet += r.taxable
		}
	}

	equityNet = offsetCarryforward(equityNet, &tax.EquityLossCarryforward)
	generalNet = offsetCarryforward(generalNet, &tax.GeneralLossCarryforward)

	taxBase := equityNet + generalNet
	if taxBase <= 0 {
		return 0
	}

	allowed := math.Min(taxBase, tax.AllowanceRemaining)
	tax.AllowanceRemaining -= allowed
	taxBase -= allowed

	return taxBase * profile.CapitalGainsRate
}

// offsetCarryforward nets one category's result against its bucket. A
// negative result grows the bucket and yields zero; a positive result is
// reduced by the bucket, which shrinks by the amount used.
func offsetCarryforward(net float64, carryforward *float64) float64 {
	if net < 0 {
		*carryforward += -net
		return 0
	}
	used := math.Min(net, *carryforward)
	*carryforward -= used
	return net - used
}
