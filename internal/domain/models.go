// Package domain provides core domain models and types for the household
// finance simulation engine.
package domain

// Currency represents a currency code. The engine carries a single currency
// per scenario; no conversion is performed.
type Currency string

const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
)

// ModelKind identifies the stochastic model driving an economic factor.
type ModelKind string

const (
	// ModelGeometricBrownianMotion is a lognormal multiplicative process with
	// constant drift and volatility. Levels stay strictly positive.
	ModelGeometricBrownianMotion ModelKind = "GeometricBrownianMotion"
	// ModelOrnsteinUhlenbeck is a mean-reverting additive process. Levels may
	// go negative, which is valid for rate-like factors.
	ModelOrnsteinUhlenbeck ModelKind = "OrnsteinUhlenbeck"
)

// EconomicFactor is one stochastic driver of the scenario (an equity index,
// an interest rate, an inflation gauge). It is created once at scenario setup
// and its Level is mutated once per simulated month by the path generator.
type EconomicFactor struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Model ModelKind `json:"model"`
	Mu    float64   `json:"mu"`    // Drift (GBM) or long-run mean (OU)
	Sigma float64   `json:"sigma"` // Volatility
	Theta float64   `json:"theta"` // Mean-reversion speed, ignored for GBM
	Level float64   `json:"level"` // Current level, updated monthly
}

// CorrelationSpec is an unordered pair of factor ids with a Pearson
// coefficient in [-1, 1]. Unspecified pairs default to 0.
type CorrelationSpec struct {
	FactorA     string  `json:"factor_a"`
	FactorB     string  `json:"factor_b"`
	Coefficient float64 `json:"coefficient"`
}

// TaxType classifies a fund for German partial-exemption purposes.
type TaxType string

const (
	TaxTypeEquityFund TaxType = "equity_fund"
	TaxTypeMixedFund  TaxType = "mixed_fund"
	TaxTypeBondFund   TaxType = "bond_fund"
	TaxTypeNone       TaxType = "none"
)

// PartialExemptionRate returns the fraction of realized gains and
// distributions excluded from the tax base for this fund classification
// (InvStG Teilfreistellung: 30% equity funds, 15% mixed funds).
func (t TaxType) PartialExemptionRate() float64 {
	switch t {
	case TaxTypeEquityFund:
		return 0.30
	case TaxTypeMixedFund:
		return 0.15
	default:
		return 0.0
	}
}

// IsEquityCategory reports whether realized results of this tax type are
// tracked against the equity loss-carryforward bucket.
func (t TaxType) IsEquityCategory() bool {
	return t == TaxTypeEquityFund
}

// TransactionKind identifies an entry in an asset's transaction log.
type TransactionKind string

const (
	TransactionBuy          TransactionKind = "buy"
	TransactionSell         TransactionKind = "sell"
	TransactionDistribution TransactionKind = "distribution"
	// TransactionPrepayment is a deemed-disposal prepayment (Vorabpauschale):
	// a taxable amount generated without lot consumption.
	TransactionPrepayment TransactionKind = "prepayment"
)

// Transaction is one immutable entry in an asset's chronologically ordered
// transaction log. Buys and sells carry Quantity and Price; distributions and
// prepayments carry Amount only. The chronological ordering (oldest first) is
// load-bearing for FIFO lot matching.
type Transaction struct {
	Month    int             `json:"month"`
	Kind     TransactionKind `json:"kind"`
	Quantity float64         `json:"quantity,omitempty"`
	Price    float64         `json:"price,omitempty"`
	Amount   float64         `json:"amount,omitempty"`
}

// Value returns the transaction's currency magnitude.
func (t Transaction) Value() float64 {
	if t.Kind == TransactionBuy || t.Kind == TransactionSell {
		return t.Quantity * t.Price
	}
	return t.Amount
}

// Asset is a tax-lot-tracked holding. Its price is derived from the linked
// factor's level; quantity and lot history are per-asset. The transaction log
// is append-only; LotCursor and LotConsumed track FIFO consumption so history
// is never rewritten.
type Asset struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	ClassID string  `json:"class_id"`
	TaxType TaxType `json:"tax_type"`
	// FactorID links the asset's price to an economic factor's level.
	FactorID string `json:"factor_id"`
	// PriceScale maps factor level to asset price (price = level * scale).
	PriceScale float64 `json:"price_scale"`
	// ActiveSavings marks the asset as the destination for new contributions
	// within its asset class.
	ActiveSavings bool `json:"active_savings"`
	// DistributionYield is the annual payout fraction of market value,
	// distributed monthly. Zero for accumulating funds.
	DistributionYield float64 `json:"distribution_yield,omitempty"`

	Transactions []Transaction `json:"transactions"`
	Quantity     float64       `json:"quantity"`
	Price        float64       `json:"price"`

	// LotCursor indexes the oldest transaction with unconsumed buy quantity;
	// LotConsumed is the quantity already matched from that lot.
	LotCursor   int     `json:"lot_cursor"`
	LotConsumed float64 `json:"lot_consumed"`

	// DistributionsYTD accumulates distributions paid in the current calendar
	// year, consumed by the January prepayment assessment.
	DistributionsYTD float64 `json:"distributions_ytd"`
}

// MarketValue returns quantity times current price.
func (a *Asset) MarketValue() float64 {
	return a.Quantity * a.Price
}

// Portfolio is the full set of tax-lot-tracked assets of one trial. It is
// owned exclusively by the simulation loop of that trial.
type Portfolio struct {
	Assets []Asset `json:"assets"`
}

// TotalValue returns the summed market value of all assets.
func (p *Portfolio) TotalValue() float64 {
	total := 0.0
	for i := range p.Assets {
		total += p.Assets[i].MarketValue()
	}
	return total
}

// ValueByClass returns market value aggregated per asset class.
func (p *Portfolio) ValueByClass() map[string]float64 {
	values := make(map[string]float64)
	for i := range p.Assets {
		a := &p.Assets[i]
		values[a.ClassID] += a.MarketValue()
	}
	return values
}

// Clone returns a deep copy, including each asset's transaction log. Each
// Monte Carlo trial works on its own clone.
func (p *Portfolio) Clone() Portfolio {
	assets := make([]Asset, len(p.Assets))
	copy(assets, p.Assets)
	for i := range assets {
		txs := make([]Transaction, len(assets[i].Transactions))
		copy(txs, assets[i].Transactions)
		assets[i].Transactions = txs
	}
	return Portfolio{Assets: assets}
}

// TaxContext carries the two German loss-carryforward buckets and the
// remaining tax-free allowance for the current calendar year. Equity losses
// offset only equity gains; general losses offset any other gain category.
type TaxContext struct {
	GeneralLossCarryforward float64 `json:"general_loss_carryforward"`
	EquityLossCarryforward  float64 `json:"equity_loss_carryforward"`
	AllowanceRemaining      float64 `json:"allowance_remaining"`
}

// TaxProfile holds the parameters of the documented partial-exemption regime.
type TaxProfile struct {
	ID               string  `json:"id"`
	CapitalGainsRate float64 `json:"capital_gains_rate"`
	AnnualAllowance  float64 `json:"annual_allowance"`
	// BaseRate is the deemed-disposal base interest rate (Basiszins) used for
	// the January prepayment assessment. Zero disables prepayments.
	BaseRate float64 `json:"base_rate"`
}

// StrategyProfile holds the behavioural knobs of a lifecycle phase.
type StrategyProfile struct {
	ID string `json:"id"`
	// CashReserveMonths expresses the liquidity buffer target in months of
	// current expenses.
	CashReserveMonths float64 `json:"cash_reserve_months"`
	// DriftThreshold is the allocation-weight deviation (fraction) below
	// which no rebalancing order is emitted.
	DriftThreshold float64 `json:"drift_threshold"`
	// MinTransactionAmount suppresses fee-generating micro-trades.
	MinTransactionAmount float64 `json:"min_transaction_amount"`
	// LookaheadMonths is the window for anticipating known large outflows.
	LookaheadMonths int `json:"lookahead_months"`
}

// AllocationProfile maps asset-class ids to target weights.
type AllocationProfile struct {
	ID      string             `json:"id"`
	Weights map[string]float64 `json:"weights"`
}

// LifecyclePhase describes one stage of the household's life. Phases are
// ordered by start age and contiguous; exactly one is active per month.
type LifecyclePhase struct {
	StartAge            int    `json:"start_age"` // Years
	TaxProfileID        string `json:"tax_profile_id"`
	StrategyProfileID   string `json:"strategy_profile_id"`
	AllocationProfileID string `json:"allocation_profile_id"`
	// ClassOverrides replace individual class weights of the referenced
	// allocation profile for this phase only.
	ClassOverrides map[string]float64 `json:"class_overrides,omitempty"`
	// GlidepathMonths > 0 blends this phase's allocation linearly into the
	// next phase's over the final GlidepathMonths before the transition age.
	GlidepathMonths int `json:"glidepath_months,omitempty"`
}

// CashflowStream is a recurring monthly amount: income positive, expense
// negative. EndMonth < 0 means the stream never ends.
type CashflowStream struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	StartMonth int     `json:"start_month"`
	EndMonth   int     `json:"end_month"`
}

// ActiveIn reports whether the stream applies in the given simulation month.
func (s CashflowStream) ActiveIn(month int) bool {
	if month < s.StartMonth {
		return false
	}
	return s.EndMonth < 0 || month <= s.EndMonth
}

// CashflowEvent is a one-off amount with a target month and an offset
// tolerance. The effective month is drawn once per trial, uniformly in
// [TargetMonth+EarliestOffset, TargetMonth+LatestOffset].
type CashflowEvent struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Amount         float64 `json:"amount"`
	TargetMonth    int     `json:"target_month"`
	EarliestOffset int     `json:"earliest_offset"`
	LatestOffset   int     `json:"latest_offset"`
	// ResolvedMonth is the perturbed effective month, set at trial setup.
	ResolvedMonth int `json:"resolved_month,omitempty"`
}

// Order is a class-level rebalancing instruction: positive amounts buy,
// negative amounts sell. Forced orders raise a liquidation demand and bypass
// the minimum-transaction and drift guards.
type Order struct {
	ClassID string  `json:"class_id"`
	Amount  float64 `json:"amount"`
	Forced  bool    `json:"forced,omitempty"`
}

// LoggedTransaction is one executed ledger entry, annotated with its asset
// for the audit log the engine returns per month.
type LoggedTransaction struct {
	AssetID string `json:"asset_id"`
	Transaction
}

// MonthRecord is the committed outcome of one simulated month.
type MonthRecord struct {
	Month             int                 `json:"month"`
	AgeMonths         int                 `json:"age_months"`
	FactorLevels      map[string]float64  `json:"factor_levels"`
	PortfolioValue    float64             `json:"portfolio_value"`
	Cash              float64             `json:"cash"`
	TaxDue            float64             `json:"tax_due"`
	LiquidationDemand float64             `json:"liquidation_demand"`
	Orders            []Order             `json:"orders,omitempty"`
	Transactions      []LoggedTransaction `json:"transactions,omitempty"`
}

// Scenario is the validated configuration consumed by the engine. It is
// loaded once before a run and held immutable for its duration; each trial
// clones the mutable parts (portfolio, tax context, factor levels, events).
type Scenario struct {
	Name     string   `json:"name"`
	Currency Currency `json:"currency"`
	// StartAgeMonths is the household's age at simulation start.
	StartAgeMonths int `json:"start_age_months"`
	Months         int `json:"months"`

	Factors      []EconomicFactor  `json:"factors"`
	Correlations []CorrelationSpec `json:"correlations"`

	Portfolio   Portfolio  `json:"portfolio"`
	InitialCash float64    `json:"initial_cash"`
	InitialTax  TaxContext `json:"initial_tax"`

	TaxProfiles        []TaxProfile        `json:"tax_profiles"`
	StrategyProfiles   []StrategyProfile   `json:"strategy_profiles"`
	AllocationProfiles []AllocationProfile `json:"allocation_profiles"`
	Phases             []LifecyclePhase    `json:"phases"`

	Streams []CashflowStream `json:"streams"`
	Events  []CashflowEvent  `json:"events"`
}
