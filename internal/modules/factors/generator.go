// Package factors generates correlated monthly paths for the scenario's
// stochastic economic factors.
package factors

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/aristath/horizon/internal/domain"
)

// MonthDt is the monthly discretization step of the stochastic models.
const MonthDt = 1.0 / 12.0

// Generator advances a fixed set of economic factors by one month at a time.
//
// Determinism contract: factors are ordered by id (ascending) when the
// correlation matrix is assembled, and the standard-normal vector is drawn in
// that same order every month. For a fixed seed and configuration the whole
// path is exactly reproducible; permuting the input slice does not change the
// path of any individual factor.
type Generator struct {
	order  []int // shock position -> index into the factor slice
	lower  *mat.TriDense
	normal distuv.Normal
	log    zerolog.Logger
}

// NewGenerator assembles and factorizes the correlation matrix for the given
// factor set and returns a generator bound to the slice ordering of factors.
// The Cholesky factorization happens here, once per trial, so a non
// positive-definite matrix is caught before any month is simulated.
func NewGenerator(
	factors []domain.EconomicFactor,
	correlations []domain.CorrelationSpec,
	src rand.Source,
	log zerolog.Logger,
) (*Generator, error) {
	sym, order, err := buildMatrix(factors, correlations)
	if err != nil {
		return nil, err
	}

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return nil, fmt.Errorf("factorizing %dx%d correlation matrix: %w",
			len(factors), len(factors), domain.ErrInvalidCorrelationMatrix)
	}

	lower := mat.NewTriDense(len(factors), mat.Lower, nil)
	chol.LTo(lower)

	return &Generator{
		order: order,
		lower: lower,
		normal: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   src,
		},
		log: log.With().Str("component", "factor_generator").Logger(),
	}, nil
}

// Validate assembles and factorizes the correlation matrix, discarding the
// result. It is the configuration-time check: a mid-run factorization failure
// has no recovery semantics, so scenarios are rejected here instead.
func Validate(factors []domain.EconomicFactor, correlations []domain.CorrelationSpec) error {
	sym, _, err := buildMatrix(factors, correlations)
	if err != nil {
		return err
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return fmt.Errorf("validating correlation matrix: %w", domain.ErrInvalidCorrelationMatrix)
	}
	return nil
}

// Advance draws one month of correlated shocks and updates every factor's
// level in place. The slice must be the one the generator was built for.
func (g *Generator) Advance(factors []domain.EconomicFactor) error {
	n := len(g.order)
	if len(factors) != n {
		return fmt.Errorf("factor count changed mid-run: have %d, want %d", len(factors), n)
	}

	// Independent draws in the fixed (id-sorted) order.
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, g.normal.Rand())
	}

	// Correlated shocks = L·z.
	shocks := mat.NewVecDense(n, nil)
	shocks.MulVec(g.lower, z)

	for pos, idx := range g.order {
		f := &factors[idx]
		next, err := nextLevel(f, shocks.AtVec(pos))
		if err != nil {
			return err
		}
		f.Level = next
	}
	return nil
}

// nextLevel applies one month of the factor's stochastic model.
func nextLevel(f *domain.EconomicFactor, shock float64) (float64, error) {
	switch f.Model {
	case domain.ModelGeometricBrownianMotion:
		// level * exp((mu - sigma^2/2)*dt + sigma*sqrt(dt)*shock)
		exponent := (f.Mu-f.Sigma*f.Sigma/2)*MonthDt + f.Sigma*math.Sqrt(MonthDt)*shock
		return f.Level * math.Exp(exponent), nil
	case domain.ModelOrnsteinUhlenbeck:
		// level + theta*(mu - level)*dt + sigma*sqrt(dt)*shock
		return f.Level + f.Theta*(f.Mu-f.Level)*MonthDt + f.Sigma*math.Sqrt(MonthDt)*shock, nil
	default:
		return 0, fmt.Errorf("unknown stochastic model %q for factor %s", f.Model, f.ID)
	}
}

// buildMatrix assembles the symmetric correlation matrix with unit diagonal,
// pairwise entries clamped to [-1, 1], and factors ordered by id. It returns
// the matrix and the shock-position -> slice-index mapping.
func buildMatrix(
	factors []domain.EconomicFactor,
	correlations []domain.CorrelationSpec,
) (*mat.SymDense, []int, error) {
	n := len(factors)
	if n == 0 {
		return nil, nil, fmt.Errorf("no factors configured")
	}

	// Stable ordering by factor id for reproducibility.
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return factors[order[a]].ID < factors[order[b]].ID
	})

	position := make(map[string]int, n)
	for pos, idx := range order {
		id := factors[idx].ID
		if _, dup := position[id]; dup {
			return nil, nil, fmt.Errorf("duplicate factor id %q", id)
		}
		position[id] = pos
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		sym.SetSym(i, i, 1.0)
	}

	for _, c := range correlations {
		pa, ok := position[c.FactorA]
		if !ok {
			return nil, nil, fmt.Errorf("correlation references unknown factor %q", c.FactorA)
		}
		pb, ok := position[c.FactorB]
		if !ok {
			return nil, nil, fmt.Errorf("correlation references unknown factor %q", c.FactorB)
		}
		if pa == pb {
			return nil, nil, fmt.Errorf("correlation pairs factor %q with itself", c.FactorA)
		}
		coeff := math.Max(-1.0, math.Min(1.0, c.Coefficient))
		sym.SetSym(pa, pb, coeff)
	}

	return sym, order, nil
}
